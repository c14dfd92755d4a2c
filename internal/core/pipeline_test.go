package core

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatai/chatai-backend/internal/store"
)

type fakeStream struct {
	fragments []string
	err       error // returned after fragments are drained; io.EOF when nil
	recvCount int
	closed    bool
}

func (f *fakeStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	f.recvCount++
	if len(f.fragments) == 0 {
		if f.err != nil {
			return openai.ChatCompletionStreamResponse{}, f.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	fragment := f.fragments[0]
	f.fragments = f.fragments[1:]
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: fragment}},
		},
	}, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	stream  *fakeStream
	err     error
	called  bool
	history []store.Message
}

func (f *fakeOpener) OpenStream(_ context.Context, history []store.Message) (CompletionStream, error) {
	f.called = true
	f.history = history
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type fakeSink struct {
	frames    []string
	failAfter int // error once this many frames were accepted; -1 means never
}

func (f *fakeSink) WriteFrame(fragment string) error {
	if f.failAfter >= 0 && len(f.frames) >= f.failAfter {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, fragment)
	return nil
}

func newChatTestService(t *testing.T, opener StreamOpener) (*ChatService, *store.SQLiteStore, *store.User) {
	t.Helper()
	dbStore, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbStore.Close() })

	svc := NewChatService(dbStore, opener, zap.NewNop())
	user, err := svc.Register("alice", "secret123")
	require.NoError(t, err)
	return svc, dbStore, user
}

func TestStreamChatPersistsFullTurn(t *testing.T) {
	stream := &fakeStream{fragments: []string{"Hi", "", " there"}}
	opener := &fakeOpener{stream: stream}
	svc, _, user := newChatTestService(t, opener)
	sink := &fakeSink{failAfter: -1}

	err := svc.StreamChat(context.Background(), user.ID, "hello", "", sink)
	require.NoError(t, err)

	// Empty fragments are neither forwarded nor accumulated.
	require.Equal(t, []string{"Hi", " there"}, sink.frames)
	require.True(t, stream.closed)

	// History sent upstream is the persisted user turn.
	require.Equal(t, []store.Message{{Role: store.RoleUser, Content: "hello"}}, opener.history)

	id, err := svc.LatestConversationID(user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := svc.GetMessages(user.ID, id)
	require.NoError(t, err)
	require.Equal(t, []store.Message{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: "Hi there"},
	}, msgs)
}

func TestStreamChatAppendsToExistingConversation(t *testing.T) {
	opener := &fakeOpener{stream: &fakeStream{fragments: []string{"first reply"}}}
	svc, _, user := newChatTestService(t, opener)

	err := svc.StreamChat(context.Background(), user.ID, "hello", "", &fakeSink{failAfter: -1})
	require.NoError(t, err)
	id, err := svc.LatestConversationID(user.ID)
	require.NoError(t, err)

	opener.stream = &fakeStream{fragments: []string{"second reply"}}
	err = svc.StreamChat(context.Background(), user.ID, "and again", id, &fakeSink{failAfter: -1})
	require.NoError(t, err)

	// Second turn streamed with the full prior transcript as context.
	require.Len(t, opener.history, 3)

	msgs, err := svc.GetMessages(user.ID, id)
	require.NoError(t, err)
	require.Equal(t, []store.Message{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: "first reply"},
		{Role: store.RoleUser, Content: "and again"},
		{Role: store.RoleAssistant, Content: "second reply"},
	}, msgs)

	conversations, err := svc.ListConversations(user.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
}

func TestStreamChatUpstreamErrorDiscardsPartialReply(t *testing.T) {
	stream := &fakeStream{fragments: []string{"a", "b"}, err: errors.New("boom")}
	opener := &fakeOpener{stream: stream}
	svc, _, user := newChatTestService(t, opener)
	sink := &fakeSink{failAfter: -1}

	err := svc.StreamChat(context.Background(), user.ID, "hello", "", sink)
	require.ErrorIs(t, err, ErrUpstreamFailure)

	// The client saw exactly the fragments delivered before the failure.
	require.Equal(t, []string{"a", "b"}, sink.frames)
	require.True(t, stream.closed)

	// The partial assistant reply was not persisted.
	id, err := svc.LatestConversationID(user.ID)
	require.NoError(t, err)
	msgs, err := svc.GetMessages(user.ID, id)
	require.NoError(t, err)
	require.Equal(t, []store.Message{{Role: store.RoleUser, Content: "hello"}}, msgs)
}

func TestStreamChatOpenFailureKeepsUserMessage(t *testing.T) {
	opener := &fakeOpener{err: errors.New("connection refused")}
	svc, _, user := newChatTestService(t, opener)
	sink := &fakeSink{failAfter: -1}

	err := svc.StreamChat(context.Background(), user.ID, "hello", "", sink)
	require.ErrorIs(t, err, ErrUpstreamFailure)
	require.Empty(t, sink.frames)

	// The user's message is not rolled back.
	id, err := svc.LatestConversationID(user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	msgs, err := svc.GetMessages(user.ID, id)
	require.NoError(t, err)
	require.Equal(t, []store.Message{{Role: store.RoleUser, Content: "hello"}}, msgs)
}

func TestStreamChatClientDisconnectStopsConsuming(t *testing.T) {
	stream := &fakeStream{fragments: []string{"a", "b", "c", "d", "e"}}
	opener := &fakeOpener{stream: stream}
	svc, _, user := newChatTestService(t, opener)
	sink := &fakeSink{failAfter: 2}

	err := svc.StreamChat(context.Background(), user.ID, "hello", "", sink)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUpstreamFailure)

	require.Equal(t, []string{"a", "b"}, sink.frames)
	require.True(t, stream.closed)
	// One Recv per forwarded fragment plus the one whose write failed.
	require.Equal(t, 3, stream.recvCount)

	id, err := svc.LatestConversationID(user.ID)
	require.NoError(t, err)
	msgs, err := svc.GetMessages(user.ID, id)
	require.NoError(t, err)
	require.Equal(t, []store.Message{{Role: store.RoleUser, Content: "hello"}}, msgs)
}

func TestStreamChatCancelledContext(t *testing.T) {
	stream := &fakeStream{fragments: []string{"a", "b"}}
	opener := &fakeOpener{stream: stream}
	svc, _, user := newChatTestService(t, opener)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.StreamChat(ctx, user.ID, "hello", "", &fakeSink{failAfter: -1})
	require.Error(t, err)
	require.True(t, stream.closed)
	require.Zero(t, stream.recvCount, "no fragments should be consumed after cancellation")
}

func TestStreamChatStoreFailureAbortsBeforeUpstream(t *testing.T) {
	opener := &fakeOpener{stream: &fakeStream{}}
	svc, dbStore, user := newChatTestService(t, opener)

	require.NoError(t, dbStore.Close())

	err := svc.StreamChat(context.Background(), user.ID, "hello", "", &fakeSink{failAfter: -1})
	require.ErrorIs(t, err, ErrStoreFailure)
	require.False(t, opener.called, "no upstream call may happen if the user message was not persisted")
}

func TestStreamChatEmptyCompletion(t *testing.T) {
	stream := &fakeStream{}
	opener := &fakeOpener{stream: stream}
	svc, _, user := newChatTestService(t, opener)
	sink := &fakeSink{failAfter: -1}

	err := svc.StreamChat(context.Background(), user.ID, "hello", "", sink)
	require.NoError(t, err)
	require.Empty(t, sink.frames)

	// Completion still persists the (empty) assistant turn exactly once.
	id, err := svc.LatestConversationID(user.ID)
	require.NoError(t, err)
	msgs, err := svc.GetMessages(user.ID, id)
	require.NoError(t, err)
	require.Equal(t, []store.Message{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: ""},
	}, msgs)
}

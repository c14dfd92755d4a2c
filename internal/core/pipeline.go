package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/qmuntal/stateless"
	"go.uber.org/zap"

	"github.com/chatai/chatai-backend/internal/store"
)

// FrameSink receives incremental assistant fragments as they arrive from the
// upstream provider. A write error means the client is gone.
type FrameSink interface {
	WriteFrame(fragment string) error
}

// FSM states for a single chat turn.
var (
	statePersistUserMessage      stateless.State = "PersistUserMessage"
	stateOpenStream              stateless.State = "OpenStream"
	stateStreaming               stateless.State = "Streaming"
	statePersistAssistantMessage stateless.State = "PersistAssistantMessage"
	stateDone                    stateless.State = "Done"
	stateFailed                  stateless.State = "Failed"
)

// FSM triggers.
var (
	triggerTurnStarted           stateless.Trigger = "TurnStarted"
	triggerUserMessageSaved      stateless.Trigger = "UserMessageSaved"
	triggerStreamOpened          stateless.Trigger = "StreamOpened"
	triggerStreamCompleted       stateless.Trigger = "StreamCompleted"
	triggerAssistantMessageSaved stateless.Trigger = "AssistantMessageSaved"
	triggerFailed                stateless.Trigger = "Failed"
)

// StreamChat runs one chat turn: persist the user message, open a streaming
// completion seeded with the full conversation history, forward each fragment
// to the sink as it arrives, then persist the accumulated assistant reply
// exactly once after the stream completes.
//
// The turn is a state machine so the failure rule is an explicit transition:
// if the upstream stream errors mid-flight or the client disconnects, the turn
// ends in Failed and the partial reply is never persisted.
func (s *ChatService) StreamChat(ctx context.Context, userID int64, message, conversationID string, sink FrameSink) error {
	type turnContext struct {
		conversationID string
		stream         CompletionStream
		reply          strings.Builder
		lastErr        error
	}
	turn := &turnContext{conversationID: conversationID}

	fsm := stateless.NewStateMachine(statePersistUserMessage)

	fsm.Configure(statePersistUserMessage).
		// Reentry so the initial Fire invokes OnEntry for the starting state.
		PermitReentry(triggerTurnStarted).
		OnEntry(func(_ context.Context, _ ...any) error {
			id, err := s.dbStore.AppendTurn(userID, store.RoleUser, message, turn.conversationID)
			if err != nil {
				turn.lastErr = fmt.Errorf("%w: saving user message: %v", ErrStoreFailure, err)
				return fsm.Fire(triggerFailed)
			}
			turn.conversationID = id
			return fsm.Fire(triggerUserMessageSaved)
		}).
		Permit(triggerUserMessageSaved, stateOpenStream).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateOpenStream).
		OnEntry(func(_ context.Context, _ ...any) error {
			history, err := s.dbStore.GetMessages(userID, turn.conversationID)
			if err != nil {
				turn.lastErr = fmt.Errorf("%w: loading history: %v", ErrStoreFailure, err)
				return fsm.Fire(triggerFailed)
			}
			stream, err := s.llm.OpenStream(ctx, history)
			if err != nil {
				turn.lastErr = fmt.Errorf("%w: opening completion stream: %v", ErrUpstreamFailure, err)
				return fsm.Fire(triggerFailed)
			}
			turn.stream = stream
			return fsm.Fire(triggerStreamOpened)
		}).
		Permit(triggerStreamOpened, stateStreaming).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(stateStreaming).
		OnEntry(func(_ context.Context, _ ...any) error {
			defer turn.stream.Close()
			for {
				if ctx.Err() != nil {
					turn.lastErr = fmt.Errorf("client disconnected: %w", ctx.Err())
					return fsm.Fire(triggerFailed)
				}
				resp, err := turn.stream.Recv()
				if errors.Is(err, io.EOF) {
					return fsm.Fire(triggerStreamCompleted)
				}
				if err != nil {
					turn.lastErr = fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
					return fsm.Fire(triggerFailed)
				}
				if len(resp.Choices) == 0 {
					continue
				}
				fragment := resp.Choices[0].Delta.Content
				if fragment == "" {
					continue
				}
				// Forward before accumulating; the client must see every
				// fragment that ends up in the persisted reply.
				if err := sink.WriteFrame(fragment); err != nil {
					turn.lastErr = fmt.Errorf("client disconnected: %w", err)
					return fsm.Fire(triggerFailed)
				}
				turn.reply.WriteString(fragment)
			}
		}).
		Permit(triggerStreamCompleted, statePersistAssistantMessage).
		Permit(triggerFailed, stateFailed)

	fsm.Configure(statePersistAssistantMessage).
		OnEntry(func(_ context.Context, _ ...any) error {
			if _, err := s.dbStore.AppendTurn(userID, store.RoleAssistant, turn.reply.String(), turn.conversationID); err != nil {
				turn.lastErr = fmt.Errorf("%w: saving assistant message: %v", ErrStoreFailure, err)
				return fsm.Fire(triggerFailed)
			}
			return fsm.Fire(triggerAssistantMessageSaved)
		}).
		Permit(triggerAssistantMessageSaved, stateDone).
		Permit(triggerFailed, stateFailed)

	if err := fsm.Fire(triggerTurnStarted); err != nil {
		return fmt.Errorf("chat turn state machine: %w", err)
	}

	if fsm.MustState() != stateDone {
		if turn.lastErr == nil {
			turn.lastErr = errors.New("chat turn ended in unexpected state")
		}
		s.logger.Warn("chat turn failed",
			zap.Int64("user_id", userID),
			zap.String("conversation_id", turn.conversationID),
			zap.Error(turn.lastErr))
		return turn.lastErr
	}
	return nil
}

package core

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatai/chatai-backend/internal/auth"
	"github.com/chatai/chatai-backend/internal/store"
)

var (
	// ErrInvalidCredentials covers both unknown username and wrong password,
	// so callers cannot enumerate users.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStoreFailure       = errors.New("store failure")
	ErrUpstreamFailure    = errors.New("upstream provider failure")
)

type ChatService struct {
	dbStore *store.SQLiteStore
	llm     StreamOpener
	logger  *zap.Logger
}

func NewChatService(db *store.SQLiteStore, llm StreamOpener, logger *zap.Logger) *ChatService {
	return &ChatService{
		dbStore: db,
		llm:     llm,
		logger:  logger,
	}
}

func (s *ChatService) Register(username, password string) (*store.User, error) {
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user, err := s.dbStore.CreateUser(username, hashed)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: creating user: %v", ErrStoreFailure, err)
	}
	return user, nil
}

func (s *ChatService) Authenticate(username, password string) (*store.User, error) {
	user, err := s.dbStore.GetUserByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up user: %v", ErrStoreFailure, err)
	}
	if user == nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *ChatService) ListConversations(userID int64) ([]store.ConversationSummary, error) {
	conversations, err := s.dbStore.ListConversations(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %v", ErrStoreFailure, err)
	}
	return conversations, nil
}

func (s *ChatService) GetMessages(userID int64, conversationID string) ([]store.Message, error) {
	messages, err := s.dbStore.GetMessages(userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading messages: %v", ErrStoreFailure, err)
	}
	return messages, nil
}

func (s *ChatService) LatestConversationID(userID int64) (string, error) {
	id, err := s.dbStore.LatestConversationID(userID)
	if err != nil {
		return "", fmt.Errorf("%w: reading latest conversation: %v", ErrStoreFailure, err)
	}
	return id, nil
}

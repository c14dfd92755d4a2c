package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chatai/chatai-backend/internal/auth"
	"github.com/chatai/chatai-backend/internal/core"
	"github.com/chatai/chatai-backend/internal/store"
)

type contextKey string

const claimsContextKey contextKey = "claims"

type APIHandler struct {
	chatService *core.ChatService
	tokens      *auth.TokenService
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, tokens *auth.TokenService, logger *zap.Logger) *APIHandler {
	return &APIHandler{chatService: cs, tokens: tokens, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// JWTAuthMiddleware guards every route behind a bearer token. A missing,
// malformed, invalid or expired token is rejected identically.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		// A header like just "Bearer" has no token element and is malformed.
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header")
			return
		}

		claims, ok := h.tokens.Validate(parts[1])
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsContextKey).(*auth.Claims)
	return claims
}

func (h *APIHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the ChatAI API"})
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.chatService.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			writeError(w, http.StatusBadRequest, "Username already exists")
			return
		}
		h.logger.Error("failed to register user", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.chatService.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, core.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.logger.Error("failed to authenticate user", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Int64("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user":         user,
	})
}

// GetChatHandler returns the full message sequence of one conversation. The
// owning user comes from the verified token claims, so a conversation id alone
// is never enough to read another user's messages; a missing or foreign
// conversation is an empty list.
func (h *APIHandler) GetChatHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	conversationID := r.URL.Query().Get("conversation_id")

	messages, err := h.chatService.GetMessages(claims.UserID, conversationID)
	if err != nil {
		h.logger.Error("failed to get messages", zap.Int64("user_id", claims.UserID),
			zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get chat history")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *APIHandler) GetConversationsListHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	conversations, err := h.chatService.ListConversations(claims.UserID)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Int64("user_id", claims.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}
	if conversations == nil {
		conversations = []store.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatHandler runs one chat turn and relays the assistant reply as an SSE
// stream. SSE headers are written lazily on the first fragment, so failures
// before any output still produce a plain error response.
func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "Message cannot be empty")
		return
	}

	sink, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	err := h.chatService.StreamChat(r.Context(), claims.UserID, req.Message, req.ConversationID, sink)
	if err != nil {
		if sink.wroteHeader {
			// Frames already went out; all we can do is stop the stream.
			h.logger.Warn("chat stream aborted", zap.Int64("user_id", claims.UserID), zap.Error(err))
			return
		}
		if errors.Is(err, core.ErrUpstreamFailure) {
			writeError(w, http.StatusBadGateway, "Upstream provider unavailable")
			return
		}
		h.logger.Error("failed to process chat turn", zap.Int64("user_id", claims.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to process chat message")
		return
	}

	// A completion with zero fragments still ends as a valid, empty stream.
	sink.writeHeader()
}

func (h *APIHandler) GetLatestIDHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	id, err := h.chatService.LatestConversationID(claims.UserID)
	if err != nil {
		h.logger.Error("failed to get latest conversation id", zap.Int64("user_id", claims.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get latest conversation")
		return
	}

	// With no conversations the body is a bare JSON null, not an object.
	if id == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// VerifyTokenHandler re-states what the middleware already proved; kept for
// clients that poll token validity.
func (h *APIHandler) VerifyTokenHandler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"decoded_token": map[string]any{
			"id":       claims.UserID,
			"username": claims.Username,
			"exp":      claims.ExpiresAt.Unix(),
		},
	})
}

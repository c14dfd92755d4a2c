package core

import (
	"context"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chatai/chatai-backend/internal/config"
	"github.com/chatai/chatai-backend/internal/store"
)

// CompletionStream is the minimal subset of the provider stream used by the
// chat pipeline; it is easy to fake in tests.
type CompletionStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// StreamOpener opens a streaming completion seeded with conversation history.
type StreamOpener interface {
	OpenStream(ctx context.Context, history []store.Message) (CompletionStream, error)
}

// LLMService talks to an OpenAI-compatible provider.
type LLMService struct {
	client *openai.Client
	model  string
}

func NewLLMService(cfg *config.Config) *LLMService {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}
	return &LLMService{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.OpenAIModel,
	}
}

// OpenStream starts a streaming chat completion with the conversation history
// supplied verbatim as prompt context.
func (s *LLMService) OpenStream(ctx context.Context, history []store.Message) (CompletionStream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: messages,
		// A literal 0 would be dropped by omitempty; the smallest nonzero
		// float keeps deterministic sampling on the wire.
		Temperature: math.SmallestNonzeroFloat32,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

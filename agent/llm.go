package agent

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pkg/errors"
)

// ErrGenerationFailure wraps any backend failure during suggestion
// generation. Callers treat it as "no suggestion", never as fatal.
var ErrGenerationFailure = errors.New("suggestion generation failed")

// Generator produces a completion for a system prompt plus recent
// conversation turns.
type Generator interface {
	Generate(ctx context.Context, system string, turns []ConversationTurn) (string, error)
}

// OpenAIGenerator calls the chat-completions API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

type GeneratorOption func(*OpenAIGenerator)

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) GeneratorOption {
	return func(g *OpenAIGenerator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) GeneratorOption {
	return func(g *OpenAIGenerator) { g.temperature = t }
}

func NewOpenAIGenerator(apiKey, model string, opts ...GeneratorOption) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	g := &OpenAIGenerator{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   500,
		temperature: 0.3,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system string, turns []ConversationTurn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, turn := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: turn.Speaker + ": " + turn.Text,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", errors.Wrap(ErrGenerationFailure, err.Error())
	}
	if len(resp.Choices) == 0 {
		return "", errors.Wrap(ErrGenerationFailure, "empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

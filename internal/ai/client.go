package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"ragchat/internal/config"
)

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationOptions are the sampling parameters of one model call.
type GenerationOptions struct {
	Temperature     float64
	MaxTokens       int
	TopP            float64
	PresencePenalty float64
	Stop            []string
}

// ChatModel is the contract of the language-model endpoint.
type ChatModel interface {
	Complete(ctx context.Context, messages []ChatMessage, opts GenerationOptions) (string, error)
	StreamComplete(ctx context.Context, messages []ChatMessage, opts GenerationOptions, onChunk func(string) error) error
}

// Client talks to any OpenAI-compatible server (vLLM, TGI, llama.cpp,
// OpenAI itself) for chat and embeddings.
type Client struct {
	api            *openai.Client
	model          string
	embeddingModel string
}

func NewClient(cfg config.LLMConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	return &Client{
		api:            openai.NewClientWithConfig(oc),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}
}

func (c *Client) request(messages []ChatMessage, opts GenerationOptions, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:           c.model,
		Messages:        msgs,
		MaxTokens:       opts.MaxTokens,
		Temperature:     float32(opts.Temperature),
		TopP:            float32(opts.TopP),
		PresencePenalty: float32(opts.PresencePenalty),
		Stop:            opts.Stop,
		Stream:          stream,
	}
}

func (c *Client) Complete(ctx context.Context, messages []ChatMessage, opts GenerationOptions) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.request(messages, opts, false))
	if err != nil {
		return "", fmt.Errorf("llm completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty llm choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamComplete calls onChunk for every non-empty delta. An error from
// onChunk stops reading and is returned unchanged.
func (c *Client) StreamComplete(ctx context.Context, messages []ChatMessage, opts GenerationOptions, onChunk func(string) error) error {
	stream, err := c.api.CreateChatCompletionStream(ctx, c.request(messages, opts, true))
	if err != nil {
		return fmt.Errorf("llm stream request failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("llm stream receive failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		text := resp.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		if err := onChunk(text); err != nil {
			return err
		}
	}
}

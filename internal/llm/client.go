package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient implements Provider against any OpenAI-compatible Chat
// Completions endpoint. OpenAI, OpenRouter and Ollama differ only in their
// client configuration.
type ChatClient struct {
	client    *openai.Client
	name      string
	model     string
	maxTokens int
}

// NewChatClient creates a provider named name that sends requests through cfg.
func NewChatClient(name string, cfg openai.ClientConfig, model string, maxTokens int) *ChatClient {
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &ChatClient{
		client:    openai.NewClientWithConfig(cfg),
		name:      name,
		model:     model,
		maxTokens: maxTokens,
	}
}

func (p *ChatClient) Name() string {
	return p.name
}

func (p *ChatClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	}

	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
	}, nil
}

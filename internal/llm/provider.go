package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/covera-ai/covera/config"
)

// Provider is the contract the chat loop and the research pipeline consume.
type Provider interface {
	// Generate runs a single completion and returns the text.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns prompt/completion token usage.
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// Chat runs a multi-message completion with tool definitions and
	// returns the raw response message plus token usage.
	Chat(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, int64, int64, error)

	// ChatStream opens a streaming completion. The caller consumes the
	// returned stream and must Close it.
	ChatStream(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool) (*openai.ChatCompletionStream, error)

	// CalculateCost estimates the cost of a call in dollars.
	CalculateCost(model string, inputTokens, outputTokens int64) (float64, error)
}

// OpenAIProvider implements Provider over any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
	models map[string]config.LLMModel
}

// NewOpenAIProvider wires a provider from its config block.
func NewOpenAIProvider(pc config.LLMProvider) (*OpenAIProvider, error) {
	if pc.APIKey == "" {
		return nil, fmt.Errorf("llm provider: missing api key")
	}
	cc := openai.DefaultConfig(pc.APIKey)
	if pc.BaseURL != "" {
		cc.BaseURL = pc.BaseURL
	}
	timeout := pc.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cc.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cc),
		models: pc.Models,
	}, nil
}

func (p *OpenAIProvider) apiName(model string) string {
	if m, ok := p.models[model]; ok && m.APIName != "" {
		return m.APIName
	}
	return model
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	text, _, _, err := p.GenerateWithTokens(ctx, prompt, model, options)
	return text, err
}

func (p *OpenAIProvider) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	req := openai.ChatCompletionRequest{
		Model: p.apiName(model),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	applyOptions(&req, options)
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("llm completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("llm completion: empty choices")
	}
	return resp.Choices[0].Message.Content,
		int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens), nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, int64, int64, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.apiName(model),
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return openai.ChatCompletionMessage{}, 0, 0, fmt.Errorf("llm chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, 0, 0, fmt.Errorf("llm chat: empty choices")
	}
	return resp.Choices[0].Message,
		int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens), nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool) (*openai.ChatCompletionStream, error) {
	return p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         p.apiName(model),
		Messages:      messages,
		Tools:         tools,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
}

func (p *OpenAIProvider) CalculateCost(model string, inputTokens, outputTokens int64) (float64, error) {
	m, ok := p.models[model]
	if !ok {
		return 0, fmt.Errorf("unknown model %q", model)
	}
	return float64(inputTokens)/1000*m.CostPer1K + float64(outputTokens)/1000*m.CostPer1KOutput, nil
}

func applyOptions(req *openai.ChatCompletionRequest, options map[string]interface{}) {
	if options == nil {
		return
	}
	if v, ok := options["temperature"].(float64); ok {
		req.Temperature = float32(v)
	}
	if v, ok := options["max_tokens"].(int); ok {
		req.MaxTokens = v
	}
	if v, ok := options["system"].(string); ok && v != "" {
		req.Messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: v},
		}, req.Messages...)
	}
	if v, ok := options["json"].(bool); ok && v {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
}

package llmprovider

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// OpenAIConfig configures the OpenAI chat-completion provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// OpenAIProvider implements Provider against the official OpenAI SDK.
type OpenAIProvider struct {
	client openaisdk.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider builds a provider bound to cfg, defaulting the model
// when unset.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmprovider: OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openaisdk.ChatModelGPT4oMini)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client: openaisdk.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (p *OpenAIProvider) Key() string { return "openai:" + p.cfg.Model }

func (p *OpenAIProvider) params(req Request) openaisdk.ChatCompletionNewParams {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(req.UserPrompt))

	params := openaisdk.ChatCompletionNewParams{
		Messages: messages,
		Model:    openaisdk.ChatModel(p.cfg.Model),
	}

	temperature := p.cfg.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	if temperature > 0 {
		params.Temperature = param.NewOpt(temperature)
	}

	maxTokens := p.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(maxTokens)
	}
	return params
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return "", fmt.Errorf("llmprovider: openai generate: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("llmprovider: openai returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) GenerateStream(ctx context.Context, req Request, onChunk func(StreamChunk) error) error {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		if len(event.Choices) == 0 {
			continue
		}
		if delta := event.Choices[0].Delta.Content; delta != "" {
			if err := onChunk(StreamChunk{Text: delta}); err != nil {
				return err
			}
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("llmprovider: openai stream: %w", err)
	}
	return onChunk(StreamChunk{Done: true})
}

// Package openai implements provider.Completer and provider.Embedder against
// the OpenAI API (or any compatible endpoint via a custom base URL).
package openai

import (
	"context"
	"errors"

	"github.com/gtonic/counsel/pkg/provider"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

var (
	_ provider.Completer = (*Completer)(nil)
	_ provider.Embedder  = (*Embedder)(nil)
)

type Config struct {
	Token   string
	BaseURL string

	Limiter *rate.Limiter
}

func (c *Config) options() []option.RequestOption {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
	}

	if c.Token != "" {
		opts = append(opts, option.WithAPIKey(c.Token))
	}

	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}

	return opts
}

type Completer struct {
	model string

	client  openai.Client
	limiter *rate.Limiter
}

func NewCompleter(model string, config *Config) (*Completer, error) {
	if model == "" {
		return nil, errors.New("missing model")
	}

	if config == nil {
		config = new(Config)
	}

	return &Completer{
		model: model,

		client:  openai.NewClient(config.options()...),
		limiter: config.Limiter,
	}, nil
}

func (c *Completer) Complete(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
	if options == nil {
		options = new(provider.CompleteOptions)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
	}

	if options.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*options.MaxTokens))
	}

	if options.Temperature != nil {
		params.Temperature = openai.Float(float64(*options.Temperature))
	}

	for _, m := range messages {
		switch m.Role {
		case provider.MessageRoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Text()))

		case provider.MessageRoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(m.Text()))

		case provider.MessageRoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Text()))
		}
	}

	if options.Stream != nil {
		return c.completeStream(ctx, params, options)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)

	if err != nil {
		return nil, convertError(err)
	}

	result := &provider.Completion{
		ID:    completion.ID,
		Model: c.model,

		Usage: &provider.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}

	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]

		result.Reason = convertReason(choice.FinishReason)

		result.Message = &provider.Message{
			Role:    provider.MessageRoleAssistant,
			Content: []provider.Content{provider.TextContent(choice.Message.Content)},
		}
	}

	return result, nil
}

func (c *Completer) completeStream(ctx context.Context, params openai.ChatCompletionNewParams, options *provider.CompleteOptions) (*provider.Completion, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	var id, text string
	var reason provider.CompletionReason

	for stream.Next() {
		chunk := stream.Current()

		id = chunk.ID

		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]

		if choice.FinishReason != "" {
			reason = convertReason(choice.FinishReason)
		}

		if choice.Delta.Content == "" {
			continue
		}

		text += choice.Delta.Content

		completion := provider.Completion{
			ID:    id,
			Model: c.model,

			Message: &provider.Message{
				Role:    provider.MessageRoleAssistant,
				Content: []provider.Content{provider.TextContent(choice.Delta.Content)},
			},
		}

		if err := options.Stream(ctx, completion); err != nil {
			return nil, err
		}
	}

	if err := stream.Err(); err != nil {
		return nil, convertError(err)
	}

	return &provider.Completion{
		ID:    id,
		Model: c.model,

		Reason: reason,

		Message: &provider.Message{
			Role:    provider.MessageRoleAssistant,
			Content: []provider.Content{provider.TextContent(text)},
		},
	}, nil
}

type Embedder struct {
	model string

	client  openai.Client
	limiter *rate.Limiter
}

func NewEmbedder(model string, config *Config) (*Embedder, error) {
	if model == "" {
		return nil, errors.New("missing model")
	}

	if config == nil {
		config = new(Config)
	}

	return &Embedder{
		model: model,

		client:  openai.NewClient(config.options()...),
		limiter: config.Limiter,
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) (*provider.Embedding, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),

		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})

	if err != nil {
		return nil, convertError(err)
	}

	result := &provider.Embedding{
		Usage: &provider.Usage{
			InputTokens: int(resp.Usage.PromptTokens),
		},
	}

	for _, data := range resp.Data {
		embedding := make([]float32, len(data.Embedding))

		for i, v := range data.Embedding {
			embedding[i] = float32(v)
		}

		result.Embeddings = append(result.Embeddings, embedding)
	}

	return result, nil
}

func convertReason(reason string) provider.CompletionReason {
	switch reason {
	case "stop":
		return provider.CompletionReasonStop

	case "length":
		return provider.CompletionReasonLength
	}

	return ""
}

func convertError(err error) error {
	var apierr *openai.Error

	if errors.As(err, &apierr) {
		return provider.NewError("openai", provider.ErrorKindFromStatus(apierr.StatusCode), err)
	}

	return err
}

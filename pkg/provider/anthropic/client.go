// Package anthropic implements a provider.Completer against the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"

	"github.com/gtonic/counsel/pkg/provider"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

var _ provider.Completer = (*Completer)(nil)

type Completer struct {
	model string

	client anthropic.Client

	limiter *rate.Limiter

	maxTokens int64
}

type Option func(*Completer)

func WithToken(token string) Option {
	return func(c *Completer) {
		c.client = anthropic.NewClient(option.WithAPIKey(token), option.WithMaxRetries(0))
	}
}

func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Completer) {
		c.limiter = limiter
	}
}

func New(model string, options ...Option) (*Completer, error) {
	c := &Completer{
		model: model,

		client: anthropic.NewClient(option.WithMaxRetries(0)),

		maxTokens: 4096,
	}

	for _, option := range options {
		option(c)
	}

	if c.model == "" {
		return nil, errors.New("missing model")
	}

	return c, nil
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

	params := c.convertParams(messages, options)

	if options.Stream != nil {
		return c.completeStream(ctx, params, options)
	}

	message, err := c.client.Messages.New(ctx, params)

	if err != nil {
		return nil, convertError(err)
	}

	var text string

	for _, block := range message.Content {
		text += block.Text
	}

	return &provider.Completion{
		ID:    message.ID,
		Model: c.model,

		Reason: convertReason(message.StopReason),

		Message: &provider.Message{
			Role:    provider.MessageRoleAssistant,
			Content: []provider.Content{provider.TextContent(text)},
		},

		Usage: &provider.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

func (c *Completer) completeStream(ctx context.Context, params anthropic.MessageNewParams, options *provider.CompleteOptions) (*provider.Completion, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)

	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()

		if err := message.Accumulate(event); err != nil {
			return nil, err
		}

		switch event := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := event.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}

				completion := provider.Completion{
					ID:    message.ID,
					Model: c.model,

					Message: &provider.Message{
						Role:    provider.MessageRoleAssistant,
						Content: []provider.Content{provider.TextContent(delta.Text)},
					},
				}

				if err := options.Stream(ctx, completion); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, convertError(err)
	}

	var text string

	for _, block := range message.Content {
		text += block.Text
	}

	return &provider.Completion{
		ID:    message.ID,
		Model: c.model,

		Reason: convertReason(message.StopReason),

		Message: &provider.Message{
			Role:    provider.MessageRoleAssistant,
			Content: []provider.Content{provider.TextContent(text)},
		},

		Usage: &provider.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

func (c *Completer) convertParams(messages []provider.Message, options *provider.CompleteOptions) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model: anthropic.Model(c.model),

		MaxTokens: c.maxTokens,
	}

	if options.MaxTokens != nil {
		params.MaxTokens = int64(*options.MaxTokens)
	}

	if options.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*options.Temperature))
	}

	if len(options.Stop) > 0 {
		params.StopSequences = options.Stop
	}

	for _, m := range messages {
		switch m.Role {
		case provider.MessageRoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Text()})

		case provider.MessageRoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))

		case provider.MessageRoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text())))
		}
	}

	return params
}

func convertReason(reason anthropic.StopReason) provider.CompletionReason {
	switch reason {
	case anthropic.StopReasonMaxTokens:
		return provider.CompletionReasonLength

	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return provider.CompletionReasonStop
	}

	return ""
}

func convertError(err error) error {
	var apierr *anthropic.Error

	if errors.As(err, &apierr) {
		return provider.NewError("anthropic", provider.ErrorKindFromStatus(apierr.StatusCode), err)
	}

	return err
}

// Package google implements a provider.Completer against the Gemini API.
package google

import (
	"context"
	"errors"

	"github.com/gtonic/counsel/pkg/provider"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var _ provider.Completer = (*Completer)(nil)

type Completer struct {
	model string

	client *genai.Client

	limiter *rate.Limiter
}

type Option func(*Completer)

func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Completer) {
		c.limiter = limiter
	}
}

func New(ctx context.Context, model, token string, options ...Option) (*Completer, error) {
	if model == "" {
		return nil, errors.New("missing model")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(token))

	if err != nil {
		return nil, err
	}

	c := &Completer{
		model: model,

		client: client,
	}

	for _, option := range options {
		option(c)
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

	model := c.client.GenerativeModel(c.model)

	if options.MaxTokens != nil {
		model.SetMaxOutputTokens(int32(*options.MaxTokens))
	}

	if options.Temperature != nil {
		model.SetTemperature(*options.Temperature)
	}

	if len(options.Stop) > 0 {
		model.StopSequences = options.Stop
	}

	var history []*genai.Content
	var prompt string

	for _, m := range messages {
		switch m.Role {
		case provider.MessageRoleSystem:
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(m.Text())},
			}

		case provider.MessageRoleUser:
			history = append(history, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(m.Text())},
			})

		case provider.MessageRoleAssistant:
			history = append(history, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(m.Text())},
			})
		}
	}

	if len(history) > 0 && history[len(history)-1].Role == "user" {
		if text, ok := history[len(history)-1].Parts[0].(genai.Text); ok {
			prompt = string(text)
		}

		history = history[:len(history)-1]
	}

	session := model.StartChat()
	session.History = history

	if options.Stream != nil {
		return c.completeStream(ctx, session, prompt, options)
	}

	resp, err := session.SendMessage(ctx, genai.Text(prompt))

	if err != nil {
		return nil, convertError(err)
	}

	result := &provider.Completion{
		ID:    uuid.New().String(),
		Model: c.model,

		Reason: provider.CompletionReasonStop,

		Message: &provider.Message{
			Role:    provider.MessageRoleAssistant,
			Content: []provider.Content{provider.TextContent(responseText(resp))},
		},
	}

	if resp.UsageMetadata != nil {
		result.Usage = &provider.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	return result, nil
}

func (c *Completer) completeStream(ctx context.Context, session *genai.ChatSession, prompt string, options *provider.CompleteOptions) (*provider.Completion, error) {
	iter := session.SendMessageStream(ctx, genai.Text(prompt))

	id := uuid.New().String()

	var text string
	var usage *provider.Usage

	for {
		resp, err := iter.Next()

		if errors.Is(err, iterator.Done) {
			break
		}

		if err != nil {
			return nil, convertError(err)
		}

		delta := responseText(resp)

		if resp.UsageMetadata != nil {
			usage = &provider.Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}

		if delta == "" {
			continue
		}

		text += delta

		completion := provider.Completion{
			ID:    id,
			Model: c.model,

			Message: &provider.Message{
				Role:    provider.MessageRoleAssistant,
				Content: []provider.Content{provider.TextContent(delta)},
			},
		}

		if err := options.Stream(ctx, completion); err != nil {
			return nil, err
		}
	}

	return &provider.Completion{
		ID:    id,
		Model: c.model,

		Reason: provider.CompletionReasonStop,

		Message: &provider.Message{
			Role:    provider.MessageRoleAssistant,
			Content: []provider.Content{provider.TextContent(text)},
		},

		Usage: usage,
	}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text string

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}

		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}

	return text
}

func convertError(err error) error {
	var apierr *googleapi.Error

	if errors.As(err, &apierr) {
		return provider.NewError("google", provider.ErrorKindFromStatus(apierr.Code), err)
	}

	return err
}

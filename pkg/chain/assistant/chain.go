package assistant

import (
	"context"
	"errors"
	"slices"

	"github.com/gtonic/counsel/pkg/chain"
	"github.com/gtonic/counsel/pkg/memory"
	"github.com/gtonic/counsel/pkg/provider"
)

var _ chain.Provider = &Chain{}

// Chain is the plain completion path: fixed leading messages plus an
// optional conversation memory, no retrieval.
type Chain struct {
	completer provider.Completer

	messages []provider.Message

	temperature *float32

	memory *memory.Manager
}

type Option func(*Chain)

func WithCompleter(completer provider.Completer) Option {
	return func(c *Chain) {
		c.completer = completer
	}
}

func WithMessages(messages ...provider.Message) Option {
	return func(c *Chain) {
		c.messages = messages
	}
}

func WithTemperature(temperature float32) Option {
	return func(c *Chain) {
		c.temperature = &temperature
	}
}

func WithMemory(manager *memory.Manager) Option {
	return func(c *Chain) {
		c.memory = manager
	}
}

func New(options ...Option) (*Chain, error) {
	c := &Chain{}

	for _, option := range options {
		option(c)
	}

	if c.completer == nil {
		return nil, errors.New("missing completer provider")
	}

	return c, nil
}

func (c *Chain) Complete(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
	if options == nil {
		options = new(provider.CompleteOptions)
	}

	if options.Temperature == nil {
		options.Temperature = c.temperature
	}

	if len(c.messages) > 0 {
		messages = slices.Concat(c.messages, messages)
	}

	input := slices.Clone(messages)

	userText := lastUserText(input)
	conversation := chain.Conversation(ctx)

	if c.memory != nil && userText != "" {
		memories, _ := c.memory.Recall(ctx, conversation, userText)

		if len(memories) > 0 {
			input = append([]provider.Message{
				provider.SystemMessage(memory.Inject("", memories)),
			}, input...)
		}
	}

	completion, err := c.completer.Complete(ctx, input, options)

	if err != nil {
		return nil, err
	}

	if c.memory != nil && userText != "" && completion.Text() != "" {
		_ = c.memory.LogTurn(ctx, conversation, userText, completion.Text())
	}

	return completion, nil
}

func lastUserText(messages []provider.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == provider.MessageRoleUser {
			return messages[i].Text()
		}
	}

	return ""
}

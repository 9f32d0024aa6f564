package rag

import (
	"context"
	"errors"

	"github.com/gtonic/counsel/pkg/chain"
	"github.com/gtonic/counsel/pkg/memory"
	"github.com/gtonic/counsel/pkg/provider"
	"github.com/gtonic/counsel/pkg/rag"
	"github.com/gtonic/counsel/pkg/rag/pipeline"
)

var _ chain.Provider = &Chain{}

// Chain adapts the retrieval pipeline to the completer interface so it can
// be served like any model: the last user message becomes the query, the
// preceding messages the conversation history.
type Chain struct {
	pipeline *pipeline.Pipeline

	memory *memory.Manager
}

type Option func(*Chain)

func WithMemory(manager *memory.Manager) Option {
	return func(c *Chain) {
		c.memory = manager
	}
}

func New(p *pipeline.Pipeline, options ...Option) (*Chain, error) {
	if p == nil {
		return nil, errors.New("missing pipeline")
	}

	c := &Chain{
		pipeline: p,
	}

	for _, option := range options {
		option(c)
	}

	return c, nil
}

func (c *Chain) Complete(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
	query := convertQuery(messages)
	query.ConversationID = chain.Conversation(ctx)

	if query.Text == "" {
		return nil, errors.New("missing user message")
	}

	if c.memory != nil {
		memories, _ := c.memory.Recall(ctx, query.ConversationID, query.Text)

		if len(memories) > 0 {
			query.History = append([]rag.Turn{{
				Role: provider.MessageRoleAssistant,
				Text: memory.Inject("", memories),
			}}, query.History...)
		}
	}

	result, err := c.pipeline.Run(ctx, query, options)

	if err != nil {
		return nil, err
	}

	if c.memory != nil && result.Completion.Text() != "" {
		_ = c.memory.LogTurn(ctx, query.ConversationID, query.Text, result.Completion.Text())
	}

	return result.Completion, nil
}

// Run exposes the full pipeline result, attempts and citations included.
func (c *Chain) Run(ctx context.Context, query rag.Query, options *provider.CompleteOptions) (*rag.GenerationResult, error) {
	return c.pipeline.Run(ctx, query, options)
}

func convertQuery(messages []provider.Message) rag.Query {
	var query rag.Query

	last := -1

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == provider.MessageRoleUser {
			last = i
			break
		}
	}

	for i, m := range messages {
		if i == last {
			query.Text = m.Text()
			continue
		}

		if m.Role == provider.MessageRoleSystem {
			continue
		}

		query.History = append(query.History, rag.Turn{
			Role: m.Role,
			Text: m.Text(),
		})
	}

	return query
}

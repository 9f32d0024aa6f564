// Package chain defines the interface for completer-shaped pipelines that
// can be served like any model.
package chain

import (
	"context"

	"github.com/gtonic/counsel/pkg/provider"
)

type Provider interface {
	Complete(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error)
}

type conversationKey struct{}

// WithConversation tags the context with the caller's conversation identity
// so memory recall and logging stay scoped to it.
func WithConversation(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}

	return context.WithValue(ctx, conversationKey{}, id)
}

// Conversation returns the conversation identity from the context, or "".
func Conversation(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}

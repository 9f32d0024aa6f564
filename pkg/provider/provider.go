package provider

import (
	"context"
)

// Completer generates a chat completion for a sequence of messages.
type Completer interface {
	Complete(ctx context.Context, messages []Message, options *CompleteOptions) (*Completion, error)
}

// Embedder converts text into vector representations.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (*Embedding, error)
}

// Reranker reorders candidate texts by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, inputs []string, options *RerankOptions) ([]Ranking, error)
}

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

type Message struct {
	Role MessageRole

	Content []Content
}

type Content struct {
	Text string
}

func TextContent(text string) Content {
	return Content{Text: text}
}

// SystemMessage is a convenience constructor for single-text messages.
func SystemMessage(text string) Message {
	return Message{Role: MessageRoleSystem, Content: []Content{TextContent(text)}}
}

func UserMessage(text string) Message {
	return Message{Role: MessageRoleUser, Content: []Content{TextContent(text)}}
}

func AssistantMessage(text string) Message {
	return Message{Role: MessageRoleAssistant, Content: []Content{TextContent(text)}}
}

// Text returns the concatenated text content of the message.
func (m Message) Text() string {
	var text string

	for _, c := range m.Content {
		text += c.Text
	}

	return text
}

// StreamHandler receives completion deltas as they arrive.
type StreamHandler = func(ctx context.Context, completion Completion) error

type CompleteOptions struct {
	Stop []string

	MaxTokens   *int
	Temperature *float32

	Stream StreamHandler
}

type CompletionReason string

const (
	CompletionReasonStop   CompletionReason = "stop"
	CompletionReasonLength CompletionReason = "length"
)

type Completion struct {
	ID    string
	Model string

	Reason CompletionReason

	Message *Message

	Usage *Usage
}

// Text returns the completion's message text, or "" if there is none.
func (c *Completion) Text() string {
	if c == nil || c.Message == nil {
		return ""
	}

	return c.Message.Text()
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

type Embedding struct {
	Embeddings [][]float32

	Usage *Usage
}

type RerankOptions struct {
	Limit *int
}

type Ranking struct {
	Content string
	Score   float64
}

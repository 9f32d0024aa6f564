package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gtonic/counsel/pkg/failover"
	"github.com/gtonic/counsel/pkg/index"
	"github.com/gtonic/counsel/pkg/provider"
	"github.com/gtonic/counsel/pkg/rag"
	"github.com/gtonic/counsel/pkg/rag/retriever"
	"github.com/gtonic/counsel/pkg/rag/reviewer"
	"github.com/gtonic/counsel/pkg/rag/rewriter"
	"github.com/gtonic/counsel/pkg/rag/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completerFunc func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error)

func (f completerFunc) Complete(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
	return f(ctx, messages, options)
}

func reply(text string) completerFunc {
	return func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		return &provider.Completion{
			Message: &provider.Message{
				Role:    provider.MessageRoleAssistant,
				Content: []provider.Content{provider.TextContent(text)},
			},
		}, nil
	}
}

func block() completerFunc {
	return func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// capture records the final generation prompt before answering.
func capture(messages *[]provider.Message, text string) completerFunc {
	return func(ctx context.Context, m []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		*messages = m
		return reply(text)(ctx, m, options)
	}
}

type fakeIndex struct {
	results []index.QueryResult
	err     error
}

func (f *fakeIndex) Index(ctx context.Context, doc index.Document) error {
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, query string, opts *index.QueryOptions) ([]index.QueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.results, nil
}

func guidanceIndex() *fakeIndex {
	return &fakeIndex{results: []index.QueryResult{
		{Document: index.Document{ID: "1", Title: "Leave Policy", Section: "Entitlement", Location: "https://docs/leave", Content: "25 days per year"}, Score: 0.9},
		{Document: index.Document{ID: "2", Title: "Leave Policy", Section: "Carry-over", Location: "https://docs/leave", Content: "5 days may carry over"}, Score: 0.8},
		{Document: index.Document{ID: "3", Title: "Sickness Policy", Section: "Reporting", Location: "https://docs/sick", Content: "report by 10am"}, Score: 0.7},
	}}
}

func newPipeline(t *testing.T, idx index.Provider, generator *failover.Router, options ...Option) *Pipeline {
	t.Helper()

	source := rag.Source{Name: "central_guidance", Description: "central policy guidance", Provider: idx}

	route, err := router.New(reply(`[{"index": "central_guidance", "score": 0.9, "reason": "policy"}]`), source)
	require.NoError(t, err)

	rewrite, err := rewriter.New(reply(`["annual leave entitlement"]`))
	require.NoError(t, err)

	review, err := reviewer.New(reply(`[{"chunk": 1, "grade": 3}, {"chunk": 2, "grade": 2}, {"chunk": 3, "grade": 2}]`))
	require.NoError(t, err)

	options = append([]Option{
		WithRouter(route),
		WithRewriter(rewrite),
		WithRetriever(retriever.New(8, 3)),
		WithReviewer(review),
		WithSystemPrompt("You are a helpful assistant."),
	}, options...)

	p, err := New(generator, options...)
	require.NoError(t, err)

	return p
}

func TestRunWithRegionFailover(t *testing.T) {
	var prompt []provider.Message

	generator, err := failover.New(
		failover.Candidate{Provider: "bedrock", Region: "us-west-2", Completer: block(), Timeout: 20 * time.Millisecond},
		failover.Candidate{Provider: "bedrock", Region: "us-east-1", Completer: capture(&prompt, "You get 25 days.")},
	)
	require.NoError(t, err)

	p := newPipeline(t, guidanceIndex(), generator)

	result, err := p.Run(context.Background(), rag.Query{Text: "how much annual leave do I get?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "You get 25 days.", result.Completion.Text())
	assert.Equal(t, "bedrock/us-east-1", result.Candidate)
	assert.Len(t, result.Attempts, 1)

	assert.Len(t, result.Context, 3)
	assert.Equal(t, []string{"central_guidance"}, result.Searched)

	require.Len(t, result.Citations, 2)
	assert.Equal(t, rag.Citation{Name: "Leave Policy", URL: "https://docs/leave"}, result.Citations[0])
	assert.Equal(t, rag.Citation{Name: "Sickness Policy", URL: "https://docs/sick"}, result.Citations[1])

	require.NotEmpty(t, prompt)
	assert.Equal(t, provider.MessageRoleSystem, prompt[0].Role)

	user := prompt[len(prompt)-1]
	assert.Equal(t, provider.MessageRoleUser, user.Role)
	assert.Contains(t, user.Text(), "Search engine results:")
	assert.Contains(t, user.Text(), "25 days per year")
}

func TestRunNoRelevantIndex(t *testing.T) {
	var prompt []provider.Message

	generator, err := failover.New(failover.Candidate{Provider: "anthropic", Completer: capture(&prompt, "Just chatting.")})
	require.NoError(t, err)

	source := rag.Source{Name: "central_guidance", Description: "central policy guidance", Provider: guidanceIndex()}

	route, err := router.New(reply("[]"), source)
	require.NoError(t, err)

	p, err := New(generator, WithRouter(route), WithRetriever(retriever.New(8, 3)))
	require.NoError(t, err)

	result, err := p.Run(context.Background(), rag.Query{Text: "hello there"}, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Context)
	assert.Empty(t, result.Citations)
	assert.Empty(t, result.Searched)

	user := prompt[len(prompt)-1]
	assert.Equal(t, "hello there", user.Text())
}

func TestRunSearchUnavailable(t *testing.T) {
	var prompt []provider.Message

	generator, err := failover.New(failover.Candidate{Provider: "anthropic", Completer: capture(&prompt, "Best effort answer.")})
	require.NoError(t, err)

	p := newPipeline(t, &fakeIndex{err: index.ErrUnavailable}, generator)

	result, err := p.Run(context.Background(), rag.Query{Text: "how much annual leave do I get?"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Best effort answer.", result.Completion.Text())
	assert.Empty(t, result.Context)
	assert.Empty(t, result.Searched)

	user := prompt[len(prompt)-1]
	assert.NotContains(t, user.Text(), "Search engine results:")
}

func TestRunNothingRelevantFound(t *testing.T) {
	var prompt []provider.Message

	generator, err := failover.New(failover.Candidate{Provider: "anthropic", Completer: capture(&prompt, "No material on that.")})
	require.NoError(t, err)

	review, err := reviewer.New(reply(`[{"chunk": 1, "grade": 0}, {"chunk": 2, "grade": 1}, {"chunk": 3, "grade": 0}]`))
	require.NoError(t, err)

	p := newPipeline(t, guidanceIndex(), generator, WithReviewer(review))

	result, err := p.Run(context.Background(), rag.Query{Text: "how do I fly a kite?"}, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Context)
	assert.Equal(t, []string{"central_guidance"}, result.Searched)

	user := prompt[len(prompt)-1]
	assert.Contains(t, user.Text(), "searched but no relevant material was found")
	assert.Contains(t, user.Text(), "central_guidance")
}

func TestRunContextSubsetOfRetrieved(t *testing.T) {
	generator, err := failover.New(failover.Candidate{Provider: "anthropic", Completer: reply("ok")})
	require.NoError(t, err)

	idx := guidanceIndex()

	review, err := reviewer.New(reply(`[{"chunk": 1, "grade": 3}, {"chunk": 2, "grade": 1}, {"chunk": 3, "grade": 2}]`))
	require.NoError(t, err)

	p := newPipeline(t, idx, generator, WithReviewer(review))

	result, err := p.Run(context.Background(), rag.Query{Text: "annual leave"}, nil)
	require.NoError(t, err)

	retrieved := map[string]bool{}

	for _, r := range idx.results {
		retrieved[r.Document.ID] = true
	}

	require.NotEmpty(t, result.Context)

	for _, chunk := range result.Context {
		assert.True(t, retrieved[chunk.ID])
	}
}

func TestRunHistoryInPrompt(t *testing.T) {
	var prompt []provider.Message

	generator, err := failover.New(failover.Candidate{Provider: "anthropic", Completer: capture(&prompt, "ok")})
	require.NoError(t, err)

	p := newPipeline(t, guidanceIndex(), generator)

	query := rag.Query{
		Text: "and how much carries over?",
		History: []rag.Turn{
			{Role: provider.MessageRoleUser, Text: "tell me about annual leave"},
			{Role: provider.MessageRoleAssistant, Text: "You get 25 days."},
		},
	}

	_, err = p.Run(context.Background(), query, nil)
	require.NoError(t, err)

	require.Len(t, prompt, 4)
	assert.Equal(t, provider.MessageRoleSystem, prompt[0].Role)
	assert.Equal(t, "tell me about annual leave", prompt[1].Text())
	assert.Equal(t, "You get 25 days.", prompt[2].Text())
	assert.True(t, strings.HasPrefix(prompt[3].Text(), "and how much carries over?"))
}

func TestRunDeadline(t *testing.T) {
	generator, err := failover.New(failover.Candidate{Provider: "anthropic", Completer: block()})
	require.NoError(t, err)

	p, err := New(generator, WithDeadline(20*time.Millisecond))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), rag.Query{Text: "hello"}, nil)
	require.Error(t, err)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunExhausted(t *testing.T) {
	generator, err := failover.New(
		failover.Candidate{Provider: "a", Completer: block(), Timeout: 10 * time.Millisecond},
		failover.Candidate{Provider: "b", Completer: block(), Timeout: 10 * time.Millisecond},
	)
	require.NoError(t, err)

	p, err := New(generator)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), rag.Query{Text: "hello"}, nil)
	require.Error(t, err)

	var exhausted *failover.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 2)
}

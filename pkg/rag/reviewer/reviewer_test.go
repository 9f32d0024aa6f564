package reviewer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gtonic/counsel/pkg/provider"
	"github.com/gtonic/counsel/pkg/rag"

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

func chunk(id, content string, score float32) rag.Chunk {
	return rag.Chunk{
		ID:    id,
		Index: "idx",

		Title:   "Doc " + id,
		Content: content,

		Score: score,
	}
}

func TestReviewThreshold(t *testing.T) {
	r, err := New(reply(`[{"chunk": 1, "grade": 3, "reason": "on point"}, {"chunk": 2, "grade": 1, "reason": "tangential"}, {"chunk": 3, "grade": 2, "reason": "background"}]`))
	require.NoError(t, err)

	chunks := []rag.Chunk{
		chunk("1", "alpha", 0.9),
		chunk("2", "beta", 0.8),
		chunk("3", "gamma", 0.7),
	}

	reviewed := r.Review(context.Background(), rag.Query{Text: "query"}, chunks)

	require.Len(t, reviewed, 2)
	assert.Equal(t, "1", reviewed[0].ID)
	assert.Equal(t, 3, reviewed[0].Verdict.Grade)
	assert.Equal(t, "3", reviewed[1].ID)
	assert.False(t, reviewed[0].Unreviewed)
}

func TestReviewOrdersByRetrievalScore(t *testing.T) {
	// grades invert the retrieval order; the retrieval order must win
	r, err := New(reply(`[{"chunk": 1, "grade": 2}, {"chunk": 2, "grade": 3}]`))
	require.NoError(t, err)

	chunks := []rag.Chunk{
		chunk("1", "alpha", 0.9),
		chunk("2", "beta", 0.5),
	}

	reviewed := r.Review(context.Background(), rag.Query{Text: "query"}, chunks)

	require.Len(t, reviewed, 2)
	assert.Equal(t, "1", reviewed[0].ID)
	assert.Equal(t, "2", reviewed[1].ID)
}

func TestReviewFailureFallsBackUnreviewed(t *testing.T) {
	r, err := New(completerFunc(func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		return nil, errors.New("boom")
	}))
	require.NoError(t, err)

	chunks := []rag.Chunk{
		chunk("1", "alpha", 0.9),
		chunk("2", "beta", 0.8),
		chunk("3", "gamma", 0.7),
		chunk("4", "delta", 0.6),
	}

	reviewed := r.Review(context.Background(), rag.Query{Text: "query"}, chunks)

	require.Len(t, reviewed, DefaultFallbackTopN)

	for _, c := range reviewed {
		assert.True(t, c.Unreviewed)
	}

	assert.Equal(t, "1", reviewed[0].ID)
	assert.Equal(t, "2", reviewed[1].ID)
	assert.Equal(t, "3", reviewed[2].ID)
}

func TestReviewMalformedOutputFallsBackUnreviewed(t *testing.T) {
	r, err := New(reply("these all look great to me"), WithFallbackTopN(2))
	require.NoError(t, err)

	chunks := []rag.Chunk{
		chunk("1", "alpha", 0.9),
		chunk("2", "beta", 0.8),
		chunk("3", "gamma", 0.7),
	}

	reviewed := r.Review(context.Background(), rag.Query{Text: "query"}, chunks)

	require.Len(t, reviewed, 2)
	assert.True(t, reviewed[0].Unreviewed)
}

func TestReviewBudget(t *testing.T) {
	r, err := New(reply(`[{"chunk": 1, "grade": 3}, {"chunk": 2, "grade": 3}, {"chunk": 3, "grade": 3}, {"chunk": 4, "grade": 3}, {"chunk": 5, "grade": 3}]`), WithBudget(2000))
	require.NoError(t, err)

	content := strings.Repeat("x", 600)

	chunks := []rag.Chunk{
		chunk("1", content, 0.9),
		chunk("2", content, 0.8),
		chunk("3", content, 0.7),
		chunk("4", content, 0.6),
		chunk("5", content, 0.5),
	}

	reviewed := r.Review(context.Background(), rag.Query{Text: "query"}, chunks)

	require.Len(t, reviewed, 3)
	assert.Equal(t, "1", reviewed[0].ID)
	assert.Equal(t, "2", reviewed[1].ID)
	assert.Equal(t, "3", reviewed[2].ID)
	assert.LessOrEqual(t, reviewed.Size(), 2000)
}

func TestReviewOversizedSingleChunk(t *testing.T) {
	r, err := New(reply(`[{"chunk": 1, "grade": 3}]`), WithBudget(100))
	require.NoError(t, err)

	chunks := []rag.Chunk{chunk("1", strings.Repeat("x", 500), 0.9)}

	reviewed := r.Review(context.Background(), rag.Query{Text: "query"}, chunks)

	assert.Empty(t, reviewed)
}

func TestReviewEmptyInput(t *testing.T) {
	r, err := New(reply("[]"))
	require.NoError(t, err)

	assert.Empty(t, r.Review(context.Background(), rag.Query{Text: "query"}, nil))
}

func TestReviewMissingVerdictDropsChunk(t *testing.T) {
	r, err := New(reply(`[{"chunk": 2, "grade": 3}]`))
	require.NoError(t, err)

	chunks := []rag.Chunk{
		chunk("1", "alpha", 0.9),
		chunk("2", "beta", 0.8),
	}

	reviewed := r.Review(context.Background(), rag.Query{Text: "query"}, chunks)

	require.Len(t, reviewed, 1)
	assert.Equal(t, "2", reviewed[0].ID)
}

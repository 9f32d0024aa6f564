// Package reviewer filters retrieved chunks for relevance to the user query
// and bounds the surviving context to a configurable budget.
package reviewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gtonic/counsel/pkg/provider"
	"github.com/gtonic/counsel/pkg/rag"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultThreshold is the minimum grade (0-3) a chunk must clear.
	DefaultThreshold = 2

	// DefaultBudget is the character budget of the reviewed context.
	DefaultBudget = 8000

	// DefaultFallbackTopN bounds the unreviewed fallback after a full
	// reviewer failure.
	DefaultFallbackTopN = 3

	// batchSize bounds the number of chunks judged per review call.
	batchSize = 20
)

var systemPrompt = strings.TrimSpace(`
You judge whether retrieved document extracts are relevant to a user query.

Grade each extract from 0 to 3:
0 = unrelated, 1 = same topic but not useful, 2 = useful background,
3 = directly answers the query.

Respond with a JSON array, one entry per extract:
[{"chunk": <number>, "grade": <0-3>, "reason": "<short rationale>"}]

Respond with JSON only.

The user's original query was:

`)

type Reviewer struct {
	completer provider.Completer

	// Threshold is the minimum grade to keep a chunk.
	Threshold int

	// Budget is the character budget for the reviewed context.
	Budget int

	// FallbackTopN caps the unreviewed fallback set.
	FallbackTopN int
}

type Option func(*Reviewer)

func WithThreshold(threshold int) Option {
	return func(r *Reviewer) {
		r.Threshold = threshold
	}
}

func WithBudget(budget int) Option {
	return func(r *Reviewer) {
		r.Budget = budget
	}
}

func WithFallbackTopN(n int) Option {
	return func(r *Reviewer) {
		r.FallbackTopN = n
	}
}

func New(completer provider.Completer, options ...Option) (*Reviewer, error) {
	if completer == nil {
		return nil, errors.New("missing completer provider")
	}

	r := &Reviewer{
		completer: completer,

		Threshold:    DefaultThreshold,
		Budget:       DefaultBudget,
		FallbackTopN: DefaultFallbackTopN,
	}

	for _, option := range options {
		option(r)
	}

	return r, nil
}

// Review grades the chunks in batches and returns the surviving context,
// ordered by original retrieval score and bounded by the budget. A failed
// batch degrades to including its chunks unreviewed rather than dropping
// context on a transient reviewer failure; if every batch fails, the
// fallback is capped at FallbackTopN.
func (r *Reviewer) Review(ctx context.Context, query rag.Query, chunks []rag.Chunk) rag.ReviewedContext {
	if len(chunks) == 0 {
		return nil
	}

	var reviewed rag.ReviewedContext

	batches := 0
	failures := 0

	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batch := chunks[start:end]

		batches++

		verdicts, err := r.reviewBatch(ctx, query.Text, batch)

		if err != nil {
			failures++

			log.WithFields(log.Fields{"stage": "chunk_review", "chunks": len(batch), "error": err}).Warn("chunk review failed, including batch unreviewed")

			for _, chunk := range batch {
				reviewed = append(reviewed, rag.ReviewedChunk{Chunk: chunk, Unreviewed: true})
			}

			continue
		}

		for i, chunk := range batch {
			verdict, ok := verdicts[i]

			if !ok || verdict.Grade < r.Threshold {
				continue
			}

			reviewed = append(reviewed, rag.ReviewedChunk{Chunk: chunk, Verdict: verdict})
		}
	}

	// order by the retrieval score, not the review grade, to preserve the
	// retrieval engine's ranking signal
	sort.SliceStable(reviewed, func(i, j int) bool {
		return reviewed[i].Score > reviewed[j].Score
	})

	if failures == batches && len(reviewed) > r.FallbackTopN {
		reviewed = reviewed[:r.FallbackTopN]
	}

	for len(reviewed) > 0 && reviewed.Size() > r.Budget {
		reviewed = reviewed[:len(reviewed)-1]
	}

	return reviewed
}

func (r *Reviewer) reviewBatch(ctx context.Context, query string, batch []rag.Chunk) (map[int]rag.Verdict, error) {
	var prompt strings.Builder

	for i, chunk := range batch {
		prompt.WriteString(fmt.Sprintf("Extract %d:\n\nDocument title: %s\n\nSection title: %s\n\nContent:\n%s\n\n---\n\n", i+1, chunk.Title, chunk.Section, chunk.Content))
	}

	messages := []provider.Message{
		provider.SystemMessage(systemPrompt + fmt.Sprintf("```%s```", query)),
		provider.UserMessage(prompt.String()),
	}

	completion, err := r.completer.Complete(ctx, messages, nil)

	if err != nil {
		return nil, err
	}

	var entries []struct {
		Chunk  int    `json:"chunk"`
		Grade  int    `json:"grade"`
		Reason string `json:"reason"`
	}

	if err := json.Unmarshal([]byte(extractArray(completion.Text())), &entries); err != nil {
		return nil, fmt.Errorf("unparsable review output: %w", err)
	}

	verdicts := map[int]rag.Verdict{}

	for _, entry := range entries {
		if entry.Chunk < 1 || entry.Chunk > len(batch) {
			continue
		}

		verdicts[entry.Chunk-1] = rag.Verdict{
			Grade:     entry.Grade,
			Rationale: entry.Reason,
		}
	}

	return verdicts, nil
}

func extractArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")

	if start < 0 || end < start {
		return text
	}

	return text[start : end+1]
}

// Package router classifies a query against the registered document indexes.
package router

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

var systemPrompt = strings.TrimSpace(`
You decide which document indexes are relevant to a user query.

Available indexes:

%s

Respond with a JSON array, one entry per relevant index:
[{"index": "<name>", "score": <0.0-1.0>, "reason": "<short rationale>"}]

Only include indexes that are likely to contain material answering the query.
If no index is relevant, respond with an empty JSON array: []
Respond with JSON only.
`)

type Router struct {
	completer provider.Completer

	sources []rag.Source
}

func New(completer provider.Completer, sources ...rag.Source) (*Router, error) {
	if completer == nil {
		return nil, errors.New("missing completer provider")
	}

	return &Router{
		completer: completer,

		sources: sources,
	}, nil
}

// Route returns the indexes worth searching for the query, ranked by the
// model's confidence. Ties keep registration order. A failed or malformed
// classification degrades to an empty result, never an error: the pipeline
// falls back to generation without retrieval.
func (r *Router) Route(ctx context.Context, query rag.Query) []rag.IndexCandidate {
	if len(r.sources) == 0 {
		return nil
	}

	var descriptions []string

	for _, s := range r.sources {
		descriptions = append(descriptions, fmt.Sprintf("- %s: %s", s.Name, s.Description))
	}

	messages := []provider.Message{
		provider.SystemMessage(fmt.Sprintf(systemPrompt, strings.Join(descriptions, "\n"))),
		provider.UserMessage(fmt.Sprintf("User query:\n\n```%s```", query.Text)),
	}

	completion, err := r.completer.Complete(ctx, messages, nil)

	if err != nil {
		log.WithFields(log.Fields{"stage": "index_router", "error": err}).Warn("index classification failed, skipping retrieval")
		return nil
	}

	var verdicts []struct {
		Index  string  `json:"index"`
		Score  float64 `json:"score"`
		Reason string  `json:"reason"`
	}

	if err := json.Unmarshal([]byte(extractArray(completion.Text())), &verdicts); err != nil {
		log.WithFields(log.Fields{"stage": "index_router", "output": completion.Text()}).Warn("unparsable index classification, skipping retrieval")
		return nil
	}

	var candidates []rag.IndexCandidate

	for _, s := range r.sources {
		for _, v := range verdicts {
			if v.Index != s.Name || v.Score <= 0 {
				continue
			}

			candidates = append(candidates, rag.IndexCandidate{
				Source: s,

				Score:  v.Score,
				Reason: v.Reason,
			})

			break
		}
	}

	// ranking only; equal scores keep index registration order
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return candidates
}

// extractArray strips prose and code fences around a JSON array.
func extractArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")

	if start < 0 || end < start {
		return text
	}

	return text[start : end+1]
}

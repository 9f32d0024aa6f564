// Package retriever executes search against the selected indexes and merges
// the per-index results into one ranked, capped, deduplicated chunk sequence.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gtonic/counsel/pkg/index"
	"github.com/gtonic/counsel/pkg/provider"
	"github.com/gtonic/counsel/pkg/rag"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrUnavailable signals that no search backend could be reached. The
// pipeline treats it like an empty candidate set.
var ErrUnavailable = errors.New("retrieval unavailable")

type Engine struct {
	// TopK caps the merged result count.
	TopK int

	// PerIndex caps the result count per index query.
	PerIndex int

	reranker provider.Reranker
}

type Option func(*Engine)

// WithReranker re-scores the merged results before the global cap.
func WithReranker(reranker provider.Reranker) Option {
	return func(e *Engine) {
		e.reranker = reranker
	}
}

func New(topK, perIndex int, options ...Option) *Engine {
	if topK <= 0 {
		topK = 8
	}

	if perIndex <= 0 {
		perIndex = 3
	}

	e := &Engine{
		TopK:     topK,
		PerIndex: perIndex,
	}

	for _, option := range options {
		option(e)
	}

	return e
}

// Retrieve fans out the retrieval query (and its alternates) across the
// candidate indexes, applying the group access filter, then merges, dedupes
// and caps the results. It returns ErrUnavailable only when every backend
// was unreachable; partial backend failures degrade to partial results.
func (e *Engine) Retrieve(ctx context.Context, query rag.RetrievalQuery, candidates []rag.IndexCandidate, groups []string) ([]rag.Chunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	results := make([][]rag.Chunk, len(candidates))

	var mu sync.Mutex
	var unavailable int

	group, gctx := errgroup.WithContext(ctx)

	for i, candidate := range candidates {
		group.Go(func() error {
			found, err := e.search(gctx, query, candidate.Source, groups)

			if err != nil {
				mu.Lock()
				if errors.Is(err, index.ErrUnavailable) {
					unavailable++
				}
				mu.Unlock()

				log.WithFields(log.Fields{
					"stage": "retrieval",
					"index": candidate.Source.Name,
					"error": err,
				}).Warn("index search failed")

				return nil
			}

			results[i] = found
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if unavailable == len(candidates) {
		return nil, fmt.Errorf("%w: no search backend reachable", ErrUnavailable)
	}

	// concatenate in candidate order so tied scores and dedupe winners do not
	// depend on backend latency
	var chunks []rag.Chunk

	for _, found := range results {
		chunks = append(chunks, found...)
	}

	chunks = dedupe(chunks)

	if e.reranker != nil {
		chunks = e.rerank(ctx, query.Text, chunks)
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})

	if len(chunks) > e.TopK {
		chunks = chunks[:e.TopK]
	}

	return chunks, nil
}

func (e *Engine) search(ctx context.Context, query rag.RetrievalQuery, source rag.Source, groups []string) ([]rag.Chunk, error) {
	filters := []map[string]string{nil}

	if len(groups) > 0 {
		filters = nil

		for _, g := range groups {
			filters = append(filters, map[string]string{"group": g})
		}
	}

	var chunks []rag.Chunk
	var lastErr error

	for _, text := range query.All() {
		for _, filter := range filters {
			opts := &index.QueryOptions{
				Limit:   &e.PerIndex,
				Filters: filter,
			}

			results, err := source.Provider.Query(ctx, text, opts)

			if err != nil {
				lastErr = err
				continue
			}

			for _, r := range results {
				chunks = append(chunks, rag.Chunk{
					ID:    r.Document.ID,
					Index: source.Name,

					Title:    r.Document.Title,
					Section:  r.Document.Section,
					Location: r.Document.Location,

					Content: r.Document.Content,

					Score: r.Score,
				})
			}
		}
	}

	if len(chunks) == 0 && lastErr != nil {
		return nil, lastErr
	}

	return chunks, nil
}

// dedupe drops chunks referencing the same document section, keeping the
// highest-scoring instance.
func dedupe(chunks []rag.Chunk) []rag.Chunk {
	best := map[string]int{}

	var unique []rag.Chunk

	for _, chunk := range chunks {
		key := chunk.Location + "#" + chunk.Section

		if chunk.Location == "" && chunk.Section == "" {
			key = chunk.Index + "#" + chunk.ID
		}

		if i, ok := best[key]; ok {
			if chunk.Score > unique[i].Score {
				unique[i] = chunk
			}

			continue
		}

		best[key] = len(unique)
		unique = append(unique, chunk)
	}

	return unique
}

// rerank re-scores the merged chunks against the query. A rerank failure
// keeps the backend scores.
func (e *Engine) rerank(ctx context.Context, query string, chunks []rag.Chunk) []rag.Chunk {
	if len(chunks) == 0 {
		return chunks
	}

	inputs := make([]string, len(chunks))

	for i, chunk := range chunks {
		inputs[i] = chunk.Content
	}

	rankings, err := e.reranker.Rerank(ctx, query, inputs, nil)

	if err != nil {
		log.WithFields(log.Fields{"stage": "retrieval", "error": err}).Warn("rerank failed, keeping backend scores")
		return chunks
	}

	scores := map[string]float64{}

	for _, r := range rankings {
		scores[r.Content] = r.Score
	}

	for i := range chunks {
		if score, ok := scores[chunks[i].Content]; ok {
			chunks[i].Score = float32(score)
		}
	}

	return chunks
}

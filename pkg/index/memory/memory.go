// Package memory implements an in-process index.Provider. It backs the
// "memory" index type for conversation memory and small deployments, and
// stands in for the search backend in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/gtonic/counsel/pkg/index"
)

var _ index.Provider = (*Provider)(nil)

type Provider struct {
	mu sync.RWMutex

	documents []index.Document
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Index(ctx context.Context, doc index.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if doc.ID != "" {
		for i, d := range p.documents {
			if d.ID == doc.ID {
				p.documents[i] = doc
				return nil
			}
		}
	}

	p.documents = append(p.documents, doc)
	return nil
}

func (p *Provider) Query(ctx context.Context, query string, opts *index.QueryOptions) ([]index.QueryResult, error) {
	if opts == nil {
		opts = new(index.QueryOptions)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))

	var results []index.QueryResult

	for _, doc := range p.documents {
		if !matchesFilters(doc, opts.Filters) {
			continue
		}

		score := overlap(terms, doc)

		if score == 0 {
			continue
		}

		results = append(results, index.QueryResult{
			Document: doc,
			Score:    score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if opts.Limit != nil && len(results) > *opts.Limit {
		results = results[:*opts.Limit]
	}

	return results, nil
}

func matchesFilters(doc index.Document, filters map[string]string) bool {
	for key, value := range filters {
		if doc.Metadata[key] != value {
			return false
		}
	}

	return true
}

// overlap scores a document by the fraction of query terms it contains.
func overlap(terms []string, doc index.Document) float32 {
	if len(terms) == 0 {
		return 0
	}

	text := strings.ToLower(doc.Title + " " + doc.Section + " " + doc.Content)

	var hits int

	for _, term := range terms {
		if strings.Contains(text, term) {
			hits++
		}
	}

	return float32(hits) / float32(len(terms))
}

// Package rag defines the data model shared by the retrieval pipeline stages.
package rag

import (
	"github.com/gtonic/counsel/pkg/failover"
	"github.com/gtonic/counsel/pkg/index"
	"github.com/gtonic/counsel/pkg/provider"
)

// Turn is one prior message of the conversation.
type Turn struct {
	Role provider.MessageRole
	Text string
}

// Query is the immutable input of one pipeline run.
type Query struct {
	// ID identifies the request, for provenance of derived values.
	ID string

	// ConversationID ties the query to its conversation.
	ConversationID string

	// Text is the raw user query of the current turn.
	Text string

	// History holds the prior turns, oldest first.
	History []Turn

	// Groups are the identity/group tags used for document access filtering.
	Groups []string
}

// Source is a registered document index with the description the router
// feeds to its classification prompt.
type Source struct {
	Name        string
	Description string

	Provider index.Provider
}

// IndexCandidate is one index the router deemed relevant.
type IndexCandidate struct {
	Source Source

	// Score is the router's confidence, higher is more relevant.
	Score float64

	// Reason is the router's rationale.
	Reason string
}

// RetrievalQuery is the standalone search query derived from a Query.
type RetrievalQuery struct {
	// QueryID links back to the originating Query.
	QueryID string

	// Text is the primary rewritten query.
	Text string

	// Alternates are additional rewrites, all searched and merged.
	Alternates []string
}

// All returns the primary text followed by the alternates.
func (q RetrievalQuery) All() []string {
	return append([]string{q.Text}, q.Alternates...)
}

// Chunk is a retrieved unit of document text. Chunks are immutable once
// retrieved; review only decides membership in the reviewed set.
type Chunk struct {
	// ID identifies the chunk within its index.
	ID string

	// Index names the index the chunk came from.
	Index string

	Title    string
	Section  string
	Location string

	Content string

	// Score is the retrieval score from the search backend.
	Score float32
}

// Verdict is the reviewer's judgment of one chunk.
type Verdict struct {
	// Grade is the graded relevance, 0 (irrelevant) to 3 (directly relevant).
	Grade int

	// Rationale is the reviewer's reasoning.
	Rationale string
}

// ReviewedChunk is a chunk that made it into the reviewed set.
type ReviewedChunk struct {
	Chunk

	Verdict Verdict

	// Unreviewed marks chunks included by fallback after a reviewer failure.
	Unreviewed bool
}

// ReviewedContext is the ordered, budget-bounded set of chunks included in
// the generation prompt. Order is by original retrieval score descending.
type ReviewedContext []ReviewedChunk

// Size returns the total character size of the context.
func (c ReviewedContext) Size() int {
	var size int

	for _, chunk := range c {
		size += len(chunk.Content)
	}

	return size
}

// Citation points at a source document that contributed context.
type Citation struct {
	Name string
	URL  string
}

// GenerationResult is the outcome of a completed pipeline run.
type GenerationResult struct {
	Completion *provider.Completion

	// Candidate names the provider candidate that produced the completion.
	Candidate string

	// Attempts lists the failed candidate attempts that preceded success.
	Attempts []failover.Attempt

	// Context is the reviewed context that was included in the prompt.
	Context ReviewedContext

	// Citations lists the unique source documents behind the context.
	Citations []Citation

	// Searched names the indexes that were actually searched.
	Searched []string
}

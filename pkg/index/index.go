// Package index defines the retrieval interface over document indexes and the
// types shared by its implementations.
package index

import (
	"context"
	"errors"
)

// ErrUnavailable signals that the search backend could not be reached.
// Callers degrade to an empty result set instead of failing the request.
var ErrUnavailable = errors.New("index unavailable")

// Document represents a stored/retrieved chunk of a source document.
type Document struct {
	// ID identifies the chunk within its index.
	ID string

	// Title is the name of the source document.
	Title string

	// Section is the name of the chunk within the source document.
	Section string

	// Location is the URL or path of the source document.
	Location string

	// Content is the textual payload.
	Content string

	// Metadata contains arbitrary key/value pairs associated with the document.
	Metadata map[string]string

	// Embedding optionally holds the vector representation of the content.
	Embedding []float32
}

// QueryOptions control retrieval behavior.
type QueryOptions struct {
	// Limit defines the maximum number of results to return.
	Limit *int

	// Filters constrains results by metadata, e.g. access group tags.
	Filters map[string]string
}

// QueryResult represents a single retrieval hit.
type QueryResult struct {
	Document Document

	// Score is the backend's relevance score for this hit.
	Score float32
}

// Provider abstracts an index capable of storing and retrieving documents.
type Provider interface {
	// Index stores a document in the index.
	Index(ctx context.Context, doc Document) error

	// Query retrieves documents relevant to the query with optional options.
	Query(ctx context.Context, query string, opts *QueryOptions) ([]QueryResult, error)
}

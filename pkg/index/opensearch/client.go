// Package opensearch implements index.Provider against an OpenSearch cluster.
// Queries run as hybrid search: lexical multi_match over the document fields
// plus, when an embedder is configured, a knn clause over the chunk embedding.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gtonic/counsel/pkg/index"
	"github.com/gtonic/counsel/pkg/provider"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

var _ index.Provider = (*Client)(nil)

type Client struct {
	client *opensearch.Client

	name string

	embedder provider.Embedder
}

type Option func(*Client)

// WithEmbedder enables the vector half of the hybrid query.
func WithEmbedder(embedder provider.Embedder) Option {
	return func(c *Client) {
		c.embedder = embedder
	}
}

type Config struct {
	Addresses []string

	Username string
	Password string

	InsecureSkipVerify bool
}

func New(name string, config Config, options ...Option) (*Client, error) {
	if name == "" {
		return nil, errors.New("missing index name")
	}

	cfg := opensearch.Config{
		Addresses: config.Addresses,

		Username: config.Username,
		Password: config.Password,
	}

	if config.InsecureSkipVerify {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := opensearch.NewClient(cfg)

	if err != nil {
		return nil, err
	}

	c := &Client{
		client: client,

		name: name,
	}

	for _, option := range options {
		option(c)
	}

	return c, nil
}

type document struct {
	DocumentName string `json:"document_name"`
	DocumentURL  string `json:"document_url"`

	ChunkName    string `json:"chunk_name"`
	ChunkContent string `json:"chunk_content"`

	Metadata map[string]string `json:"metadata,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`
}

func (c *Client) Index(ctx context.Context, doc index.Document) error {
	body := document{
		DocumentName: doc.Title,
		DocumentURL:  doc.Location,

		ChunkName:    doc.Section,
		ChunkContent: doc.Content,

		Metadata: doc.Metadata,

		Embedding: doc.Embedding,
	}

	if body.Embedding == nil && c.embedder != nil {
		embedding, err := c.embedder.Embed(ctx, []string{doc.Content})

		if err != nil {
			return err
		}

		if len(embedding.Embeddings) > 0 {
			body.Embedding = embedding.Embeddings[0]
		}
	}

	data, err := json.Marshal(body)

	if err != nil {
		return err
	}

	req := opensearchapi.IndexRequest{
		Index:      c.name,
		DocumentID: doc.ID,

		Body: bytes.NewReader(data),
	}

	res, err := req.Do(ctx, c.client)

	if err != nil {
		return fmt.Errorf("%w: %v", index.ErrUnavailable, err)
	}

	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index request failed: %s", res.String())
	}

	return nil
}

func (c *Client) Query(ctx context.Context, query string, opts *index.QueryOptions) ([]index.QueryResult, error) {
	if opts == nil {
		opts = new(index.QueryOptions)
	}

	limit := 3

	if opts.Limit != nil {
		limit = *opts.Limit
	}

	body, err := c.searchBody(ctx, query, limit, opts.Filters)

	if err != nil {
		return nil, err
	}

	req := opensearchapi.SearchRequest{
		Index: []string{c.name},

		Body: bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", index.ErrUnavailable, err)
	}

	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %s", index.ErrUnavailable, res.Status())
		}

		return nil, fmt.Errorf("search request failed: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID     string   `json:"_id"`
				Score  float32  `json:"_score"`
				Source document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, err
	}

	var results []index.QueryResult

	for _, hit := range result.Hits.Hits {
		results = append(results, index.QueryResult{
			Document: index.Document{
				ID: hit.ID,

				Title:    hit.Source.DocumentName,
				Section:  hit.Source.ChunkName,
				Location: hit.Source.DocumentURL,

				Content: hit.Source.ChunkContent,

				Metadata: hit.Source.Metadata,
			},

			Score: hit.Score,
		})
	}

	return results, nil
}

func (c *Client) searchBody(ctx context.Context, query string, limit int, filters map[string]string) ([]byte, error) {
	should := []map[string]any{
		{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"document_name", "chunk_name", "chunk_content"},
			},
		},
	}

	if c.embedder != nil {
		// an embedder failure degrades the query to lexical-only
		embedding, err := c.embedder.Embed(ctx, []string{query})

		if err == nil && len(embedding.Embeddings) > 0 {
			should = append(should, map[string]any{
				"knn": map[string]any{
					"embedding": map[string]any{
						"vector": embedding.Embeddings[0],
						"k":      limit,
					},
				},
			})
		}
	}

	boolQuery := map[string]any{
		"should":               should,
		"minimum_should_match": 1,
	}

	if len(filters) > 0 {
		var filter []map[string]any

		for key, value := range filters {
			filter = append(filter, map[string]any{
				"term": map[string]any{
					"metadata." + key + ".keyword": value,
				},
			})
		}

		boolQuery["filter"] = filter
	}

	return json.Marshal(map[string]any{
		"query": map[string]any{
			"bool": boolQuery,
		},
		"size": limit,
	})
}

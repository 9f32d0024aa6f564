// Package cohere implements a provider.Reranker against the Cohere Rerank API.
package cohere

import (
	"context"
	"errors"

	"github.com/gtonic/counsel/pkg/provider"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	coherecore "github.com/cohere-ai/cohere-go/v2/core"
	"golang.org/x/time/rate"
)

var _ provider.Reranker = (*Reranker)(nil)

type Reranker struct {
	model string

	client *cohereclient.Client

	limiter *rate.Limiter
}

type Option func(*Reranker)

func WithLimiter(limiter *rate.Limiter) Option {
	return func(r *Reranker) {
		r.limiter = limiter
	}
}

func New(model, token string, options ...Option) (*Reranker, error) {
	if model == "" {
		return nil, errors.New("missing model")
	}

	r := &Reranker{
		model: model,

		client: cohereclient.NewClient(cohereclient.WithToken(token)),
	}

	for _, option := range options {
		option(r)
	}

	return r, nil
}

func (r *Reranker) Rerank(ctx context.Context, query string, inputs []string, options *provider.RerankOptions) ([]provider.Ranking, error) {
	if options == nil {
		options = new(provider.RerankOptions)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req := &cohere.V2RerankRequest{
		Model: r.model,

		Query:     query,
		Documents: inputs,
	}

	if options.Limit != nil {
		req.TopN = options.Limit
	}

	resp, err := r.client.V2.Rerank(ctx, req)

	if err != nil {
		return nil, convertError(err)
	}

	var rankings []provider.Ranking

	for _, result := range resp.Results {
		if result.Index < 0 || result.Index >= len(inputs) {
			continue
		}

		rankings = append(rankings, provider.Ranking{
			Content: inputs[result.Index],
			Score:   result.RelevanceScore,
		})
	}

	return rankings, nil
}

func convertError(err error) error {
	var apierr *coherecore.APIError

	if errors.As(err, &apierr) {
		return provider.NewError("cohere", provider.ErrorKindFromStatus(apierr.StatusCode), err)
	}

	return err
}

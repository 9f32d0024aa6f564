package config

import (
	"context"
	"errors"

	"github.com/gtonic/counsel/pkg/provider"
	"github.com/gtonic/counsel/pkg/provider/anthropic"
	"github.com/gtonic/counsel/pkg/provider/bedrock"
	"github.com/gtonic/counsel/pkg/provider/google"
	"github.com/gtonic/counsel/pkg/provider/openai"
)

// createCandidateCompleter builds a completer for one failover candidate.
// Token, base URL and rate limit are inherited from the provider entry of
// the same name, when one is configured.
func (c *Config) createCandidateCompleter(cfg candidateConfig) (provider.Completer, error) {
	entry, ok := c.providers[cfg.Provider]

	if !ok {
		entry = providerConfig{Type: cfg.Provider}
	}

	limiter := createLimiter(entry.Limit)

	switch entry.Type {
	case "bedrock":
		region := cfg.Region

		if region == "" {
			region = entry.Region
		}

		return bedrock.New(region, cfg.Model, bedrock.WithLimiter(limiter))

	case "anthropic":
		return anthropic.New(cfg.Model, anthropic.WithToken(entry.Token), anthropic.WithLimiter(limiter))

	case "openai":
		return openai.NewCompleter(cfg.Model, &openai.Config{
			Token:   entry.Token,
			BaseURL: entry.BaseURL,

			Limiter: limiter,
		})

	case "google":
		return google.New(context.Background(), cfg.Model, entry.Token, google.WithLimiter(limiter))
	}

	return nil, errors.New("invalid candidate provider: " + cfg.Provider)
}

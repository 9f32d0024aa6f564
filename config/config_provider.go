package config

import (
	"context"
	"errors"

	"github.com/gtonic/counsel/pkg/provider"
	"github.com/gtonic/counsel/pkg/provider/anthropic"
	"github.com/gtonic/counsel/pkg/provider/bedrock"
	"github.com/gtonic/counsel/pkg/provider/cohere"
	"github.com/gtonic/counsel/pkg/provider/google"
	"github.com/gtonic/counsel/pkg/provider/openai"
)

type providerConfig struct {
	Type string `yaml:"type"`
	Name string `yaml:"name,omitempty"`

	Token   string `yaml:"token,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Region  string `yaml:"region,omitempty"`

	// Limit is the request rate limit per second.
	Limit *int `yaml:"limit,omitempty"`

	Models map[string]modelConfig `yaml:"models"`
}

type modelConfig struct {
	// ID is the provider-native model identifier.
	ID string `yaml:"id"`

	// Type selects the capability: completer (default), embedder, reranker.
	Type string `yaml:"type,omitempty"`
}

func (c *Config) registerProviders(f *configFile) error {
	c.completers = make(map[string]provider.Completer)
	c.embedders = make(map[string]provider.Embedder)
	c.rerankers = make(map[string]provider.Reranker)

	c.providers = make(map[string]providerConfig)

	for _, cfg := range f.Providers {
		name := cfg.Name

		if name == "" {
			name = cfg.Type
		}

		if _, ok := c.providers[name]; ok {
			return errors.New("duplicate provider: " + name)
		}

		c.providers[name] = cfg

		for alias, model := range cfg.Models {
			if err := c.registerModel(cfg, alias, model); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Config) registerModel(cfg providerConfig, alias string, model modelConfig) error {
	id := model.ID

	if id == "" {
		id = alias
	}

	limiter := createLimiter(cfg.Limit)

	switch cfg.Type {
	case "anthropic":
		switch model.Type {
		case "", "completer":
			completer, err := anthropic.New(id, anthropic.WithToken(cfg.Token), anthropic.WithLimiter(limiter))

			if err != nil {
				return err
			}

			c.completers[alias] = completer

		default:
			return errors.New("invalid model type for anthropic: " + model.Type)
		}

	case "bedrock":
		switch model.Type {
		case "", "completer":
			completer, err := bedrock.New(cfg.Region, id, bedrock.WithLimiter(limiter))

			if err != nil {
				return err
			}

			c.completers[alias] = completer

		default:
			return errors.New("invalid model type for bedrock: " + model.Type)
		}

	case "openai":
		config := &openai.Config{
			Token:   cfg.Token,
			BaseURL: cfg.BaseURL,

			Limiter: limiter,
		}

		switch model.Type {
		case "", "completer":
			completer, err := openai.NewCompleter(id, config)

			if err != nil {
				return err
			}

			c.completers[alias] = completer

		case "embedder":
			embedder, err := openai.NewEmbedder(id, config)

			if err != nil {
				return err
			}

			c.embedders[alias] = embedder

		default:
			return errors.New("invalid model type for openai: " + model.Type)
		}

	case "google":
		switch model.Type {
		case "", "completer":
			completer, err := google.New(context.Background(), id, cfg.Token, google.WithLimiter(limiter))

			if err != nil {
				return err
			}

			c.completers[alias] = completer

		default:
			return errors.New("invalid model type for google: " + model.Type)
		}

	case "cohere":
		switch model.Type {
		case "", "reranker":
			reranker, err := cohere.New(id, cfg.Token, cohere.WithLimiter(limiter))

			if err != nil {
				return err
			}

			c.rerankers[alias] = reranker

		default:
			return errors.New("invalid model type for cohere: " + model.Type)
		}

	default:
		return errors.New("invalid provider type: " + cfg.Type)
	}

	return nil
}

package config

import (
	"errors"

	"github.com/gtonic/counsel/pkg/index/memory"
	"github.com/gtonic/counsel/pkg/index/opensearch"
)

type indexConfig struct {
	Type string `yaml:"type"`

	// Description is what the index router feeds to its classification prompt.
	Description string `yaml:"description,omitempty"`

	Addresses []string `yaml:"addresses,omitempty"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	Insecure bool `yaml:"insecure,omitempty"`

	// Embedder references an embedder model for hybrid search.
	Embedder string `yaml:"embedder,omitempty"`
}

func (c *Config) registerIndexes(f *configFile) error {
	c.indexes = make(map[string]indexEntry)

	for name, cfg := range f.Indexes {
		switch cfg.Type {
		case "opensearch":
			var options []opensearch.Option

			if cfg.Embedder != "" {
				embedder, err := c.Embedder(cfg.Embedder)

				if err != nil {
					return err
				}

				options = append(options, opensearch.WithEmbedder(embedder))
			}

			client, err := opensearch.New(name, opensearch.Config{
				Addresses: cfg.Addresses,

				Username: cfg.Username,
				Password: cfg.Password,

				InsecureSkipVerify: cfg.Insecure,
			}, options...)

			if err != nil {
				return err
			}

			c.indexes[name] = indexEntry{
				Description: cfg.Description,
				Provider:    client,
			}

		case "memory":
			c.indexes[name] = indexEntry{
				Description: cfg.Description,
				Provider:    memory.New(),
			}

		default:
			return errors.New("invalid index type: " + cfg.Type)
		}
	}

	return nil
}

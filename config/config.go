package config

import (
	"bytes"
	"errors"
	"os"

	"github.com/gtonic/counsel/pkg/authorizer"
	"github.com/gtonic/counsel/pkg/chain"
	"github.com/gtonic/counsel/pkg/index"
	"github.com/gtonic/counsel/pkg/provider"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Address string

	Authorizers []authorizer.Provider

	completers map[string]provider.Completer
	embedders  map[string]provider.Embedder
	rerankers  map[string]provider.Reranker

	providers map[string]providerConfig

	indexes map[string]indexEntry

	chains map[string]chain.Provider
}

type indexEntry struct {
	Description string

	Provider index.Provider
}

func (c *Config) Completer(id string) (provider.Completer, error) {
	if p, ok := c.completers[id]; ok {
		return p, nil
	}

	return nil, errors.New("completer not found: " + id)
}

func (c *Config) Embedder(id string) (provider.Embedder, error) {
	if p, ok := c.embedders[id]; ok {
		return p, nil
	}

	return nil, errors.New("embedder not found: " + id)
}

func (c *Config) Reranker(id string) (provider.Reranker, error) {
	if p, ok := c.rerankers[id]; ok {
		return p, nil
	}

	return nil, errors.New("reranker not found: " + id)
}

func (c *Config) Index(id string) (index.Provider, error) {
	if e, ok := c.indexes[id]; ok {
		return e.Provider, nil
	}

	return nil, errors.New("index not found: " + id)
}

func (c *Config) Chain(id string) (chain.Provider, error) {
	if p, ok := c.chains[id]; ok {
		return p, nil
	}

	return nil, errors.New("chain not found: " + id)
}

// Chains returns a copy of the registered chains.
func (c *Config) Chains() map[string]chain.Provider {
	chains := make(map[string]chain.Provider, len(c.chains))

	for id, p := range c.chains {
		chains[id] = p
	}

	return chains
}

func (c *Config) RegisterChain(id string, p chain.Provider) error {
	if c.chains == nil {
		c.chains = make(map[string]chain.Provider)
	}

	if _, ok := c.chains[id]; ok {
		return errors.New("duplicate chain: " + id)
	}

	c.chains[id] = p
	return nil
}

func Parse(path string) (*Config, error) {
	file, err := parseFile(path)

	if err != nil {
		return nil, err
	}

	c := &Config{
		Address: ":8080",
	}

	if err := c.registerAuthorizers(file); err != nil {
		return nil, err
	}

	if err := c.registerProviders(file); err != nil {
		return nil, err
	}

	if err := c.registerIndexes(file); err != nil {
		return nil, err
	}

	if err := c.registerPipelines(file); err != nil {
		return nil, err
	}

	if err := c.registerChains(file); err != nil {
		return nil, err
	}

	return c, nil
}

type configFile struct {
	Authorizers []authorizerConfig `yaml:"authorizers"`

	Providers []providerConfig `yaml:"providers"`

	Indexes map[string]indexConfig `yaml:"indexes"`

	Pipelines map[string]pipelineConfig `yaml:"pipelines"`

	Chains map[string]chainConfig `yaml:"chains"`
}

func parseFile(path string) (*configFile, error) {
	data, err := os.ReadFile(path)

	if err != nil {
		return nil, err
	}

	data = []byte(os.ExpandEnv(string(data)))

	var config configFile

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

type authorizerConfig struct {
	Type string `yaml:"type"`

	Tokens []string `yaml:"tokens,omitempty"`
}

func (c *Config) registerAuthorizers(f *configFile) error {
	for _, cfg := range f.Authorizers {
		switch cfg.Type {
		case "static":
			c.Authorizers = append(c.Authorizers, authorizer.NewStatic(cfg.Tokens...))

		default:
			return errors.New("invalid authorizer type: " + cfg.Type)
		}
	}

	return nil
}

func createLimiter(limit *int) *rate.Limiter {
	if limit == nil {
		return nil
	}

	return rate.NewLimiter(rate.Limit(*limit), *limit)
}

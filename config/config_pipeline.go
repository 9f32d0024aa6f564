package config

import (
	"errors"
	"time"

	ragchain "github.com/gtonic/counsel/pkg/chain/rag"
	"github.com/gtonic/counsel/pkg/failover"
	"github.com/gtonic/counsel/pkg/memory"
	"github.com/gtonic/counsel/pkg/rag"
	"github.com/gtonic/counsel/pkg/rag/pipeline"
	"github.com/gtonic/counsel/pkg/rag/retriever"
	"github.com/gtonic/counsel/pkg/rag/reviewer"
	"github.com/gtonic/counsel/pkg/rag/rewriter"
	"github.com/gtonic/counsel/pkg/rag/router"
)

type pipelineConfig struct {
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// Indexes lists the searchable indexes in registration order, which is
	// also the tie-break order for equal router scores.
	Indexes []string `yaml:"indexes"`

	RouterModel   string `yaml:"router_model,omitempty"`
	RewriterModel string `yaml:"rewriter_model,omitempty"`
	ReviewerModel string `yaml:"reviewer_model,omitempty"`

	// Reranker references a reranker model for merge re-scoring.
	Reranker string `yaml:"reranker,omitempty"`

	TopK     int `yaml:"top_k,omitempty"`
	PerIndex int `yaml:"per_index,omitempty"`

	RelevanceThreshold *int `yaml:"relevance_threshold,omitempty"`
	ChunkBudget        *int `yaml:"chunk_budget,omitempty"`
	FallbackTopN       *int `yaml:"fallback_top_n,omitempty"`

	// Deadline bounds the whole pipeline run, e.g. "5m".
	Deadline string `yaml:"deadline,omitempty"`

	Candidates []candidateConfig `yaml:"candidates"`

	Memory *memoryConfig `yaml:"memory,omitempty"`
}

type candidateConfig struct {
	Provider string `yaml:"provider"`
	Region   string `yaml:"region,omitempty"`
	Model    string `yaml:"model"`

	// Timeout bounds one attempt against this candidate, e.g. "115s".
	Timeout string `yaml:"timeout,omitempty"`
}

type memoryConfig struct {
	Index string `yaml:"index"`

	RecallK int `yaml:"recall_k,omitempty"`

	LogConversations bool `yaml:"log_conversations,omitempty"`
	InjectMemories   bool `yaml:"inject_memories,omitempty"`
}

func (c *Config) registerPipelines(f *configFile) error {
	for name, cfg := range f.Pipelines {
		p, err := c.createPipeline(cfg)

		if err != nil {
			return errors.New("pipeline " + name + ": " + err.Error())
		}

		var options []ragchain.Option

		if cfg.Memory != nil {
			manager, err := c.createMemory(cfg.Memory)

			if err != nil {
				return errors.New("pipeline " + name + ": " + err.Error())
			}

			options = append(options, ragchain.WithMemory(manager))
		}

		ch, err := ragchain.New(p, options...)

		if err != nil {
			return err
		}

		if err := c.RegisterChain(name, ch); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) createPipeline(cfg pipelineConfig) (*pipeline.Pipeline, error) {
	if len(cfg.Candidates) == 0 {
		return nil, errors.New("missing provider candidates")
	}

	var candidates []failover.Candidate

	for _, cc := range cfg.Candidates {
		candidate, err := c.createCandidate(cc)

		if err != nil {
			return nil, err
		}

		candidates = append(candidates, candidate)
	}

	generator, err := failover.New(candidates...)

	if err != nil {
		return nil, err
	}

	options := []pipeline.Option{
		pipeline.WithSystemPrompt(cfg.SystemPrompt),
	}

	if cfg.Deadline != "" {
		deadline, err := time.ParseDuration(cfg.Deadline)

		if err != nil {
			return nil, errors.New("invalid deadline: " + cfg.Deadline)
		}

		options = append(options, pipeline.WithDeadline(deadline))
	}

	var sources []rag.Source

	for _, id := range cfg.Indexes {
		entry, ok := c.indexes[id]

		if !ok {
			return nil, errors.New("index not found: " + id)
		}

		sources = append(sources, rag.Source{
			Name:        id,
			Description: entry.Description,

			Provider: entry.Provider,
		})
	}

	if len(sources) > 0 {
		if cfg.RouterModel == "" {
			return nil, errors.New("missing router_model")
		}

		completer, err := c.Completer(cfg.RouterModel)

		if err != nil {
			return nil, err
		}

		r, err := router.New(completer, sources...)

		if err != nil {
			return nil, err
		}

		options = append(options, pipeline.WithRouter(r))

		var retrieverOptions []retriever.Option

		if cfg.Reranker != "" {
			reranker, err := c.Reranker(cfg.Reranker)

			if err != nil {
				return nil, err
			}

			retrieverOptions = append(retrieverOptions, retriever.WithReranker(reranker))
		}

		options = append(options, pipeline.WithRetriever(retriever.New(cfg.TopK, cfg.PerIndex, retrieverOptions...)))

		if cfg.RewriterModel != "" {
			completer, err := c.Completer(cfg.RewriterModel)

			if err != nil {
				return nil, err
			}

			rw, err := rewriter.New(completer)

			if err != nil {
				return nil, err
			}

			options = append(options, pipeline.WithRewriter(rw))
		}

		if cfg.ReviewerModel != "" {
			completer, err := c.Completer(cfg.ReviewerModel)

			if err != nil {
				return nil, err
			}

			var reviewerOptions []reviewer.Option

			if cfg.RelevanceThreshold != nil {
				reviewerOptions = append(reviewerOptions, reviewer.WithThreshold(*cfg.RelevanceThreshold))
			}

			if cfg.ChunkBudget != nil {
				reviewerOptions = append(reviewerOptions, reviewer.WithBudget(*cfg.ChunkBudget))
			}

			if cfg.FallbackTopN != nil {
				reviewerOptions = append(reviewerOptions, reviewer.WithFallbackTopN(*cfg.FallbackTopN))
			}

			rv, err := reviewer.New(completer, reviewerOptions...)

			if err != nil {
				return nil, err
			}

			options = append(options, pipeline.WithReviewer(rv))
		}
	}

	return pipeline.New(generator, options...)
}

func (c *Config) createCandidate(cfg candidateConfig) (failover.Candidate, error) {
	completer, err := c.createCandidateCompleter(cfg)

	if err != nil {
		return failover.Candidate{}, err
	}

	var timeout time.Duration

	if cfg.Timeout != "" {
		timeout, err = time.ParseDuration(cfg.Timeout)

		if err != nil {
			return failover.Candidate{}, errors.New("invalid timeout: " + cfg.Timeout)
		}
	}

	return failover.Candidate{
		Provider: cfg.Provider,
		Region:   cfg.Region,
		Model:    cfg.Model,

		Completer: completer,

		Timeout: timeout,
	}, nil
}

func (c *Config) createMemory(cfg *memoryConfig) (*memory.Manager, error) {
	idx, err := c.Index(cfg.Index)

	if err != nil {
		return nil, err
	}

	recallK := cfg.RecallK

	if recallK <= 0 {
		recallK = 3
	}

	return memory.NewManager(&memory.Config{
		RecallK: recallK,

		LogConversations: cfg.LogConversations,
		InjectMemories:   cfg.InjectMemories,
	}, idx), nil
}

// Package pipeline sequences the retrieval stages and dispatches the final
// generation request through the failover router.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gtonic/counsel/pkg/failover"
	"github.com/gtonic/counsel/pkg/provider"
	"github.com/gtonic/counsel/pkg/rag"
	"github.com/gtonic/counsel/pkg/rag/retriever"
	"github.com/gtonic/counsel/pkg/rag/reviewer"
	"github.com/gtonic/counsel/pkg/rag/rewriter"
	"github.com/gtonic/counsel/pkg/rag/router"

	log "github.com/sirupsen/logrus"
	"github.com/google/uuid"
)

type Pipeline struct {
	router    *router.Router
	rewriter  *rewriter.Rewriter
	retriever *retriever.Engine
	reviewer  *reviewer.Reviewer

	generator *failover.Router

	system string

	deadline time.Duration
}

type Option func(*Pipeline)

func WithRouter(r *router.Router) Option {
	return func(p *Pipeline) {
		p.router = r
	}
}

func WithRewriter(r *rewriter.Rewriter) Option {
	return func(p *Pipeline) {
		p.rewriter = r
	}
}

func WithRetriever(e *retriever.Engine) Option {
	return func(p *Pipeline) {
		p.retriever = e
	}
}

func WithReviewer(r *reviewer.Reviewer) Option {
	return func(p *Pipeline) {
		p.reviewer = r
	}
}

func WithSystemPrompt(system string) Option {
	return func(p *Pipeline) {
		p.system = system
	}
}

// WithDeadline bounds the whole pipeline run, retrieval stages included.
func WithDeadline(deadline time.Duration) Option {
	return func(p *Pipeline) {
		p.deadline = deadline
	}
}

func New(generator *failover.Router, options ...Option) (*Pipeline, error) {
	if generator == nil {
		return nil, errors.New("missing generation router")
	}

	p := &Pipeline{
		generator: generator,
	}

	for _, option := range options {
		option(p)
	}

	return p, nil
}

// Run executes the pipeline for one query. Stage failures in routing,
// rewriting, retrieval and review degrade to generation with reduced
// context; only provider exhaustion or deadline expiry return an error.
func (p *Pipeline) Run(ctx context.Context, query rag.Query, options *provider.CompleteOptions) (*rag.GenerationResult, error) {
	if query.ID == "" {
		query.ID = uuid.New().String()
	}

	if p.deadline > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}

	logger := log.WithFields(log.Fields{"query": query.ID, "conversation": query.ConversationID})

	var candidates []rag.IndexCandidate

	if p.router != nil {
		candidates = p.router.Route(ctx, query)
	}

	logger.WithField("indexes", len(candidates)).Debug("index routing complete")

	var chunks []rag.Chunk
	var searched []string

	if len(candidates) > 0 && p.retriever != nil {
		retrievalQuery := rag.RetrievalQuery{QueryID: query.ID, Text: query.Text}

		if p.rewriter != nil {
			retrievalQuery = p.rewriter.Rewrite(ctx, query)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results, err := p.retriever.Retrieve(ctx, retrievalQuery, candidates, query.Groups)

		switch {
		case errors.Is(err, retriever.ErrUnavailable):
			logger.WithField("error", err).Warn("retrieval unavailable, continuing without context")

		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			logger.WithField("error", err).Warn("retrieval failed, continuing without context")

		default:
			chunks = results

			for _, c := range candidates {
				searched = append(searched, c.Source.Name)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reviewed := p.review(ctx, query, chunks)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := p.assemble(query, reviewed, searched)

	result, err := p.generator.Dispatch(ctx, messages, options)

	if err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{
		"candidate": result.Candidate.Name(),
		"attempts":  len(result.Attempts),
		"chunks":    len(reviewed),
	}).Info("generation complete")

	return &rag.GenerationResult{
		Completion: result.Completion,

		Candidate: result.Candidate.Name(),
		Attempts:  result.Attempts,

		Context:   reviewed,
		Citations: citations(reviewed),
		Searched:  searched,
	}, nil
}

func (p *Pipeline) review(ctx context.Context, query rag.Query, chunks []rag.Chunk) rag.ReviewedContext {
	if len(chunks) == 0 {
		return nil
	}

	if p.reviewer == nil {
		var reviewed rag.ReviewedContext

		for _, chunk := range chunks {
			reviewed = append(reviewed, rag.ReviewedChunk{Chunk: chunk, Unreviewed: true})
		}

		return reviewed
	}

	return p.reviewer.Review(ctx, query, chunks)
}

// assemble builds the generation request: system prompt, conversation
// history, and the user query enriched with the reviewed context.
func (p *Pipeline) assemble(query rag.Query, reviewed rag.ReviewedContext, searched []string) []provider.Message {
	var messages []provider.Message

	if p.system != "" {
		messages = append(messages, provider.SystemMessage(p.system))
	}

	for _, turn := range query.History {
		messages = append(messages, provider.Message{
			Role:    turn.Role,
			Content: []provider.Content{provider.TextContent(turn.Text)},
		})
	}

	text := query.Text

	if len(reviewed) > 0 {
		var block strings.Builder

		block.WriteString("\n\nSearch engine results:\n\n```")

		for _, chunk := range reviewed {
			block.WriteString(fmt.Sprintf("\n\n---\n\nDocument title:\n%s\n\nSection title:\n%s\n\nContent:\n%s", chunk.Title, chunk.Section, chunk.Content))
		}

		block.WriteString("\n\n```")

		text += block.String()
	} else if len(searched) > 0 {
		text += fmt.Sprintf("\n\nThe following document index(es) were searched but no relevant material was found:\n\n```\n%s\n```", strings.Join(searched, "\n"))
	}

	return append(messages, provider.UserMessage(text))
}

// citations lists the unique source documents behind the reviewed context.
func citations(reviewed rag.ReviewedContext) []rag.Citation {
	seen := map[string]bool{}

	var result []rag.Citation

	for _, chunk := range reviewed {
		key := chunk.Title + "#" + chunk.Location

		if seen[key] {
			continue
		}

		seen[key] = true

		result = append(result, rag.Citation{
			Name: chunk.Title,
			URL:  chunk.Location,
		})
	}

	return result
}

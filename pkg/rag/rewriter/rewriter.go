// Package rewriter turns a conversational query into standalone search
// queries, resolving references against the prior turns.
package rewriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gtonic/counsel/pkg/provider"
	"github.com/gtonic/counsel/pkg/rag"

	log "github.com/sirupsen/logrus"
)

var systemPrompt = strings.TrimSpace(`
You rewrite the latest user query of a conversation into standalone search
engine queries. Resolve pronouns and references using the conversation so
each query makes sense on its own.

Respond with a JSON array of one to three query strings:
["<query>", ...]

Respond with JSON only.
`)

type Rewriter struct {
	completer provider.Completer
}

func New(completer provider.Completer) (*Rewriter, error) {
	if completer == nil {
		return nil, errors.New("missing completer provider")
	}

	return &Rewriter{
		completer: completer,
	}, nil
}

// Rewrite produces the retrieval query for the given conversational query.
// Any failure falls back to the raw query text so retrieval can proceed.
func (r *Rewriter) Rewrite(ctx context.Context, query rag.Query) rag.RetrievalQuery {
	fallback := rag.RetrievalQuery{
		QueryID: query.ID,
		Text:    query.Text,
	}

	var prompt strings.Builder

	if len(query.History) > 0 {
		prompt.WriteString("Conversation so far:\n\n")

		for _, turn := range query.History {
			prompt.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Text))
		}

		prompt.WriteString("\n")
	}

	prompt.WriteString(fmt.Sprintf("Latest user query:\n\n```%s```", query.Text))

	messages := []provider.Message{
		provider.SystemMessage(systemPrompt),
		provider.UserMessage(prompt.String()),
	}

	completion, err := r.completer.Complete(ctx, messages, nil)

	if err != nil {
		log.WithFields(log.Fields{"stage": "query_rewriter", "error": err}).Warn("query rewrite failed, using raw query")
		return fallback
	}

	var rewrites []string

	if err := json.Unmarshal([]byte(extractArray(completion.Text())), &rewrites); err != nil {
		log.WithFields(log.Fields{"stage": "query_rewriter", "output": completion.Text()}).Warn("unparsable query rewrite, using raw query")
		return fallback
	}

	var queries []string

	for _, q := range rewrites {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}

	if len(queries) == 0 {
		log.WithFields(log.Fields{"stage": "query_rewriter"}).Warn("empty query rewrite, using raw query")
		return fallback
	}

	return rag.RetrievalQuery{
		QueryID: query.ID,

		Text:       queries[0],
		Alternates: queries[1:],
	}
}

func extractArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")

	if start < 0 || end < start {
		return text
	}

	return text[start : end+1]
}

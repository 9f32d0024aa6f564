// Package memory logs completed conversation turns into an index and recalls
// relevant prior turns for prompt injection.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/gtonic/counsel/pkg/index"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	RecallK int

	LogConversations bool
	InjectMemories   bool
}

type Manager struct {
	config *Config
	index  index.Provider
}

func NewManager(config *Config, idx index.Provider) *Manager {
	return &Manager{
		config: config,
		index:  idx,
	}
}

// LogTurn stores a completed conversation turn, tagged with the conversation
// so recall can be scoped.
func (m *Manager) LogTurn(ctx context.Context, conversation, user, assistant string) error {
	if m.config == nil || !m.config.LogConversations || m.index == nil {
		return nil
	}

	doc := index.Document{
		ID: uuid.New().String(),

		Content: fmt.Sprintf("User: %s\nAssistant: %s", user, assistant),

		Metadata: map[string]string{
			"conversation": conversation,
		},
	}

	return m.index.Index(ctx, doc)
}

// Recall queries memory for turns relevant to the query.
func (m *Manager) Recall(ctx context.Context, conversation, query string) ([]index.Document, error) {
	if m.config == nil || !m.config.InjectMemories || m.index == nil {
		return nil, nil
	}

	opts := &index.QueryOptions{
		Limit: &m.config.RecallK,
	}

	if conversation != "" {
		opts.Filters = map[string]string{"conversation": conversation}
	}

	results, err := m.index.Query(ctx, query, opts)

	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"conversation": conversation, "results": len(results)}).Debug("memory recall")

	docs := make([]index.Document, 0, len(results))

	for _, r := range results {
		docs = append(docs, r.Document)
	}

	return docs, nil
}

// Inject prepends recalled memories to a prompt.
func Inject(prompt string, memories []index.Document) string {
	if len(memories) == 0 {
		return prompt
	}

	var sb strings.Builder

	sb.WriteString("Relevant past context:\n")

	for _, doc := range memories {
		sb.WriteString(doc.Content)
		sb.WriteString("\n---\n")
	}

	sb.WriteString(prompt)

	return sb.String()
}

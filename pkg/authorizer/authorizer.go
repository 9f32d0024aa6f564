// Package authorizer validates inbound API requests.
package authorizer

import (
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

type Provider interface {
	Authorize(r *http.Request) error
}

var _ Provider = (*Static)(nil)

// Static authorizes requests carrying one of a fixed set of bearer tokens.
type Static struct {
	tokens map[string]bool
}

func NewStatic(tokens ...string) *Static {
	s := &Static{
		tokens: make(map[string]bool, len(tokens)),
	}

	for _, token := range tokens {
		s.tokens[token] = true
	}

	return s
}

func (s *Static) Authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")

	token := strings.TrimPrefix(header, "Bearer ")

	if token == "" || !s.tokens[token] {
		return ErrUnauthorized
	}

	return nil
}

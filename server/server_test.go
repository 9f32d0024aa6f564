package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gtonic/counsel/config"
	"github.com/gtonic/counsel/pkg/authorizer"
	"github.com/gtonic/counsel/pkg/chain"
	"github.com/gtonic/counsel/pkg/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chainFunc func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error)

func (f chainFunc) Complete(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
	return f(ctx, messages, options)
}

func echo(text string) chainFunc {
	return func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		return &provider.Completion{
			ID: "cmpl-1",

			Reason: "stop",

			Message: &provider.Message{
				Role:    provider.MessageRoleAssistant,
				Content: []provider.Content{provider.TextContent(text)},
			},
		}, nil
	}
}

func newServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	s, err := New(cfg)
	require.NoError(t, err)

	return s
}

func TestHealth(t *testing.T) {
	s := newServer(t, &config.Config{})

	r := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestModels(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, cfg.RegisterChain("counsel", echo("ok")))
	require.NoError(t, cfg.RegisterChain("assistant", echo("ok")))

	s := newServer(t, cfg)

	r := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))

	require.Len(t, list.Data, 2)
	assert.Equal(t, "assistant", list.Data[0].ID)
	assert.Equal(t, "counsel", list.Data[1].ID)
}

func TestChatCompletion(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, cfg.RegisterChain("counsel", echo("You get 25 days.")))

	s := newServer(t, cfg)

	body := `{"model": "counsel", "messages": [{"role": "user", "content": "how much leave?"}]}`

	r := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "You get 25 days.", resp.Choices[0].Message.Content)
}

func TestChatCompletionUnknownModel(t *testing.T) {
	s := newServer(t, &config.Config{})

	body := `{"model": "missing", "messages": [{"role": "user", "content": "hi"}]}`

	r := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatCompletionStreaming(t *testing.T) {
	cfg := &config.Config{}

	require.NoError(t, cfg.RegisterChain("counsel", chainFunc(func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		for _, delta := range []string{"You get ", "25 days."} {
			if err := options.Stream(ctx, provider.Completion{
				Message: &provider.Message{
					Role:    provider.MessageRoleAssistant,
					Content: []provider.Content{provider.TextContent(delta)},
				},
			}); err != nil {
				return nil, err
			}
		}

		return echo("You get 25 days.")(ctx, messages, options)
	})))

	s := newServer(t, cfg)

	body := `{"model": "counsel", "stream": true, "messages": [{"role": "user", "content": "how much leave?"}]}`

	r := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	assert.Contains(t, w.Body.String(), "chat.completion.chunk")
	assert.Contains(t, w.Body.String(), "You get ")
	assert.Contains(t, w.Body.String(), "data: [DONE]")
}

func TestChatCompletionConversationScope(t *testing.T) {
	var conversation string

	cfg := &config.Config{}

	require.NoError(t, cfg.RegisterChain("counsel", chainFunc(func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		conversation = chain.Conversation(ctx)
		return echo("ok")(ctx, messages, options)
	})))

	s := newServer(t, cfg)

	body := `{"model": "counsel", "user": "user-42", "messages": [{"role": "user", "content": "hi"}]}`

	r := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-42", conversation)
}

func TestRegisterChainDuplicate(t *testing.T) {
	cfg := &config.Config{}

	require.NoError(t, cfg.RegisterChain("counsel", echo("ok")))
	assert.Error(t, cfg.RegisterChain("counsel", echo("ok")))
}

func TestAuthorization(t *testing.T) {
	cfg := &config.Config{
		Authorizers: []authorizer.Provider{authorizer.NewStatic("secret")},
	}

	require.NoError(t, cfg.RegisterChain("counsel", echo("ok")))

	s := newServer(t, cfg)

	r := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest("GET", "/v1/models", nil)
	r.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()

	s.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

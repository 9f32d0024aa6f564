// Package server exposes the configured chains over an OpenAI-style HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gtonic/counsel/config"
	"github.com/gtonic/counsel/pkg/chain"
	"github.com/gtonic/counsel/pkg/provider"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	config *config.Config

	handler http.Handler
}

func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		config: cfg,
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authorize)

		r.Get("/v1/models", s.handleModels)
		r.Post("/v1/chat/completions", s.handleChatCompletion)
	})

	s.handler = otelhttp.NewHandler(r, "server")

	return s, nil
}

func (s *Server) ListenAndServe(address string) error {
	server := &http.Server{
		Addr:    address,
		Handler: s.handler,

		ReadHeaderTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Authorizers) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		for _, a := range s.config.Authorizers {
			if err := a.Authorize(r); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type modelList struct {
	Object string  `json:"object"`
	Data   []model `json:"data"`
}

type model struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	list := modelList{Object: "list"}

	for id := range s.config.Chains() {
		list.Data = append(list.Data, model{ID: id, Object: "model"})
	}

	sort.Slice(list.Data, func(i, j int) bool {
		return list.Data[i].ID < list.Data[j].ID
	})

	writeJSON(w, http.StatusOK, list)
}

type chatRequest struct {
	Model string `json:"model"`

	Messages []chatMessage `json:"messages"`

	Stream bool `json:"stream,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`

	// User scopes conversation memory to the calling end-user.
	User string `json:"user,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req chatRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ch, err := s.config.Chain(req.Model)

	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var messages []provider.Message

	for _, m := range req.Messages {
		messages = append(messages, provider.Message{
			Role:    provider.MessageRole(m.Role),
			Content: []provider.Content{provider.TextContent(m.Content)},
		})
	}

	options := &provider.CompleteOptions{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	ctx := chain.WithConversation(r.Context(), req.User)

	if req.Stream {
		s.streamCompletion(ctx, w, req.Model, ch.Complete, messages, options)
		return
	}

	completion, err := ch.Complete(ctx, messages, options)

	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, convertCompletion(req.Model, completion))
}

type completeFunc func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error)

func (s *Server) streamCompletion(ctx context.Context, w http.ResponseWriter, model string, complete completeFunc, messages []provider.Message, options *provider.CompleteOptions) {
	flusher, ok := w.(http.Flusher)

	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	id := "chatcmpl-" + uuid.New().String()
	created := time.Now().Unix()

	options.Stream = func(ctx context.Context, completion provider.Completion) error {
		chunk := chatResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,

			Choices: []chatChoice{{
				Delta: &chatMessage{Role: "assistant", Content: completion.Text()},
			}},
		}

		data, err := json.Marshal(chunk)

		if err != nil {
			return err
		}

		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()

		return nil
	}

	if _, err := complete(ctx, messages, options); err != nil {
		chunk := map[string]any{"error": map[string]any{"message": err.Error()}}

		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func convertCompletion(model string, completion *provider.Completion) chatResponse {
	reason := string(completion.Reason)

	resp := chatResponse{
		ID:      completion.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,

		Choices: []chatChoice{{
			Message:      &chatMessage{Role: "assistant", Content: completion.Text()},
			FinishReason: &reason,
		}},
	}

	if completion.Usage != nil {
		resp.Usage = &chatUsage{
			PromptTokens:     completion.Usage.InputTokens,
			CompletionTokens: completion.Usage.OutputTokens,
			TotalTokens:      completion.Usage.InputTokens + completion.Usage.OutputTokens,
		}
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": err.Error(),
		},
	})
}

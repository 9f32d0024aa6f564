// Package failover dispatches generation requests across an ordered list of
// provider candidates until one succeeds or the list is exhausted.
package failover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gtonic/counsel/pkg/provider"

	log "github.com/sirupsen/logrus"
)

var _ provider.Completer = (*Router)(nil)

// DefaultTimeout bounds a single candidate attempt when the candidate does
// not configure its own timeout.
const DefaultTimeout = 115 * time.Second

// Candidate is one (provider, region, model) entry of the failover list.
// The list is configured once and never mutated by the router.
type Candidate struct {
	Provider string
	Region   string
	Model    string

	Completer provider.Completer

	Timeout time.Duration
}

// Name renders the candidate as "provider/region" (or just the provider
// name when no region applies).
func (c Candidate) Name() string {
	if c.Region == "" {
		return c.Provider
	}

	return c.Provider + "/" + c.Region
}

// Attempt records one failed candidate attempt.
type Attempt struct {
	Candidate Candidate

	Err error
}

// ExhaustedError is returned when every candidate was attempted and none
// succeeded. It carries one attempt per candidate.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var parts []string

	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Candidate.Name(), a.Err))
	}

	return "all provider candidates failed: " + strings.Join(parts, "; ")
}

// Result is a successful dispatch with its attempt history.
type Result struct {
	Completion *provider.Completion

	Candidate Candidate
	Attempts  []Attempt
}

type Router struct {
	candidates []Candidate
}

func New(candidates ...Candidate) (*Router, error) {
	if len(candidates) == 0 {
		return nil, errors.New("missing provider candidates")
	}

	for _, c := range candidates {
		if c.Completer == nil {
			return nil, errors.New("candidate without completer: " + c.Name())
		}
	}

	return &Router{
		candidates: candidates,
	}, nil
}

// Complete implements provider.Completer, discarding attempt metadata.
func (r *Router) Complete(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
	result, err := r.Dispatch(ctx, messages, options)

	if err != nil {
		return nil, err
	}

	return result.Completion, nil
}

// Dispatch tries each candidate in priority order. Retryable failures and
// fatal-for-candidate failures both advance to the next candidate, since a
// different provider or region may accept the request. Expiry of the caller's
// deadline aborts the whole dispatch instead.
func (r *Router) Dispatch(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*Result, error) {
	if options == nil {
		options = new(provider.CompleteOptions)
	}

	var attempts []Attempt

	for _, candidate := range r.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		completion, streamed, err := r.attempt(ctx, candidate, messages, options)

		if err == nil {
			return &Result{
				Completion: completion,

				Candidate: candidate,
				Attempts:  attempts,
			}, nil
		}

		attempts = append(attempts, Attempt{Candidate: candidate, Err: err})

		if ctx.Err() != nil {
			return nil, fmt.Errorf("generation deadline exceeded after %d attempt(s): %w", len(attempts), ctx.Err())
		}

		// once tokens reached the caller, a retry would duplicate output
		if streamed {
			log.WithFields(log.Fields{"candidate": candidate.Name()}).Error("stream failed after output started, not failing over")
			return nil, err
		}

		log.WithFields(log.Fields{
			"candidate": candidate.Name(),
			"kind":      provider.ErrorKindOf(err),
			"retryable": provider.Retryable(err),
		}).Warn("candidate attempt failed, advancing")
	}

	return nil, &ExhaustedError{Attempts: attempts}
}

func (r *Router) attempt(ctx context.Context, candidate Candidate, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, bool, error) {
	timeout := candidate.Timeout

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var streamed bool

	attemptOptions := *options

	if options.Stream != nil {
		stream := options.Stream

		attemptOptions.Stream = func(ctx context.Context, completion provider.Completion) error {
			streamed = true
			return stream(ctx, completion)
		}
	}

	completion, err := candidate.Completer.Complete(ctx, messages, &attemptOptions)

	return completion, streamed, err
}

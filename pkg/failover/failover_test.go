package failover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gtonic/counsel/pkg/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completerFunc func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error)

func (f completerFunc) Complete(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
	return f(ctx, messages, options)
}

func succeed(text string) completerFunc {
	return func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		return &provider.Completion{
			Message: &provider.Message{
				Role:    provider.MessageRoleAssistant,
				Content: []provider.Content{provider.TextContent(text)},
			},
		}, nil
	}
}

func fail(err error) completerFunc {
	return func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		return nil, err
	}
}

func block() completerFunc {
	return func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func TestDispatchFirstCandidate(t *testing.T) {
	router, err := New(Candidate{Provider: "bedrock", Region: "us-west-2", Completer: succeed("ok")})
	require.NoError(t, err)

	result, err := router.Dispatch(context.Background(), []provider.Message{provider.UserMessage("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "ok", result.Completion.Text())
	assert.Equal(t, "bedrock/us-west-2", result.Candidate.Name())
	assert.Empty(t, result.Attempts)
}

func TestDispatchAdvancesOnRetryable(t *testing.T) {
	router, err := New(
		Candidate{Provider: "bedrock", Region: "us-west-2", Completer: fail(provider.NewError("bedrock/us-west-2", provider.ErrorKindUnavailable, errors.New("boom")))},
		Candidate{Provider: "bedrock", Region: "eu-west-1", Completer: fail(provider.NewError("bedrock/eu-west-1", provider.ErrorKindRateLimited, errors.New("throttled")))},
		Candidate{Provider: "bedrock", Region: "us-east-1", Completer: succeed("ok")},
	)
	require.NoError(t, err)

	result, err := router.Dispatch(context.Background(), []provider.Message{provider.UserMessage("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "bedrock/us-east-1", result.Candidate.Name())
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "bedrock/us-west-2", result.Attempts[0].Candidate.Name())
	assert.Equal(t, "bedrock/eu-west-1", result.Attempts[1].Candidate.Name())
}

func TestDispatchAdvancesOnFatalForCandidate(t *testing.T) {
	router, err := New(
		Candidate{Provider: "anthropic", Completer: fail(provider.NewError("anthropic", provider.ErrorKindUnauthorized, errors.New("bad key")))},
		Candidate{Provider: "openai", Completer: succeed("ok")},
	)
	require.NoError(t, err)

	result, err := router.Dispatch(context.Background(), []provider.Message{provider.UserMessage("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "openai", result.Candidate.Name())
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, provider.ErrorKindUnauthorized, provider.ErrorKindOf(result.Attempts[0].Err))
}

func TestDispatchExhausted(t *testing.T) {
	boom := provider.NewError("x", provider.ErrorKindUnavailable, errors.New("boom"))

	router, err := New(
		Candidate{Provider: "a", Completer: fail(boom)},
		Candidate{Provider: "b", Completer: fail(boom)},
		Candidate{Provider: "c", Completer: fail(boom)},
	)
	require.NoError(t, err)

	_, err = router.Dispatch(context.Background(), []provider.Message{provider.UserMessage("hi")}, nil)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 3)
}

func TestDispatchCandidateTimeout(t *testing.T) {
	router, err := New(
		Candidate{Provider: "bedrock", Region: "us-west-2", Completer: block(), Timeout: 20 * time.Millisecond},
		Candidate{Provider: "bedrock", Region: "us-east-1", Completer: succeed("ok")},
	)
	require.NoError(t, err)

	result, err := router.Dispatch(context.Background(), []provider.Message{provider.UserMessage("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "bedrock/us-east-1", result.Candidate.Name())
	require.Len(t, result.Attempts, 1)
	assert.ErrorIs(t, result.Attempts[0].Err, context.DeadlineExceeded)
}

func TestDispatchDeadlineExceeded(t *testing.T) {
	router, err := New(
		Candidate{Provider: "a", Completer: block()},
		Candidate{Provider: "b", Completer: succeed("ok")},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = router.Dispatch(ctx, []provider.Message{provider.UserMessage("hi")}, nil)
	require.Error(t, err)

	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestDispatchNoFailoverAfterStreamStarted(t *testing.T) {
	var second bool

	first := completerFunc(func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
		if err := options.Stream(ctx, provider.Completion{
			Message: &provider.Message{
				Role:    provider.MessageRoleAssistant,
				Content: []provider.Content{provider.TextContent("partial")},
			},
		}); err != nil {
			return nil, err
		}

		return nil, provider.NewError("a", provider.ErrorKindUnavailable, errors.New("mid-stream"))
	})

	router, err := New(
		Candidate{Provider: "a", Completer: first},
		Candidate{Provider: "b", Completer: completerFunc(func(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
			second = true
			return succeed("ok")(ctx, messages, options)
		})},
	)
	require.NoError(t, err)

	options := &provider.CompleteOptions{
		Stream: func(ctx context.Context, completion provider.Completion) error {
			return nil
		},
	}

	_, err = router.Dispatch(context.Background(), []provider.Message{provider.UserMessage("hi")}, options)
	require.Error(t, err)

	assert.False(t, second)
}

func TestNewRequiresCandidates(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

// Package bedrock implements a provider.Completer against the AWS Bedrock
// Converse API. One Completer is bound to one region; region failover is the
// failover router's job, so SDK-level retries are disabled.
package bedrock

import (
	"context"
	"errors"
	"strings"

	"github.com/gtonic/counsel/pkg/provider"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var _ provider.Completer = (*Completer)(nil)

type Completer struct {
	model  string
	region string

	client *bedrockruntime.Client

	limiter *rate.Limiter

	maxTokens int32
}

type Option func(*Completer)

func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Completer) {
		c.limiter = limiter
	}
}

func WithClient(client *bedrockruntime.Client) Option {
	return func(c *Completer) {
		c.client = client
	}
}

func New(region, model string, options ...Option) (*Completer, error) {
	c := &Completer{
		model:  model,
		region: region,

		maxTokens: 4096,
	}

	for _, option := range options {
		option(c)
	}

	if c.model == "" {
		return nil, errors.New("missing model")
	}

	if c.region == "" {
		return nil, errors.New("missing region")
	}

	if c.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))

		if err != nil {
			return nil, err
		}

		c.client = bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
			o.RetryMaxAttempts = 1
		})
	}

	return c, nil
}

func (c *Completer) Complete(ctx context.Context, messages []provider.Message, options *provider.CompleteOptions) (*provider.Completion, error) {
	if options == nil {
		options = new(provider.CompleteOptions)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	system, input := convertMessages(messages)

	config := &types.InferenceConfiguration{
		MaxTokens: aws.Int32(c.maxTokens),
	}

	if options.MaxTokens != nil {
		config.MaxTokens = aws.Int32(int32(*options.MaxTokens))
	}

	if options.Temperature != nil {
		config.Temperature = aws.Float32(*options.Temperature)
	}

	if len(options.Stop) > 0 {
		config.StopSequences = options.Stop
	}

	if options.Stream != nil {
		return c.completeStream(ctx, system, input, config, options)
	}

	resp, err := c.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.model),

		System:   system,
		Messages: input,

		InferenceConfig: config,
	})

	if err != nil {
		return nil, c.convertError(err)
	}

	var text string

	if output, ok := resp.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range output.Value.Content {
			if b, ok := block.(*types.ContentBlockMemberText); ok {
				text += b.Value
			}
		}
	}

	completion := &provider.Completion{
		ID:    uuid.New().String(),
		Model: c.model,

		Reason: convertReason(resp.StopReason),

		Message: &provider.Message{
			Role:    provider.MessageRoleAssistant,
			Content: []provider.Content{provider.TextContent(text)},
		},
	}

	if resp.Usage != nil {
		completion.Usage = &provider.Usage{
			InputTokens:  int(aws.ToInt32(resp.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(resp.Usage.OutputTokens)),
		}
	}

	return completion, nil
}

func (c *Completer) completeStream(ctx context.Context, system []types.SystemContentBlock, input []types.Message, config *types.InferenceConfiguration, options *provider.CompleteOptions) (*provider.Completion, error) {
	resp, err := c.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(c.model),

		System:   system,
		Messages: input,

		InferenceConfig: config,
	})

	if err != nil {
		return nil, c.convertError(err)
	}

	stream := resp.GetStream()
	defer stream.Close()

	id := uuid.New().String()

	var text string
	var reason provider.CompletionReason
	var usage *provider.Usage

	for event := range stream.Events() {
		switch event := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			delta, ok := event.Value.Delta.(*types.ContentBlockDeltaMemberText)

			if !ok || delta.Value == "" {
				continue
			}

			text += delta.Value

			completion := provider.Completion{
				ID:    id,
				Model: c.model,

				Message: &provider.Message{
					Role:    provider.MessageRoleAssistant,
					Content: []provider.Content{provider.TextContent(delta.Value)},
				},
			}

			if err := options.Stream(ctx, completion); err != nil {
				return nil, err
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			reason = convertReason(event.Value.StopReason)

		case *types.ConverseStreamOutputMemberMetadata:
			if event.Value.Usage != nil {
				usage = &provider.Usage{
					InputTokens:  int(aws.ToInt32(event.Value.Usage.InputTokens)),
					OutputTokens: int(aws.ToInt32(event.Value.Usage.OutputTokens)),
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, c.convertError(err)
	}

	return &provider.Completion{
		ID:    id,
		Model: c.model,

		Reason: reason,

		Message: &provider.Message{
			Role:    provider.MessageRoleAssistant,
			Content: []provider.Content{provider.TextContent(text)},
		},

		Usage: usage,
	}, nil
}

func convertMessages(messages []provider.Message) ([]types.SystemContentBlock, []types.Message) {
	var system []types.SystemContentBlock
	var input []types.Message

	for _, m := range messages {
		switch m.Role {
		case provider.MessageRoleSystem:
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Text()})

		case provider.MessageRoleUser:
			input = append(input, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text()}},
			})

		case provider.MessageRoleAssistant:
			input = append(input, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text()}},
			})
		}
	}

	return system, input
}

func convertReason(reason types.StopReason) provider.CompletionReason {
	switch reason {
	case types.StopReasonMaxTokens:
		return provider.CompletionReasonLength

	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return provider.CompletionReasonStop
	}

	return ""
}

func (c *Completer) convertError(err error) error {
	name := "bedrock/" + c.region

	var throttle *types.ThrottlingException
	if errors.As(err, &throttle) {
		return provider.NewError(name, provider.ErrorKindRateLimited, err)
	}

	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return provider.NewError(name, provider.ErrorKindUnavailable, err)
	}

	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return provider.NewError(name, provider.ErrorKindUnavailable, err)
	}

	var timeout *types.ModelTimeoutException
	if errors.As(err, &timeout) {
		return provider.NewError(name, provider.ErrorKindTimeout, err)
	}

	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return provider.NewError(name, provider.ErrorKindUnauthorized, err)
	}

	var validation *types.ValidationException
	if errors.As(err, &validation) {
		// oversized prompts surface as validation errors
		if strings.Contains(err.Error(), "too long") || strings.Contains(err.Error(), "context limit") {
			return provider.NewError(name, provider.ErrorKindContextTooLong, err)
		}

		return provider.NewError(name, provider.ErrorKindBadRequest, err)
	}

	return err
}

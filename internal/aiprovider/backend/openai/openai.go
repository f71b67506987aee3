// Package openai adapts the OpenAI chat completions API to a Backend.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
)

type Config struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string
}

type Backend struct {
	name   string
	client openai.Client
	model  openai.ChatModel
}

var _ aidomain.Backend = (*Backend)(nil)

func New(cfg Config) *Backend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	model := openai.ChatModelGPT4oMini
	if cfg.Model != "" {
		model = openai.ChatModel(cfg.Model)
	}

	return &Backend{
		name:   name,
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Complete(ctx context.Context, prompt aidomain.Prompt) (aidomain.Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: b.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
	}
	if prompt.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(prompt.MaxTokens)
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return aidomain.Completion{}, classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return aidomain.Completion{}, aidomain.ErrEmptyCompletion
	}

	return aidomain.Completion{Text: resp.Choices[0].Message.Content, Model: resp.Model}, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		statusErr := &aidomain.StatusError{StatusCode: apiErr.StatusCode, Err: err}
		if apiErr.Response != nil {
			statusErr.RetryAfter = aidomain.ParseRetryAfter(apiErr.Response.Header)
		}
		return statusErr
	}
	return err
}

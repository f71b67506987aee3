// Package anthropic adapts the Anthropic Messages API to a Backend.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
)

const DefaultModel = "claude-haiku-4-5"

type Config struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string
}

type Backend struct {
	name   string
	client anthropic.Client
	model  anthropic.Model
}

var _ aidomain.Backend = (*Backend)(nil)

func New(cfg Config) *Backend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// retries are owned by the provider client
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	name := cfg.Name
	if name == "" {
		name = "anthropic"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Backend{
		name:   name,
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Complete(ctx context.Context, prompt aidomain.Prompt) (aidomain.Completion, error) {
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: prompt.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	})
	if err != nil {
		return aidomain.Completion{}, classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return aidomain.Completion{}, aidomain.ErrEmptyCompletion
	}

	return aidomain.Completion{Text: text.String(), Model: string(resp.Model)}, nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusErr := &aidomain.StatusError{StatusCode: apiErr.StatusCode, Err: err}
		if apiErr.Response != nil {
			statusErr.RetryAfter = aidomain.ParseRetryAfter(apiErr.Response.Header)
		}
		return statusErr
	}
	return err
}

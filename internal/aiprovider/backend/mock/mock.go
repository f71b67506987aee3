// Package mock is a scripted Backend for tests and local development.
package mock

import (
	"context"
	"sync"
	"time"

	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
)

// Step is one scripted outcome. A zero Step returns the default reply.
type Step struct {
	Text string
	Err  error
}

type Backend struct {
	name    string
	model   string
	reply   string
	latency time.Duration

	mu      sync.Mutex
	script  []Step
	prompts []aidomain.Prompt
	calls   int
	fn      func(aidomain.Prompt) (string, error)
}

var _ aidomain.Backend = (*Backend)(nil)

type Option func(*Backend)

func New(opts ...Option) *Backend {
	b := &Backend{
		name:  "mock",
		model: "mock-model",
		reply: "Thank you for taking the time to share your feedback. We appreciate it!",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

func WithModel(model string) Option {
	return func(b *Backend) { b.model = model }
}

// WithReply sets the text returned once the script is exhausted.
func WithReply(text string) Option {
	return func(b *Backend) { b.reply = text }
}

func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithScript queues outcomes consumed one per call.
func WithScript(steps ...Step) Option {
	return func(b *Backend) { b.script = append(b.script, steps...) }
}

// WithError makes every call fail with err.
func WithError(err error) Option {
	return func(b *Backend) {
		b.fn = func(aidomain.Prompt) (string, error) { return "", err }
	}
}

func WithResponseFunc(fn func(aidomain.Prompt) (string, error)) Option {
	return func(b *Backend) { b.fn = fn }
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Complete(ctx context.Context, prompt aidomain.Prompt) (aidomain.Completion, error) {
	if b.latency > 0 {
		timer := time.NewTimer(b.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return aidomain.Completion{}, ctx.Err()
		case <-timer.C:
		}
	}

	b.mu.Lock()
	b.calls++
	b.prompts = append(b.prompts, prompt)
	var step *Step
	if len(b.script) > 0 {
		s := b.script[0]
		b.script = b.script[1:]
		step = &s
	}
	fn := b.fn
	b.mu.Unlock()

	switch {
	case step != nil && step.Err != nil:
		return aidomain.Completion{}, step.Err
	case step != nil && step.Text != "":
		return aidomain.Completion{Text: step.Text, Model: b.model}, nil
	case fn != nil:
		text, err := fn(prompt)
		if err != nil {
			return aidomain.Completion{}, err
		}
		return aidomain.Completion{Text: text, Model: b.model}, nil
	}
	return aidomain.Completion{Text: b.reply, Model: b.model}, nil
}

func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *Backend) Prompts() []aidomain.Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]aidomain.Prompt, len(b.prompts))
	copy(out, b.prompts)
	return out
}

package domain

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Tone is an optional tone descriptor. DefaultTone means the brand voice's
// configured tone applies.
type Tone string

const (
	DefaultTone  Tone = "default"
	maxToneRunes      = 40
)

// ParseTone normalises a caller supplied tone. An empty value yields DefaultTone.
func ParseTone(raw string) (Tone, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return DefaultTone, nil
	}
	if utf8.RuneCountInString(value) > maxToneRunes || strings.ContainsAny(value, "\n\r\t") {
		return "", ErrInvalidTone
	}
	return Tone(value), nil
}

func (t Tone) IsDefault() bool {
	return t == "" || t == DefaultTone
}

func (t Tone) String() string {
	if t == "" {
		return string(DefaultTone)
	}
	return string(t)
}

// BrandVoice is the per-account style profile used to build prompts.
type BrandVoice struct {
	Tone            string
	Formality       int
	KeyPhrases      []string
	StyleNotes      string
	SampleResponses []string
	Language        string
}

func DefaultBrandVoice() BrandVoice {
	return BrandVoice{
		Tone:      "warm and professional",
		Formality: 3,
		Language:  "en",
	}
}

type GenerateRequest struct {
	ReviewText   string
	Platform     string
	Rating       *int
	ReviewerName string
	Language     string
	Voice        BrandVoice
	ToneOverride *Tone
}

type Generated struct {
	Text      string
	Model     string
	Provider  string
	Attempts  int
	Truncated bool
}

type Classification struct {
	Sentiment  string
	Confidence float64
	Model      string
	Provider   string
}

type Prompt struct {
	System    string
	User      string
	MaxTokens int64
}

type Completion struct {
	Text  string
	Model string
}

// Backend is one text-generation provider. Implementations must not retry.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
}

// Backends lists providers in priority order.
type Backends []Backend

type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (Generated, error)
	Classify(ctx context.Context, text string) (Classification, error)
	Enabled() bool
}

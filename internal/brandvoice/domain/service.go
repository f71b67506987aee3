package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
)

type UpsertRequest struct {
	AccountID       snowflake.ID `json:"-"`
	Tone            string       `json:"tone"`
	Formality       int          `json:"formality"`
	KeyPhrases      []string     `json:"key_phrases"`
	StyleNotes      string       `json:"style_notes"`
	SampleResponses []string     `json:"sample_responses"`
	Language        string       `json:"language"`
}

type Service interface {
	Get(context.Context, snowflake.ID) (*BrandVoice, error)
	Upsert(context.Context, UpsertRequest) (*BrandVoice, error)
	// Resolve returns the prompt profile, falling back to defaults.
	Resolve(context.Context, snowflake.ID) (aidomain.BrandVoice, error)
}

var (
	ErrInvalidAccount    = errors.New("invalid_account")
	ErrInvalidFormality  = errors.New("invalid_formality")
	ErrInvalidTone       = errors.New("invalid_tone")
	ErrTooManyPhrases    = errors.New("too_many_key_phrases")
	ErrTooManySamples    = errors.New("too_many_sample_responses")
	ErrBrandVoiceMissing = errors.New("brand_voice_not_found")
)

package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type GenerateRequest struct {
	AccountID snowflake.ID `json:"-"`
	ReviewID  snowflake.ID `json:"-"`
	// Tone is optional; empty means the brand voice tone.
	Tone string `json:"tone"`
}

type RegenerateRequest struct {
	AccountID snowflake.ID `json:"-"`
	ReviewID  snowflake.ID `json:"-"`
	Tone      string       `json:"tone"`
}

type EditRequest struct {
	AccountID snowflake.ID `json:"-"`
	ReviewID  snowflake.ID `json:"-"`
	Text      string       `json:"text"`
}

type RestoreRequest struct {
	AccountID snowflake.ID
	ReviewID  snowflake.ID
	VersionID snowflake.ID
}

type Service interface {
	Generate(context.Context, GenerateRequest) (*Response, error)
	Regenerate(context.Context, RegenerateRequest) (*Response, error)
	ManualEdit(context.Context, EditRequest) (*Response, error)
	RestoreVersion(context.Context, RestoreRequest) (*Response, error)
	Approve(ctx context.Context, accountID, reviewID snowflake.ID) (*Response, error)
	Delete(ctx context.Context, accountID, reviewID snowflake.ID) error
	Get(ctx context.Context, accountID, reviewID snowflake.ID) (*Response, error)
	// ListVersions returns the history oldest first.
	ListVersions(ctx context.Context, accountID, reviewID snowflake.ID) ([]Version, error)
}

const MaxTextLength = 5000

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidReview       = errors.New("invalid_review")
	ErrEmptyText           = errors.New("empty_response_text")
	ErrTextTooLong         = errors.New("response_text_too_long")
	ErrToneRequired        = errors.New("tone_required")
	ErrResponseExists      = errors.New("response_exists")
	ErrResponseNotFound    = errors.New("response_not_found")
	ErrVersionNotFound     = errors.New("version_not_found")
	ErrPersistenceConflict = errors.New("persistence_conflict")
)

package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
)

type Source string

const (
	SourceProvider  Source = "provider"
	SourceHeuristic Source = "heuristic"
)

type Result struct {
	ReviewID   snowflake.ID           `json:"review_id"`
	Sentiment  reviewdomain.Sentiment `json:"sentiment"`
	Confidence float64                `json:"confidence"`
	Source     Source                 `json:"source"`
	// Authoritative is false for heuristic fallbacks.
	Authoritative bool `json:"authoritative"`
	Charged       bool `json:"charged"`
}

type Service interface {
	Analyze(ctx context.Context, accountID, reviewID snowflake.ID) (Result, error)
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidReview  = errors.New("invalid_review")
)

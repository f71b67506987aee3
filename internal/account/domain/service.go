package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ProvisionRequest struct {
	Tier string `json:"tier"`
}

// Summary is the account view shown next to a balance.
type Summary struct {
	AccountID          string    `json:"account_id"`
	Tier               string    `json:"tier"`
	CreditsRemaining   float64   `json:"credits_remaining"`
	CreditsAllowance   float64   `json:"credits_allowance"`
	CreditsResetsAt    time.Time `json:"credits_resets_at"`
	SentimentRemaining int64     `json:"sentiment_remaining"`
	SentimentAllowance int64     `json:"sentiment_allowance"`
	SentimentResetsAt  time.Time `json:"sentiment_resets_at"`
}

type Service interface {
	Provision(context.Context, ProvisionRequest) (*Account, error)
	Get(context.Context, snowflake.ID) (*Account, error)
	Summary(context.Context, snowflake.ID) (Summary, error)
}

var (
	ErrInvalidTier     = errors.New("invalid_tier")
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrAccountNotFound = errors.New("account_not_found")
)

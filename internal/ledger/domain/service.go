package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reviewdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type DeductRequest struct {
	AccountID  snowflake.ID
	Amount     float64
	Action     Action
	ReviewID   *snowflake.ID
	ResponseID *snowflake.ID
	Detail     map[string]any
}

type RefundRequest struct {
	AccountID  snowflake.ID
	Amount     float64
	Pool       Pool
	ReviewID   *snowflake.ID
	ResponseID *snowflake.ID
	Detail     map[string]any
}

// Receipt describes the usage record written by a ledger call and the
// balance it left behind.
type Receipt struct {
	UsageRecordID snowflake.ID `json:"usage_record_id"`
	AccountID     snowflake.ID `json:"account_id"`
	Pool          Pool         `json:"pool"`
	Action        Action       `json:"action"`
	Quantity      float64      `json:"quantity"`
	Remaining     float64      `json:"remaining"`
}

type Balance struct {
	AccountID          snowflake.ID `json:"account_id"`
	CreditsRemaining   float64      `json:"credits_remaining"`
	CreditsResetsAt    time.Time    `json:"credits_resets_at"`
	SentimentRemaining int64        `json:"sentiment_remaining"`
	SentimentResetsAt  time.Time    `json:"sentiment_resets_at"`
}

type ListUsageRequest struct {
	AccountID snowflake.ID
	Pool      Pool
	pagination.Pagination
}

type ListUsageResponse struct {
	pagination.PageInfo
	Records []UsageRecord `json:"records"`
}

type RolloverRequest struct {
	AccountID snowflake.ID
	Pool      Pool
	OldAnchor time.Time
	NewAnchor time.Time
	Allowance float64
}

type Service interface {
	Deduct(context.Context, DeductRequest) (Receipt, error)
	// DeductTx runs the deduction inside the caller's transaction.
	DeductTx(context.Context, *gorm.DB, DeductRequest) (Receipt, error)
	Refund(context.Context, RefundRequest) (Receipt, error)
	DeductSentiment(ctx context.Context, accountID snowflake.ID, reviewID *snowflake.ID, detail map[string]any) (Receipt, error)
	DeductSentimentTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, reviewID *snowflake.ID, detail map[string]any) (Receipt, error)
	LinkResponse(ctx context.Context, usageRecordID, responseID snowflake.ID) error
	LinkResponseTx(ctx context.Context, tx *gorm.DB, usageRecordID, responseID snowflake.ID) error
	Balance(context.Context, snowflake.ID) (Balance, error)
	ListUsage(context.Context, ListUsageRequest) (ListUsageResponse, error)
	// Rollover resets a pool and moves its anchor when the stored anchor
	// still equals OldAnchor. It reports whether the row changed.
	Rollover(context.Context, RolloverRequest) (bool, error)
}

var (
	ErrInvalidAccount         = errors.New("invalid_account")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidAction          = errors.New("invalid_action")
	ErrInvalidPool            = errors.New("invalid_pool")
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrUsageRecordNotLinkable = errors.New("usage_record_not_linkable")
	ErrInsufficientFunds      = errors.New("insufficient_funds")
)

// InsufficientFundsError is returned when a pool cannot cover a deduction.
type InsufficientFundsError struct {
	Pool      Pool
	Remaining float64
	Required  float64
	ResetsAt  time.Time
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient_funds: %s remaining %.4g, required %.4g, resets at %s",
		e.Pool, e.Remaining, e.Required, e.ResetsAt.Format(time.RFC3339))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

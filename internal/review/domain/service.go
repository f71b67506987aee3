package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reviewdesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateReviewRequest struct {
	AccountID    snowflake.ID `json:"-"`
	Platform     string       `json:"platform"`
	Text         string       `json:"text"`
	Rating       *int         `json:"rating"`
	ReviewerName string       `json:"reviewer_name"`
	ReviewDate   *time.Time   `json:"review_date"`
	Language     string       `json:"language"`
}

type ListReviewRequest struct {
	AccountID snowflake.ID
	Platform  string
	pagination.Pagination
}

type ListReviewResponse struct {
	pagination.PageInfo
	Reviews []Review `json:"reviews"`
}

type Service interface {
	Create(context.Context, CreateReviewRequest) (*Review, error)
	Get(ctx context.Context, accountID, reviewID snowflake.ID) (*Review, error)
	List(context.Context, ListReviewRequest) (ListReviewResponse, error)
	Delete(ctx context.Context, accountID, reviewID snowflake.ID) error
	SetSentiment(ctx context.Context, accountID, reviewID snowflake.ID, sentiment Sentiment) error
	// SetSentimentTx stores the label inside the caller's transaction.
	SetSentimentTx(ctx context.Context, tx *gorm.DB, accountID, reviewID snowflake.ID, sentiment Sentiment) error
}

// DuplicateGuard rejects a review whose text the same account submitted
// within the trailing window.
type DuplicateGuard interface {
	// Claim returns ErrDuplicateReview when text was seen inside the window.
	// The returned release undoes the claim if the review is not stored.
	Claim(ctx context.Context, accountID snowflake.ID, text string, window time.Duration) (release func(), err error)
}

const MaxTextLength = 5000

var (
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrInvalidReview    = errors.New("invalid_review")
	ErrEmptyText        = errors.New("empty_review_text")
	ErrTextTooLong      = errors.New("review_text_too_long")
	ErrInvalidRating    = errors.New("invalid_rating")
	ErrInvalidPlatform  = errors.New("invalid_platform")
	ErrInvalidSentiment = errors.New("invalid_sentiment")
	ErrReviewNotFound   = errors.New("review_not_found")
	ErrDuplicateReview  = errors.New("duplicate_review")
)

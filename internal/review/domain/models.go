package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Review is a customer review captured for an account.
type Review struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID `gorm:"not null;index:ix_reviews_account_created,priority:1" json:"account_id"`
	Platform     string       `gorm:"type:text;not null" json:"platform"`
	Text         string       `gorm:"type:text;not null" json:"text"`
	Rating       *int         `json:"rating,omitempty"`
	ReviewerName *string      `gorm:"type:text" json:"reviewer_name,omitempty"`
	ReviewDate   *time.Time   `json:"review_date,omitempty"`
	Language     string       `gorm:"type:text;not null;default:'en'" json:"language"`
	Sentiment    *Sentiment   `gorm:"type:text" json:"sentiment,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;index:ix_reviews_account_created,priority:2" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Review) TableName() string { return "reviews" }

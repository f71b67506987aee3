package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account holds the two metered pools and their cycle anchors.
type Account struct {
	ID                      snowflake.ID `gorm:"primaryKey" json:"id"`
	Tier                    string       `gorm:"type:text;not null" json:"tier"`
	CreditsRemaining        float64      `gorm:"type:decimal(12,4);not null;default:0" json:"credits_remaining"`
	CreditsCycleAnchor      time.Time    `gorm:"not null;index" json:"credits_cycle_anchor"`
	SentimentQuotaRemaining int64        `gorm:"not null;default:0" json:"sentiment_quota_remaining"`
	SentimentCycleAnchor    time.Time    `gorm:"not null;index" json:"sentiment_cycle_anchor"`
	CreatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Pool names a metered balance on an account.
type Pool string

const (
	PoolCredits   Pool = "credits"
	PoolSentiment Pool = "sentiment"
)

type Action string

const (
	ActionGenerate          Action = "generate"
	ActionRegenerate        Action = "regenerate"
	ActionRefund            Action = "refund"
	ActionSentimentAnalysis Action = "sentiment_analysis"
)

// UsageRecord is one immutable ledger line. Positive quantities consume,
// negative quantities refund.
type UsageRecord struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID  snowflake.ID      `gorm:"not null;index:ix_usage_records_account_created,priority:1" json:"account_id"`
	Quantity   float64           `gorm:"type:decimal(12,4);not null" json:"quantity"`
	Action     Action            `gorm:"type:text;not null" json:"action"`
	Pool       Pool              `gorm:"type:text;not null" json:"pool"`
	ReviewID   *snowflake.ID     `gorm:"index" json:"review_id,omitempty"`
	ResponseID *snowflake.ID     `gorm:"index" json:"response_id,omitempty"`
	Detail     datatypes.JSONMap `gorm:"type:jsonb" json:"detail,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index:ix_usage_records_account_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Response is the reply drafted for a review. At most one exists per review.
type Response struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID   snowflake.ID `gorm:"not null;index" json:"account_id"`
	ReviewID    snowflake.ID `gorm:"not null;uniqueIndex" json:"review_id"`
	Text        string       `gorm:"type:text;not null" json:"text"`
	Tone        string       `gorm:"type:text;not null" json:"tone"`
	CreditsUsed float64      `gorm:"type:decimal(12,4);not null;default:0" json:"credits_used"`
	Edited      bool         `gorm:"not null;default:false" json:"edited"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
	Approved    bool         `gorm:"not null;default:false" json:"approved"`
	ApprovedAt  *time.Time   `json:"approved_at,omitempty"`
	Model       string       `gorm:"type:text" json:"model"`
	// Revision increments on every text change and guards concurrent writers.
	Revision  int64     `gorm:"not null;default:0" json:"revision"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Response) TableName() string { return "responses" }

// Version is the text a response held before it was overwritten.
type Version struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ResponseID  snowflake.ID `gorm:"not null;index:ix_response_versions_response_created,priority:1" json:"response_id"`
	Text        string       `gorm:"type:text;not null" json:"text"`
	Tone        string       `gorm:"type:text;not null" json:"tone"`
	CreditsUsed float64      `gorm:"type:decimal(12,4);not null;default:0" json:"credits_used"`
	Edited      bool         `gorm:"not null;default:false" json:"edited"`
	CreatedAt   time.Time    `gorm:"not null;index:ix_response_versions_response_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (Version) TableName() string { return "response_versions" }

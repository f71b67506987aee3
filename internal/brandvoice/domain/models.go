package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BrandVoice is an account's reply style profile.
type BrandVoice struct {
	ID              snowflake.ID                `gorm:"primaryKey" json:"id"`
	AccountID       snowflake.ID                `gorm:"not null;uniqueIndex" json:"account_id"`
	Tone            string                      `gorm:"type:text;not null" json:"tone"`
	Formality       int                         `gorm:"not null;default:3" json:"formality"`
	KeyPhrases      datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"key_phrases"`
	StyleNotes      string                      `gorm:"type:text" json:"style_notes"`
	SampleResponses datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"sample_responses"`
	Language        string                      `gorm:"type:text;not null;default:'en'" json:"language"`
	CreatedAt       time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (BrandVoice) TableName() string { return "brand_voices" }

package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: responses.review_id")))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "responses_review_id_key" (SQLSTATE 23505)`)))
	assert.False(t, IsDuplicateKeyErr(errors.New("database is locked")))
	assert.False(t, IsDuplicateKeyErr(nil))
}

func TestIsSerializationErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"postgres", errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)"), true},
		{"mysql", errors.New("Error 1213 (40001): Deadlock found when trying to get lock"), true},
		{"sqlite", fmt.Errorf("commit: %w", errors.New("database is locked (5) (SQLITE_BUSY)")), true},
		{"unique", errors.New("UNIQUE constraint failed: responses.review_id"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSerializationErr(tt.err))
		})
	}
}

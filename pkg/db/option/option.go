package option

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type QueryOptionFunc func(db *gorm.DB) *gorm.DB

func (f QueryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(conds ...Condition) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			db = db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		}
		return db
	})
}

type QuerySortBy struct {
	Field string
	Desc  bool
}

func WithSortBy(sorts ...QuerySortBy) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		for _, s := range sorts {
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			db = db.Order(fmt.Sprintf("%s %s", strings.TrimSpace(s.Field), dir))
		}
		return db
	})
}

func ApplyPagination(limit int) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// CreatedBefore keeps rows strictly older than the (created_at, id) cursor.
func CreatedBefore(createdAt time.Time, id int64) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	})
}

// NewestFirst orders by (created_at DESC, id DESC).
func NewestFirst() QueryOption {
	return WithSortBy(
		QuerySortBy{Field: "created_at", Desc: true},
		QuerySortBy{Field: "id", Desc: true},
	)
}

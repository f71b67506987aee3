package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	"github.com/smallbiznis/reviewdesk/internal/ratelimit"
	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type GuardParams struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Clock  clock.Clock
	Locker *ratelimit.Locker `optional:"true"`
	Log    *zap.Logger
}

// NewDuplicateGuard picks the redis guard when configured and available,
// otherwise the database guard.
func NewDuplicateGuard(p GuardParams) reviewdomain.DuplicateGuard {
	if p.Config.DuplicateGuard == "redis" {
		if p.Locker.Enabled() {
			return NewRedisGuard(p.Locker)
		}
		p.Log.Warn("redis duplicate guard requested but redis is disabled; using database guard")
	}
	return NewDBGuard(p.DB, p.Clock)
}

type dbGuard struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewDBGuard(db *gorm.DB, clk clock.Clock) reviewdomain.DuplicateGuard {
	return &dbGuard{db: db, clock: clk}
}

func (g *dbGuard) Claim(ctx context.Context, accountID snowflake.ID, text string, window time.Duration) (func(), error) {
	since := g.clock.Now().Add(-window)

	var count int64
	err := g.db.WithContext(ctx).
		Model(&reviewdomain.Review{}).
		Where("account_id = ? AND text = ? AND created_at >= ?", accountID, strings.TrimSpace(text), since).
		Count(&count).Error
	if err != nil {
		return noop, err
	}
	if count > 0 {
		return noop, reviewdomain.ErrDuplicateReview
	}
	return noop, nil
}

const keyDuplicateReview = "review:dup:%s:%s"

type redisGuard struct {
	locker *ratelimit.Locker
}

func NewRedisGuard(locker *ratelimit.Locker) reviewdomain.DuplicateGuard {
	return &redisGuard{locker: locker}
}

// Claim holds a lease for the window; the lease expiring is what ends it.
func (g *redisGuard) Claim(ctx context.Context, accountID snowflake.ID, text string, window time.Duration) (func(), error) {
	lease, err := g.locker.Acquire(ctx, duplicateKey(accountID, text), window)
	if errors.Is(err, ratelimit.ErrLockHeld) {
		return noop, reviewdomain.ErrDuplicateReview
	}
	if err != nil {
		return noop, err
	}
	return func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}, nil
}

func duplicateKey(accountID snowflake.ID, text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return fmt.Sprintf(keyDuplicateReview, accountID.String(), hex.EncodeToString(sum[:]))
}

func noop() {}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reviewdesk/internal/billingcycle"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/reviewdesk/internal/observability/metrics"
	"go.uber.org/zap"
)

type WorkAccount struct {
	ID                   snowflake.ID
	Tier                 string
	CreditsCycleAnchor   time.Time
	SentimentCycleAnchor time.Time
}

// RolloverJob resets every pool whose cycle has ended to the tier allowance
// and moves its anchor to the start of the cycle containing now. Anchors only
// move through a compare-and-set, so overlapping runs apply each reset once.
func (s *Scheduler) RolloverJob(ctx context.Context, run *jobRun) error {
	cfg := s.credits.Get()
	now := s.clock.Now()
	// An anchor is due once its midnight plus the cycle length is not after
	// now, which holds for every anchor before cutoff.
	cutoff := billingcycle.Midnight(now.AddDate(0, 0, -cfg.CycleLengthDays)).AddDate(0, 0, 1)

	var (
		jobErr error
		lastID snowflake.ID
	)
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		accounts, err := s.fetchDueAccounts(ctx, cutoff, lastID, s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			lastID = account.ID
			if err := s.rolloverAccount(accountContext(ctx, account.ID), run, account, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				run.fail(account.ID, err)
			}
		}
		if len(accounts) < s.cfg.BatchSize {
			break
		}
	}
	return jobErr
}

// fetchDueAccounts pages by id over accounts with at least one anchor before
// cutoff.
func (s *Scheduler) fetchDueAccounts(ctx context.Context, cutoff time.Time, afterID snowflake.ID, limit int) ([]WorkAccount, error) {
	var accounts []WorkAccount
	err := s.db.WithContext(ctx).
		Table("accounts").
		Select("id, tier, credits_cycle_anchor, sentiment_cycle_anchor").
		Where("id > ?", afterID).
		Where("credits_cycle_anchor < ? OR sentiment_cycle_anchor < ?", cutoff, cutoff).
		Order("id ASC").
		Limit(limit).
		Scan(&accounts).Error
	return accounts, err
}

func (s *Scheduler) rolloverAccount(ctx context.Context, run *jobRun, account WorkAccount, now time.Time) error {
	cfg := s.credits.Get()
	allowance, ok := cfg.Tier(account.Tier)
	if !ok {
		return fmt.Errorf("account %s: unknown tier %q", account.ID, account.Tier)
	}

	pools := []struct {
		pool      ledgerdomain.Pool
		anchor    time.Time
		allowance float64
	}{
		{ledgerdomain.PoolCredits, account.CreditsCycleAnchor, allowance.Credits},
		{ledgerdomain.PoolSentiment, account.SentimentCycleAnchor, float64(allowance.SentimentQuota)},
	}

	schedMetrics := obsmetrics.Scheduler()
	var err error
	for _, p := range pools {
		if !billingcycle.Due(p.anchor, cfg.CycleLengthDays, now) {
			continue
		}
		newAnchor := billingcycle.CycleStart(p.anchor, cfg.CycleLengthDays, now)
		changed, rollErr := s.ledger.Rollover(ctx, ledgerdomain.RolloverRequest{
			AccountID: account.ID,
			Pool:      p.pool,
			OldAnchor: p.anchor,
			NewAnchor: newAnchor,
			Allowance: p.allowance,
		})
		if rollErr != nil {
			err = errors.Join(err, rollErr)
			continue
		}
		if !changed {
			run.skip()
			schedMetrics.IncRolloverSkipped(string(p.pool))
			continue
		}

		run.rolledOver(p.pool)
		schedMetrics.AddRollovers(string(p.pool), 1)
		run.log.Debug("scheduler.rollover.applied",
			zap.String("account_id", account.ID.String()),
			zap.String("pool", string(p.pool)),
			zap.Time("previous_anchor", p.anchor),
			zap.Time("anchor", newAnchor),
			zap.Float64("allowance", p.allowance),
		)
	}
	return err
}

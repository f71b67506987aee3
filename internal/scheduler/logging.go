package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	obscontext "github.com/smallbiznis/reviewdesk/internal/observability/context"
	obslogger "github.com/smallbiznis/reviewdesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/reviewdesk/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job for its start and finish entries.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time
	log       *zap.Logger

	rolled  map[ledgerdomain.Pool]int
	skipped int
	failed  int
}

func (s *Scheduler) newJobRun(ctx context.Context, job string) *jobRun {
	runID := s.genID.Generate().String()
	return &jobRun{
		job:       job,
		runID:     runID,
		startedAt: time.Now(),
		log:       obslogger.WithContext(ctx, s.log).With(zap.String("job", job), zap.String("run_id", runID)),
		rolled:    make(map[ledgerdomain.Pool]int, 2),
	}
}

func (r *jobRun) start(batchSize int) {
	r.log.Info("scheduler.job.start", zap.Int("batch_size", batchSize))
}

func (r *jobRun) rolledOver(pool ledgerdomain.Pool) {
	r.rolled[pool]++
}

// skip counts a pool another run already reset.
func (r *jobRun) skip() {
	r.skipped++
}

func (r *jobRun) fail(accountID snowflake.ID, err error) {
	r.failed++
	log := r.log
	if accountID != 0 {
		log = log.With(zap.String("account_id", accountID.String()))
	}
	log.Error("scheduler.rollover.failed",
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}

func (r *jobRun) finish(err error) {
	if err != nil && r.failed == 0 {
		r.failed = 1
	}
	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(r.startedAt).Milliseconds()),
		zap.Int("credits_rolled", r.rolled[ledgerdomain.PoolCredits]),
		zap.Int("sentiment_rolled", r.rolled[ledgerdomain.PoolSentiment]),
		zap.Int("skipped", r.skipped),
		zap.Int("error_count", r.failed),
	}
	if r.failed > 0 {
		r.log.Warn("scheduler.job.finish", fields...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}

// accountContext tags ctx so downstream ledger logs carry the account.
func accountContext(ctx context.Context, accountID snowflake.ID) context.Context {
	return obscontext.WithAccountID(ctx, accountID.String())
}

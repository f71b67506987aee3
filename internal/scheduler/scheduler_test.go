package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/reviewdesk/internal/account/domain"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/reviewdesk/internal/ledger/service"
	"github.com/smallbiznis/reviewdesk/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var anchor = time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	sched *Scheduler
	clock *clock.FakeClock
	node  *snowflake.Node
}

func newFixture(t *testing.T, now time.Time, cfg Config) *fixture {
	t.Helper()

	db := dbtest.New(t, &accountdomain.Account{}, &ledgerdomain.UsageRecord{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)
	credits := config.NewStaticCreditsConfigHolder(config.DefaultCreditsConfig())

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Credits: credits,
	})
	sched, err := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Credits: credits,
		Ledger:  ledger,
		Config:  cfg,
	})
	require.NoError(t, err)
	return &fixture{db: db, sched: sched, clock: clk, node: node}
}

func (f *fixture) seed(t *testing.T, tier string, creditsAnchor, sentimentAnchor time.Time) snowflake.ID {
	t.Helper()

	account := accountdomain.Account{
		ID:                      f.node.Generate(),
		Tier:                    tier,
		CreditsRemaining:        0.5,
		CreditsCycleAnchor:      creditsAnchor,
		SentimentQuotaRemaining: 1,
		SentimentCycleAnchor:    sentimentAnchor,
		CreatedAt:               creditsAnchor,
		UpdatedAt:               creditsAnchor,
	}
	require.NoError(t, f.db.Create(&account).Error)
	return account.ID
}

func (f *fixture) account(t *testing.T, id snowflake.ID) accountdomain.Account {
	t.Helper()

	var account accountdomain.Account
	require.NoError(t, f.db.First(&account, "id = ?", id).Error)
	return account
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)

	provided := ProvideConfig(config.NewStaticCreditsConfigHolder(config.DefaultCreditsConfig()))
	assert.Equal(t, time.Hour, provided.RunInterval)
	assert.Equal(t, 100, provided.BatchSize)
}

func TestRolloverResetsDuePools(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC), Config{})
	id := f.seed(t, "free", anchor, anchor)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	account := f.account(t, id)
	next := time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 10.0, account.CreditsRemaining)
	assert.Equal(t, int64(25), account.SentimentQuotaRemaining)
	assert.True(t, next.Equal(account.CreditsCycleAnchor))
	assert.True(t, next.Equal(account.SentimentCycleAnchor))
}

func TestRolloverLeavesCurrentCycleAlone(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.February, 13, 23, 59, 59, 0, time.UTC), Config{})
	id := f.seed(t, "free", anchor, anchor)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	account := f.account(t, id)
	assert.Equal(t, 0.5, account.CreditsRemaining)
	assert.Equal(t, int64(1), account.SentimentQuotaRemaining)
	assert.True(t, anchor.Equal(account.CreditsCycleAnchor))
}

func TestRolloverSkipsMissedCycles(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.February, 14, 9, 0, 0, 0, time.UTC), Config{})
	stale := time.Date(2023, time.November, 1, 0, 0, 0, 0, time.UTC)
	id := f.seed(t, "starter", stale, anchor)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	account := f.account(t, id)
	assert.True(t, time.Date(2024, time.January, 30, 0, 0, 0, 0, time.UTC).Equal(account.CreditsCycleAnchor))
	assert.Equal(t, 100.0, account.CreditsRemaining)
	assert.True(t, time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC).Equal(account.SentimentCycleAnchor))
	assert.Equal(t, int64(250), account.SentimentQuotaRemaining)
}

func TestRolloverOnlyTouchesDuePool(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC), Config{})
	recent := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	id := f.seed(t, "free", recent, anchor)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	account := f.account(t, id)
	assert.Equal(t, 0.5, account.CreditsRemaining)
	assert.True(t, recent.Equal(account.CreditsCycleAnchor))
	assert.Equal(t, int64(25), account.SentimentQuotaRemaining)
}

func TestRolloverIsIdempotent(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC), Config{})
	id := f.seed(t, "free", anchor, anchor)
	ctx := context.Background()

	require.NoError(t, f.sched.RunOnce(ctx))
	require.NoError(t, f.db.Model(&accountdomain.Account{}).Where("id = ?", id).Update("credits_remaining", 3).Error)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))

	account := f.account(t, id)
	assert.Equal(t, 3.0, account.CreditsRemaining, "a second run inside the new cycle must not reset again")
}

func TestRolloverWalksBatches(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC), Config{BatchSize: 2})
	ids := make([]snowflake.ID, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, f.seed(t, "pro", anchor, anchor))
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))

	for _, id := range ids {
		account := f.account(t, id)
		assert.Equal(t, 500.0, account.CreditsRemaining)
		assert.Equal(t, int64(1000), account.SentimentQuotaRemaining)
	}
}

func TestRolloverUnknownTierDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC), Config{})
	broken := f.seed(t, "enterprise", anchor, anchor)
	healthy := f.seed(t, "free", anchor, anchor)

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")

	assert.True(t, anchor.Equal(f.account(t, broken).CreditsCycleAnchor))
	assert.Equal(t, 10.0, f.account(t, healthy).CreditsRemaining)
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/reviewdesk/internal/account/domain"
	"github.com/smallbiznis/reviewdesk/internal/billingcycle"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	"github.com/smallbiznis/reviewdesk/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   ledgerdomain.Service
	clock *clock.FakeClock
	node  *snowflake.Node
}

var anchor = time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, dbtest.New(t, &accountdomain.Account{}, &ledgerdomain.UsageRecord{}))
}

func newFixtureOn(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, time.January, 20, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Credits: config.NewStaticCreditsConfigHolder(config.DefaultCreditsConfig()),
	})
	return &fixture{db: db, svc: svc, clock: clk, node: node}
}

func (f *fixture) seedAccount(t *testing.T, credits float64, sentiment int64) snowflake.ID {
	t.Helper()

	account := accountdomain.Account{
		ID:                      f.node.Generate(),
		Tier:                    "free",
		CreditsRemaining:        credits,
		CreditsCycleAnchor:      anchor,
		SentimentQuotaRemaining: sentiment,
		SentimentCycleAnchor:    anchor,
		CreatedAt:               anchor,
		UpdatedAt:               anchor,
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

func (f *fixture) records(t *testing.T, id snowflake.ID) []ledgerdomain.UsageRecord {
	t.Helper()

	var records []ledgerdomain.UsageRecord
	require.NoError(t, f.db.Where("account_id = ?", id).Order("created_at ASC, id ASC").Find(&records).Error)
	return records
}

func TestDeduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 10, 25)
	reviewID := f.node.Generate()

	receipt, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{
		AccountID: accountID,
		Amount:    1,
		Action:    ledgerdomain.ActionGenerate,
		ReviewID:  &reviewID,
		Detail:    map[string]any{"tone": "friendly"},
	})
	require.NoError(t, err)
	assert.Equal(t, 9.0, receipt.Remaining)
	assert.Equal(t, ledgerdomain.PoolCredits, receipt.Pool)

	records := f.records(t, accountID)
	require.Len(t, records, 1)
	assert.Equal(t, receipt.UsageRecordID, records[0].ID)
	assert.Equal(t, 1.0, records[0].Quantity)
	assert.Equal(t, ledgerdomain.ActionGenerate, records[0].Action)
	require.NotNil(t, records[0].ReviewID)
	assert.Equal(t, reviewID, *records[0].ReviewID)
	assert.Nil(t, records[0].ResponseID)
	assert.Equal(t, "friendly", records[0].Detail["tone"])
}

func TestDeductValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 10, 25)

	tests := []struct {
		name string
		req  ledgerdomain.DeductRequest
		want error
	}{
		{"missing account", ledgerdomain.DeductRequest{Amount: 1, Action: ledgerdomain.ActionGenerate}, ledgerdomain.ErrInvalidAccount},
		{"zero amount", ledgerdomain.DeductRequest{AccountID: accountID, Action: ledgerdomain.ActionGenerate}, ledgerdomain.ErrInvalidAmount},
		{"negative amount", ledgerdomain.DeductRequest{AccountID: accountID, Amount: -1, Action: ledgerdomain.ActionGenerate}, ledgerdomain.ErrInvalidAmount},
		{"refund is not a deduction", ledgerdomain.DeductRequest{AccountID: accountID, Amount: 1, Action: ledgerdomain.ActionRefund}, ledgerdomain.ErrInvalidAction},
		{"unknown account", ledgerdomain.DeductRequest{AccountID: snowflake.ID(99), Amount: 1, Action: ledgerdomain.ActionGenerate}, ledgerdomain.ErrAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Deduct(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, 10.0, f.account(t, accountID).CreditsRemaining)
	assert.Empty(t, f.records(t, accountID))
}

func TestDeductInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 0.25, 0)

	_, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{
		AccountID: accountID,
		Amount:    0.5,
		Action:    ledgerdomain.ActionRegenerate,
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	var insufficient *ledgerdomain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, ledgerdomain.PoolCredits, insufficient.Pool)
	assert.Equal(t, 0.25, insufficient.Remaining)
	assert.Equal(t, 0.5, insufficient.Required)
	assert.True(t, time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC).Equal(insufficient.ResetsAt))

	assert.Equal(t, 0.25, f.account(t, accountID).CreditsRemaining)
	assert.Empty(t, f.records(t, accountID))
}

func TestDeductNoDoubleChargeUnderConcurrency(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T) *gorm.DB
	}{
		{"single connection", func(t *testing.T) *gorm.DB {
			return dbtest.New(t, &accountdomain.Account{}, &ledgerdomain.UsageRecord{})
		}},
		{"connection pool", func(t *testing.T) *gorm.DB {
			return dbtest.NewFile(t, &accountdomain.Account{}, &ledgerdomain.UsageRecord{})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureOn(t, tt.open(t))
			ctx := context.Background()
			accountID := f.seedAccount(t, 1, 0)

			const workers = 8
			var (
				wg           sync.WaitGroup
				mu           sync.Mutex
				start        = make(chan struct{})
				successes    int
				insufficient int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{
						AccountID: accountID,
						Amount:    1,
						Action:    ledgerdomain.ActionGenerate,
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
						insufficient++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, 1, successes)
			assert.Equal(t, workers-1, insufficient)
			assert.Equal(t, 0.0, f.account(t, accountID).CreditsRemaining)
			assert.Len(t, f.records(t, accountID), 1)
		})
	}
}

func TestDeductFractionalCostsDrainExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 0.3, 0)

	want := []float64{0.2, 0.1, 0}
	for i := range want {
		receipt, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{
			AccountID: accountID,
			Amount:    0.1,
			Action:    ledgerdomain.ActionRegenerate,
		})
		require.NoError(t, err, "deduction %d", i+1)
		assert.Equal(t, want[i], receipt.Remaining, "deduction %d", i+1)
	}
	assert.Equal(t, 0.0, f.account(t, accountID).CreditsRemaining)

	_, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 0.1, Action: ledgerdomain.ActionRegenerate})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	refunded, err := f.svc.Refund(ctx, ledgerdomain.RefundRequest{AccountID: accountID, Amount: 0.1})
	require.NoError(t, err)
	assert.Equal(t, 0.1, refunded.Remaining)

	refunded, err = f.svc.Refund(ctx, ledgerdomain.RefundRequest{AccountID: accountID, Amount: 0.2})
	require.NoError(t, err)
	assert.Equal(t, 0.3, refunded.Remaining)
}

func TestDeductRoundsAmountToCreditScale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 1, 0)

	receipt, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 0.12346, Action: ledgerdomain.ActionGenerate})
	require.NoError(t, err)
	assert.Equal(t, 0.1235, receipt.Quantity)
	assert.Equal(t, 0.8765, receipt.Remaining)

	_, err = f.svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 0.00001, Action: ledgerdomain.ActionGenerate})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)
}

func TestRefundSymmetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 3, 0)

	deducted, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{
		AccountID: accountID,
		Amount:    0.5,
		Action:    ledgerdomain.ActionRegenerate,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.5, deducted.Remaining)

	refunded, err := f.svc.Refund(ctx, ledgerdomain.RefundRequest{
		AccountID: accountID,
		Amount:    0.5,
		Detail:    map[string]any{"reason": "persistence_failed"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, refunded.Remaining)
	assert.Equal(t, ledgerdomain.ActionRefund, refunded.Action)

	records := f.records(t, accountID)
	require.Len(t, records, 2)
	assert.Equal(t, 0.0, records[0].Quantity+records[1].Quantity)
	assert.Equal(t, 3.0, f.account(t, accountID).CreditsRemaining)
}

func TestRefundUnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Refund(context.Background(), ledgerdomain.RefundRequest{AccountID: snowflake.ID(7), Amount: 1})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)

	_, err = f.svc.Refund(context.Background(), ledgerdomain.RefundRequest{AccountID: snowflake.ID(7), Amount: 1, Pool: "tokens"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPool)
}

func TestLedgerReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	allowance := 10.0
	accountID := f.seedAccount(t, allowance, 0)

	steps := []func() error{
		func() error {
			_, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 1, Action: ledgerdomain.ActionGenerate})
			return err
		},
		func() error {
			_, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 0.5, Action: ledgerdomain.ActionRegenerate})
			return err
		},
		func() error {
			_, err := f.svc.Refund(ctx, ledgerdomain.RefundRequest{AccountID: accountID, Amount: 1})
			return err
		},
		func() error {
			_, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 1, Action: ledgerdomain.ActionGenerate})
			return err
		},
	}
	for _, step := range steps {
		require.NoError(t, step())
	}

	cycleStart := billingcycle.CycleStart(anchor, 30, f.clock.Now())
	var sum float64
	for _, r := range f.records(t, accountID) {
		if r.Pool == ledgerdomain.PoolCredits && !r.CreatedAt.Before(cycleStart) {
			sum += r.Quantity
		}
	}
	assert.InDelta(t, allowance-f.account(t, accountID).CreditsRemaining, sum, 1e-9)
}

func TestDeductSentiment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 10, 1)
	reviewID := f.node.Generate()

	receipt, err := f.svc.DeductSentiment(ctx, accountID, &reviewID, map[string]any{"source": "provider"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PoolSentiment, receipt.Pool)
	assert.Equal(t, 0.0, receipt.Remaining)

	_, err = f.svc.DeductSentiment(ctx, accountID, &reviewID, nil)
	var insufficient *ledgerdomain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, ledgerdomain.PoolSentiment, insufficient.Pool)

	account := f.account(t, accountID)
	assert.Equal(t, int64(0), account.SentimentQuotaRemaining)
	assert.Equal(t, 10.0, account.CreditsRemaining)
}

func TestLinkResponseOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 10, 0)

	receipt, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 1, Action: ledgerdomain.ActionGenerate})
	require.NoError(t, err)

	responseID := f.node.Generate()
	require.NoError(t, f.svc.LinkResponse(ctx, receipt.UsageRecordID, responseID))
	assert.ErrorIs(t, f.svc.LinkResponse(ctx, receipt.UsageRecordID, f.node.Generate()), ledgerdomain.ErrUsageRecordNotLinkable)

	records := f.records(t, accountID)
	require.NotNil(t, records[0].ResponseID)
	assert.Equal(t, responseID, *records[0].ResponseID)
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	accountID := f.seedAccount(t, 4.5, 3)

	balance, err := f.svc.Balance(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, 4.5, balance.CreditsRemaining)
	assert.Equal(t, int64(3), balance.SentimentRemaining)
	assert.True(t, time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC).Equal(balance.CreditsResetsAt))

	_, err = f.svc.Balance(context.Background(), snowflake.ID(5))
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestListUsagePaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 10, 5)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 1, Action: ledgerdomain.ActionGenerate})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	_, err := f.svc.DeductSentiment(ctx, accountID, nil, nil)
	require.NoError(t, err)

	req := ledgerdomain.ListUsageRequest{AccountID: accountID, Pool: ledgerdomain.PoolCredits}
	req.PageSize = 2

	var seen []snowflake.ID
	for page := 0; page < 5; page++ {
		resp, err := f.svc.ListUsage(ctx, req)
		require.NoError(t, err)
		for _, r := range resp.Records {
			assert.Equal(t, ledgerdomain.PoolCredits, r.Pool)
			seen = append(seen, r.ID)
		}
		if !resp.HasMore {
			break
		}
		req.PageToken = resp.NextPageToken
	}

	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, int64(seen[i-1]), int64(seen[i]), "records must come newest first")
	}
}

func TestRolloverCompareAndSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountID := f.seedAccount(t, 2, 0)
	newAnchor := time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC)

	changed, err := f.svc.Rollover(ctx, ledgerdomain.RolloverRequest{
		AccountID: accountID,
		Pool:      ledgerdomain.PoolCredits,
		OldAnchor: anchor,
		NewAnchor: newAnchor,
		Allowance: 10,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.svc.Rollover(ctx, ledgerdomain.RolloverRequest{
		AccountID: accountID,
		Pool:      ledgerdomain.PoolCredits,
		OldAnchor: anchor,
		NewAnchor: newAnchor,
		Allowance: 10,
	})
	require.NoError(t, err)
	assert.False(t, changed, "stale anchor must not roll twice")

	account := f.account(t, accountID)
	assert.Equal(t, 10.0, account.CreditsRemaining)
	assert.True(t, newAnchor.Equal(account.CreditsCycleAnchor))
	assert.True(t, anchor.Equal(account.SentimentCycleAnchor))
}

package service

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/reviewdesk/internal/account/domain"
	"github.com/smallbiznis/reviewdesk/internal/billingcycle"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/reviewdesk/internal/observability/metrics"
	"github.com/smallbiznis/reviewdesk/pkg/db/option"
	"github.com/smallbiznis/reviewdesk/pkg/db/pagination"
	"github.com/smallbiznis/reviewdesk/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Credits    *config.CreditsConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	credits    *config.CreditsConfigHolder
	obsMetrics *obsmetrics.Metrics
	usagerepo  repository.Repository[ledgerdomain.UsageRecord]
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		credits:    p.Credits,
		obsMetrics: p.ObsMetrics,
		usagerepo:  repository.ProvideStore[ledgerdomain.UsageRecord](p.DB),
	}
}

type entry struct {
	accountID  snowflake.ID
	pool       ledgerdomain.Pool
	action     ledgerdomain.Action
	quantity   float64
	reviewID   *snowflake.ID
	responseID *snowflake.ID
	detail     map[string]any
}

func (s *Service) Deduct(ctx context.Context, req ledgerdomain.DeductRequest) (ledgerdomain.Receipt, error) {
	var receipt ledgerdomain.Receipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		receipt, err = s.DeductTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return ledgerdomain.Receipt{}, err
	}
	s.recordCommitted(ctx, receipt)
	return receipt, nil
}

// DeductTx does not record metrics; the transaction owner does once it commits.
func (s *Service) DeductTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.DeductRequest) (ledgerdomain.Receipt, error) {
	if req.AccountID == 0 {
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidAccount
	}
	amount := roundCredits(req.Amount)
	if amount <= 0 {
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidAmount
	}
	switch req.Action {
	case ledgerdomain.ActionGenerate, ledgerdomain.ActionRegenerate:
	default:
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidAction
	}

	return s.debit(ctx, tx, entry{
		accountID:  req.AccountID,
		pool:       ledgerdomain.PoolCredits,
		action:     req.Action,
		quantity:   amount,
		reviewID:   req.ReviewID,
		responseID: req.ResponseID,
		detail:     req.Detail,
	})
}

func (s *Service) DeductSentiment(ctx context.Context, accountID snowflake.ID, reviewID *snowflake.ID, detail map[string]any) (ledgerdomain.Receipt, error) {
	var receipt ledgerdomain.Receipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		receipt, err = s.DeductSentimentTx(ctx, tx, accountID, reviewID, detail)
		return err
	})
	if err != nil {
		return ledgerdomain.Receipt{}, err
	}
	s.recordCommitted(ctx, receipt)
	return receipt, nil
}

// DeductSentimentTx takes one sentiment unit inside the caller's transaction.
// Like DeductTx it leaves metrics to the transaction owner.
func (s *Service) DeductSentimentTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, reviewID *snowflake.ID, detail map[string]any) (ledgerdomain.Receipt, error) {
	if accountID == 0 {
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidAccount
	}
	return s.debit(ctx, tx, entry{
		accountID: accountID,
		pool:      ledgerdomain.PoolSentiment,
		action:    ledgerdomain.ActionSentimentAnalysis,
		quantity:  1,
		reviewID:  reviewID,
		detail:    detail,
	})
}

func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (ledgerdomain.Receipt, error) {
	if req.AccountID == 0 {
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidAccount
	}
	amount := roundCredits(req.Amount)
	if amount <= 0 {
		return ledgerdomain.Receipt{}, ledgerdomain.ErrInvalidAmount
	}
	pool := req.Pool
	if pool == "" {
		pool = ledgerdomain.PoolCredits
	}
	column, _, err := poolColumns(pool)
	if err != nil {
		return ledgerdomain.Receipt{}, err
	}

	e := entry{
		accountID:  req.AccountID,
		pool:       pool,
		action:     ledgerdomain.ActionRefund,
		quantity:   -amount,
		reviewID:   req.ReviewID,
		responseID: req.ResponseID,
		detail:     req.Detail,
	}

	var receipt ledgerdomain.Receipt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).
			Model(&accountdomain.Account{}).
			Where("id = ?", req.AccountID).
			Updates(map[string]any{
				column:       credit(pool, column, amount),
				"updated_at": s.clock.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ledgerdomain.ErrAccountNotFound
		}

		var err error
		receipt, err = s.append(ctx, tx, e)
		return err
	})
	if err != nil {
		return ledgerdomain.Receipt{}, err
	}

	s.log.Info("ledger refund applied",
		zap.String("account_id", req.AccountID.String()),
		zap.String("pool", string(pool)),
		zap.Float64("amount", amount),
		zap.Float64("remaining", receipt.Remaining),
	)
	s.recordCommitted(ctx, receipt)
	return receipt, nil
}

// debit is the guarded compare-and-set. The conditional UPDATE is evaluated
// under the row lock, so concurrent callers cannot both pass the check.
func (s *Service) debit(ctx context.Context, tx *gorm.DB, e entry) (ledgerdomain.Receipt, error) {
	column, _, err := poolColumns(e.pool)
	if err != nil {
		return ledgerdomain.Receipt{}, err
	}

	guard, update := column+" >= ?", gorm.Expr(column+" - ?", e.quantity)
	if e.pool == ledgerdomain.PoolCredits {
		guard = "ROUND(" + column + ", 4) >= ?"
		update = gorm.Expr("ROUND("+column+" - ?, 4)", e.quantity)
	}

	result := tx.WithContext(ctx).
		Model(&accountdomain.Account{}).
		Where("id = ? AND "+guard, e.accountID, e.quantity).
		Updates(map[string]any{
			column:       update,
			"updated_at": s.clock.Now(),
		})
	if result.Error != nil {
		return ledgerdomain.Receipt{}, result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.Receipt{}, s.rejection(ctx, tx, e)
	}

	return s.append(ctx, tx, e)
}

func (s *Service) rejection(ctx context.Context, tx *gorm.DB, e entry) error {
	var account accountdomain.Account
	if err := tx.WithContext(ctx).First(&account, "id = ?", e.accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.ErrAccountNotFound
		}
		return err
	}

	insufficient := s.insufficientFunds(account, e.pool, e.quantity)
	s.obsMetrics.RecordInsufficientFunds(ctx, string(e.pool))
	s.log.Debug("ledger deduction rejected",
		zap.String("account_id", e.accountID.String()),
		zap.String("pool", string(e.pool)),
		zap.Float64("remaining", insufficient.Remaining),
		zap.Float64("required", e.quantity),
	)
	return insufficient
}

func (s *Service) insufficientFunds(account accountdomain.Account, pool ledgerdomain.Pool, required float64) *ledgerdomain.InsufficientFundsError {
	cycleLength := s.credits.Get().CycleLengthDays
	now := s.clock.Now()

	if pool == ledgerdomain.PoolSentiment {
		return &ledgerdomain.InsufficientFundsError{
			Pool:      pool,
			Remaining: float64(account.SentimentQuotaRemaining),
			Required:  required,
			ResetsAt:  billingcycle.NextReset(account.SentimentCycleAnchor, cycleLength, now),
		}
	}
	return &ledgerdomain.InsufficientFundsError{
		Pool:      pool,
		Remaining: account.CreditsRemaining,
		Required:  required,
		ResetsAt:  billingcycle.NextReset(account.CreditsCycleAnchor, cycleLength, now),
	}
}

// append reads back the post-update balance and inserts the usage record.
func (s *Service) append(ctx context.Context, tx *gorm.DB, e entry) (ledgerdomain.Receipt, error) {
	var account accountdomain.Account
	if err := tx.WithContext(ctx).First(&account, "id = ?", e.accountID).Error; err != nil {
		return ledgerdomain.Receipt{}, err
	}

	detail := datatypes.JSONMap{}
	for k, v := range e.detail {
		detail[k] = v
	}

	record := ledgerdomain.UsageRecord{
		ID:         s.genID.Generate(),
		AccountID:  e.accountID,
		Quantity:   e.quantity,
		Action:     e.action,
		Pool:       e.pool,
		ReviewID:   e.reviewID,
		ResponseID: e.responseID,
		Detail:     detail,
		CreatedAt:  s.clock.Now(),
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		return ledgerdomain.Receipt{}, err
	}

	remaining := account.CreditsRemaining
	if e.pool == ledgerdomain.PoolSentiment {
		remaining = float64(account.SentimentQuotaRemaining)
	}
	return ledgerdomain.Receipt{
		UsageRecordID: record.ID,
		AccountID:     e.accountID,
		Pool:          e.pool,
		Action:        e.action,
		Quantity:      e.quantity,
		Remaining:     remaining,
	}, nil
}

// recordCommitted counts a committed ledger entry.
func (s *Service) recordCommitted(ctx context.Context, receipt ledgerdomain.Receipt) {
	s.obsMetrics.RecordLedgerEntry(ctx, string(receipt.Action), string(receipt.Pool))
}

func (s *Service) LinkResponse(ctx context.Context, usageRecordID, responseID snowflake.ID) error {
	return s.LinkResponseTx(ctx, s.db, usageRecordID, responseID)
}

// LinkResponseTx sets response_id on a record that has none yet.
func (s *Service) LinkResponseTx(ctx context.Context, tx *gorm.DB, usageRecordID, responseID snowflake.ID) error {
	result := tx.WithContext(ctx).
		Model(&ledgerdomain.UsageRecord{}).
		Where("id = ? AND response_id IS NULL", usageRecordID).
		Update("response_id", responseID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrUsageRecordNotLinkable
	}
	return nil
}

func (s *Service) Balance(ctx context.Context, accountID snowflake.ID) (ledgerdomain.Balance, error) {
	if accountID == 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}

	var account accountdomain.Account
	if err := s.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.Balance{}, ledgerdomain.ErrAccountNotFound
		}
		return ledgerdomain.Balance{}, err
	}

	cycleLength := s.credits.Get().CycleLengthDays
	now := s.clock.Now()
	return ledgerdomain.Balance{
		AccountID:          account.ID,
		CreditsRemaining:   account.CreditsRemaining,
		CreditsResetsAt:    billingcycle.NextReset(account.CreditsCycleAnchor, cycleLength, now),
		SentimentRemaining: account.SentimentQuotaRemaining,
		SentimentResetsAt:  billingcycle.NextReset(account.SentimentCycleAnchor, cycleLength, now),
	}, nil
}

func (s *Service) ListUsage(ctx context.Context, req ledgerdomain.ListUsageRequest) (ledgerdomain.ListUsageResponse, error) {
	if req.AccountID == 0 {
		return ledgerdomain.ListUsageResponse{}, ledgerdomain.ErrInvalidAccount
	}
	if req.Pool != "" {
		if _, _, err := poolColumns(req.Pool); err != nil {
			return ledgerdomain.ListUsageResponse{}, err
		}
	}

	limit := req.Limit()
	opts := []option.QueryOption{option.NewestFirst(), option.ApplyPagination(limit + 1)}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.ListUsageResponse{}, err
		}
		id, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return ledgerdomain.ListUsageResponse{}, pagination.ErrInvalidPageToken
		}
		opts = append(opts, option.CreatedBefore(cursor.CreatedAt, id))
	}

	rows, err := s.usagerepo.Find(ctx, &ledgerdomain.UsageRecord{AccountID: req.AccountID, Pool: req.Pool}, opts...)
	if err != nil {
		return ledgerdomain.ListUsageResponse{}, err
	}

	page, info, err := pagination.BuildCursorPage(rows, limit, func(r *ledgerdomain.UsageRecord) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String(), CreatedAt: r.CreatedAt}
	})
	if err != nil {
		return ledgerdomain.ListUsageResponse{}, err
	}

	records := make([]ledgerdomain.UsageRecord, 0, len(page))
	for _, r := range page {
		records = append(records, *r)
	}
	return ledgerdomain.ListUsageResponse{PageInfo: info, Records: records}, nil
}

func (s *Service) Rollover(ctx context.Context, req ledgerdomain.RolloverRequest) (bool, error) {
	if req.AccountID == 0 {
		return false, ledgerdomain.ErrInvalidAccount
	}
	if req.Allowance < 0 {
		return false, ledgerdomain.ErrInvalidAmount
	}
	column, anchorColumn, err := poolColumns(req.Pool)
	if err != nil {
		return false, err
	}

	var value any = req.Allowance
	if req.Pool == ledgerdomain.PoolSentiment {
		value = int64(req.Allowance)
	}

	result := s.db.WithContext(ctx).
		Model(&accountdomain.Account{}).
		Where("id = ? AND "+anchorColumn+" = ?", req.AccountID, req.OldAnchor).
		Updates(map[string]any{
			column:       value,
			anchorColumn: req.NewAnchor,
			"updated_at": s.clock.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// creditScale matches the decimal(12,4) column. Arithmetic is rounded to it
// so dialects storing REAL do not drift on fractional costs.
const creditScale = 1e4

func roundCredits(v float64) float64 {
	return math.Round(v*creditScale) / creditScale
}

func credit(pool ledgerdomain.Pool, column string, amount float64) clause.Expr {
	if pool == ledgerdomain.PoolCredits {
		return gorm.Expr("ROUND("+column+" + ?, 4)", amount)
	}
	return gorm.Expr(column+" + ?", amount)
}

func poolColumns(pool ledgerdomain.Pool) (remaining string, anchor string, err error) {
	switch pool {
	case ledgerdomain.PoolCredits:
		return "credits_remaining", "credits_cycle_anchor", nil
	case ledgerdomain.PoolSentiment:
		return "sentiment_quota_remaining", "sentiment_cycle_anchor", nil
	default:
		return "", "", ledgerdomain.ErrInvalidPool
	}
}

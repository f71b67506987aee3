package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
	brandvoicedomain "github.com/smallbiznis/reviewdesk/internal/brandvoice/domain"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/reviewdesk/internal/observability/metrics"
	responsedomain "github.com/smallbiznis/reviewdesk/internal/response/domain"
	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
	"github.com/smallbiznis/reviewdesk/pkg/db"
	"github.com/smallbiznis/reviewdesk/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	outcomeSuccess             = "success"
	outcomeInsufficientFunds   = "insufficient_funds"
	outcomeProviderUnavailable = "provider_unavailable"
	outcomeProviderRejected    = "provider_rejected"
	outcomeConflict            = "conflict"
	outcomeError               = "error"

	previewRunes = 120
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Credits    *config.CreditsConfigHolder
	Ledger     ledgerdomain.Service
	Reviews    reviewdomain.Service
	BrandVoice brandvoicedomain.Service
	AI         aidomain.Client
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	credits    *config.CreditsConfigHolder
	ledger     ledgerdomain.Service
	reviews    reviewdomain.Service
	brandVoice brandvoicedomain.Service
	ai         aidomain.Client
	obsMetrics *obsmetrics.Metrics

	responserepo repository.Repository[responsedomain.Response]
	versionrepo  repository.Repository[responsedomain.Version]
}

func NewService(p ServiceParam) responsedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("response.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		credits:    p.Credits,
		ledger:     p.Ledger,
		reviews:    p.Reviews,
		brandVoice: p.BrandVoice,
		ai:         p.AI,
		obsMetrics: p.ObsMetrics,

		responserepo: repository.ProvideStore[responsedomain.Response](p.DB),
		versionrepo:  repository.ProvideStore[responsedomain.Version](p.DB),
	}
}

// Generate drafts the first reply for a review. Credits are only deducted
// after the provider returned text; a failed insert afterwards is refunded.
func (s *Service) Generate(ctx context.Context, req responsedomain.GenerateRequest) (*responsedomain.Response, error) {
	action := string(ledgerdomain.ActionGenerate)
	if err := validateIDs(req.AccountID, req.ReviewID); err != nil {
		return nil, err
	}
	tone, err := aidomain.ParseTone(req.Tone)
	if err != nil {
		return nil, err
	}

	review, err := s.reviews.Get(ctx, req.AccountID, req.ReviewID)
	if err != nil {
		return nil, err
	}
	existing, err := s.findResponse(ctx, req.AccountID, req.ReviewID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, responsedomain.ErrResponseExists
	}

	cost := s.credits.Get().GenerateCost
	if err := s.ensureCredits(ctx, req.AccountID, cost); err != nil {
		s.recordOutcome(ctx, action, err)
		return nil, err
	}

	generated, err := s.draft(ctx, review, tone)
	if err != nil {
		s.recordOutcome(ctx, action, err)
		return nil, err
	}

	// Past this point the caller going away must not strand a deduction.
	ctx = context.WithoutCancel(ctx)

	receipt, err := s.ledger.Deduct(ctx, ledgerdomain.DeductRequest{
		AccountID: req.AccountID,
		Amount:    cost,
		Action:    ledgerdomain.ActionGenerate,
		ReviewID:  &review.ID,
		Detail:    snapshot(generated, tone, nil),
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
			s.log.Info("generated reply discarded, credits exhausted at deduction",
				zap.String("account_id", req.AccountID.String()),
				zap.String("review_id", review.ID.String()),
			)
		}
		s.recordOutcome(ctx, action, err)
		return nil, err
	}

	now := s.clock.Now()
	response := &responsedomain.Response{
		ID:          s.genID.Generate(),
		AccountID:   req.AccountID,
		ReviewID:    review.ID,
		Text:        generated.Text,
		Tone:        tone.String(),
		CreditsUsed: cost,
		Model:       generated.Model,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(response).Error; err != nil {
			return err
		}
		version := s.newVersion(response, response.CreditsUsed, now)
		if err := tx.Create(&version).Error; err != nil {
			return err
		}
		return s.ledger.LinkResponseTx(ctx, tx, receipt.UsageRecordID, response.ID)
	})
	if err != nil {
		if isUniqueViolation(err) {
			s.log.Info("concurrent generate stored a response first",
				zap.String("review_id", review.ID.String()),
			)
		}
		s.compensate(ctx, receipt, review.ID, err)
		s.recordOutcome(ctx, action, responsedomain.ErrPersistenceConflict)
		return nil, fmt.Errorf("%w: %v", responsedomain.ErrPersistenceConflict, err)
	}

	s.recordOutcome(ctx, action, nil)
	s.log.Info("response generated",
		zap.String("account_id", req.AccountID.String()),
		zap.String("review_id", review.ID.String()),
		zap.String("response_id", response.ID.String()),
		zap.String("provider", generated.Provider),
		zap.Int("attempts", generated.Attempts),
		zap.Float64("remaining", receipt.Remaining),
	)
	return response, nil
}

// Regenerate replaces the current text with a new draft in the given tone.
// The history entry, the overwrite and the deduction commit together.
func (s *Service) Regenerate(ctx context.Context, req responsedomain.RegenerateRequest) (*responsedomain.Response, error) {
	action := string(ledgerdomain.ActionRegenerate)
	if err := validateIDs(req.AccountID, req.ReviewID); err != nil {
		return nil, err
	}
	tone, err := aidomain.ParseTone(req.Tone)
	if err != nil {
		return nil, err
	}
	if tone.IsDefault() {
		return nil, responsedomain.ErrToneRequired
	}

	review, err := s.reviews.Get(ctx, req.AccountID, req.ReviewID)
	if err != nil {
		return nil, err
	}
	current, err := s.findResponse(ctx, req.AccountID, req.ReviewID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, responsedomain.ErrResponseNotFound
	}

	cost := s.credits.Get().RegenerateCost
	if err := s.ensureCredits(ctx, req.AccountID, cost); err != nil {
		s.recordOutcome(ctx, action, err)
		return nil, err
	}

	generated, err := s.draft(ctx, review, tone)
	if err != nil {
		s.recordOutcome(ctx, action, err)
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	now := s.clock.Now()

	var receipt ledgerdomain.Receipt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		receipt, err = s.ledger.DeductTx(ctx, tx, ledgerdomain.DeductRequest{
			AccountID:  req.AccountID,
			Amount:     cost,
			Action:     ledgerdomain.ActionRegenerate,
			ReviewID:   &review.ID,
			ResponseID: &current.ID,
			Detail:     snapshot(generated, tone, current),
		})
		if err != nil {
			return err
		}

		return s.overwrite(tx, current, now, current.CreditsUsed, map[string]any{
			"text":         generated.Text,
			"tone":         tone.String(),
			"credits_used": cost,
			"model":        generated.Model,
			"edited":       false,
			"edited_at":    nil,
		})
	})
	if err != nil {
		err = asConflict(err)
		s.recordOutcome(ctx, action, err)
		return nil, err
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(receipt.Action), string(receipt.Pool))
	s.recordOutcome(ctx, action, nil)
	s.log.Info("response regenerated",
		zap.String("account_id", req.AccountID.String()),
		zap.String("response_id", current.ID.String()),
		zap.String("previous_tone", current.Tone),
		zap.String("tone", tone.String()),
		zap.Float64("remaining", receipt.Remaining),
	)
	return s.Get(ctx, req.AccountID, req.ReviewID)
}

// overwrite snapshots the current text as a Version, then applies updates
// guarded by the revision read before the provider call.
func (s *Service) overwrite(tx *gorm.DB, current *responsedomain.Response, now time.Time, versionCost float64, updates map[string]any) error {
	version := s.newVersion(current, versionCost, now)
	if err := tx.Create(&version).Error; err != nil {
		return err
	}

	updates["revision"] = current.Revision + 1
	updates["updated_at"] = now
	result := tx.Model(&responsedomain.Response{}).
		Where("id = ? AND revision = ?", current.ID, current.Revision).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return responsedomain.ErrPersistenceConflict
	}
	return nil
}

func (s *Service) newVersion(r *responsedomain.Response, cost float64, now time.Time) responsedomain.Version {
	return responsedomain.Version{
		ID:          s.genID.Generate(),
		ResponseID:  r.ID,
		Text:        r.Text,
		Tone:        r.Tone,
		CreditsUsed: cost,
		Edited:      r.Edited,
		CreatedAt:   now,
	}
}

// ensureCredits rejects early so the provider is not called for an account
// that cannot pay. The deduction re-checks atomically.
func (s *Service) ensureCredits(ctx context.Context, accountID snowflake.ID, cost float64) error {
	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return err
	}
	if balance.CreditsRemaining < cost {
		s.obsMetrics.RecordInsufficientFunds(ctx, string(ledgerdomain.PoolCredits))
		return &ledgerdomain.InsufficientFundsError{
			Pool:      ledgerdomain.PoolCredits,
			Remaining: balance.CreditsRemaining,
			Required:  cost,
			ResetsAt:  balance.CreditsResetsAt,
		}
	}
	return nil
}

func (s *Service) draft(ctx context.Context, review *reviewdomain.Review, tone aidomain.Tone) (aidomain.Generated, error) {
	voice, err := s.brandVoice.Resolve(ctx, review.AccountID)
	if err != nil {
		return aidomain.Generated{}, err
	}

	req := aidomain.GenerateRequest{
		ReviewText: review.Text,
		Platform:   review.Platform,
		Rating:     review.Rating,
		Language:   review.Language,
		Voice:      voice,
	}
	if review.ReviewerName != nil {
		req.ReviewerName = *review.ReviewerName
	}
	if !tone.IsDefault() {
		req.ToneOverride = &tone
	}

	generated, err := s.ai.Generate(ctx, req)
	if err != nil {
		s.log.Warn("reply generation failed",
			zap.String("account_id", review.AccountID.String()),
			zap.String("review_id", review.ID.String()),
			zap.Error(err),
		)
		return aidomain.Generated{}, classifyProviderErr(err)
	}
	return generated, nil
}

// compensate returns a committed deduction whose response could not be stored.
func (s *Service) compensate(ctx context.Context, receipt ledgerdomain.Receipt, reviewID snowflake.ID, cause error) {
	_, err := s.ledger.Refund(ctx, ledgerdomain.RefundRequest{
		AccountID: receipt.AccountID,
		Amount:    receipt.Quantity,
		Pool:      receipt.Pool,
		ReviewID:  &reviewID,
		Detail: map[string]any{
			"reason":          "response_persist_failed",
			"usage_record_id": receipt.UsageRecordID.String(),
		},
	})
	if err != nil {
		s.log.Error("compensating refund failed",
			zap.String("account_id", receipt.AccountID.String()),
			zap.String("usage_record_id", receipt.UsageRecordID.String()),
			zap.Float64("amount", receipt.Quantity),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	s.log.Warn("response persist failed, deduction refunded",
		zap.String("account_id", receipt.AccountID.String()),
		zap.String("usage_record_id", receipt.UsageRecordID.String()),
		zap.Error(cause),
	)
}

func (s *Service) recordOutcome(ctx context.Context, action string, err error) {
	s.obsMetrics.RecordGeneration(ctx, action, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		return outcomeInsufficientFunds
	case errors.Is(err, aidomain.ErrProviderUnavailable):
		return outcomeProviderUnavailable
	case errors.Is(err, aidomain.ErrProviderRejected):
		return outcomeProviderRejected
	case errors.Is(err, responsedomain.ErrPersistenceConflict):
		return outcomeConflict
	default:
		return outcomeError
	}
}

// classifyProviderErr keeps the typed provider errors and folds anything
// else into the permanent class.
func classifyProviderErr(err error) error {
	if errors.Is(err, aidomain.ErrProviderUnavailable) || errors.Is(err, aidomain.ErrProviderRejected) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &aidomain.PermanentError{Err: err}
}

func snapshot(g aidomain.Generated, tone aidomain.Tone, previous *responsedomain.Response) map[string]any {
	detail := map[string]any{
		"tone":     tone.String(),
		"model":    g.Model,
		"provider": g.Provider,
		"attempts": g.Attempts,
		"preview":  preview(g.Text),
	}
	if previous != nil {
		detail["previous_tone"] = previous.Tone
		detail["new_tone"] = tone.String()
	}
	return detail
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes])
}

func validateIDs(accountID, reviewID snowflake.ID) error {
	if accountID == 0 {
		return responsedomain.ErrInvalidAccount
	}
	if reviewID == 0 {
		return responsedomain.ErrInvalidReview
	}
	return nil
}

func (s *Service) findResponse(ctx context.Context, accountID, reviewID snowflake.ID) (*responsedomain.Response, error) {
	return s.responserepo.FindOne(ctx, &responsedomain.Response{AccountID: accountID, ReviewID: reviewID})
}

func isUniqueViolation(err error) bool {
	return db.IsDuplicateKeyErr(err)
}

// asConflict reports a write that lost a serialization race as
// ErrPersistenceConflict so callers can retry it.
func asConflict(err error) error {
	if err == nil || errors.Is(err, responsedomain.ErrPersistenceConflict) || !db.IsSerializationErr(err) {
		return err
	}
	return fmt.Errorf("%w: %v", responsedomain.ErrPersistenceConflict, err)
}

func normalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", responsedomain.ErrEmptyText
	}
	if utf8.RuneCountInString(text) > responsedomain.MaxTextLength {
		return "", responsedomain.ErrTextTooLong
	}
	return text, nil
}

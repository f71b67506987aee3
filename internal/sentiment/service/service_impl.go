package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
	"github.com/smallbiznis/reviewdesk/internal/config"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/reviewdesk/internal/observability/metrics"
	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
	sentimentdomain "github.com/smallbiznis/reviewdesk/internal/sentiment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Credits    *config.CreditsConfigHolder
	Ledger     ledgerdomain.Service
	Reviews    reviewdomain.Service
	AI         aidomain.Client
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	credits    *config.CreditsConfigHolder
	ledger     ledgerdomain.Service
	reviews    reviewdomain.Service
	ai         aidomain.Client
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) sentimentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("sentiment.service"),
		credits:    p.Credits,
		ledger:     p.Ledger,
		reviews:    p.Reviews,
		ai:         p.AI,
		obsMetrics: p.ObsMetrics,
	}
}

// Analyze classifies a review and stores the label on it. A provider answer
// consumes one unit of sentiment quota; the keyword fallback only does when
// configured to.
func (s *Service) Analyze(ctx context.Context, accountID, reviewID snowflake.ID) (sentimentdomain.Result, error) {
	if accountID == 0 {
		return sentimentdomain.Result{}, sentimentdomain.ErrInvalidAccount
	}
	if reviewID == 0 {
		return sentimentdomain.Result{}, sentimentdomain.ErrInvalidReview
	}

	review, err := s.reviews.Get(ctx, accountID, reviewID)
	if err != nil {
		return sentimentdomain.Result{}, err
	}
	if err := s.ensureQuota(ctx, accountID); err != nil {
		return sentimentdomain.Result{}, err
	}

	result := sentimentdomain.Result{ReviewID: review.ID}
	classification, err := s.classify(ctx, review)
	if err == nil {
		result.Sentiment = reviewdomain.Sentiment(classification.Sentiment)
		result.Confidence = classification.Confidence
		result.Source = sentimentdomain.SourceProvider
		result.Authoritative = true
		result.Charged = true
	} else if ctx.Err() != nil {
		return sentimentdomain.Result{}, ctx.Err()
	} else {
		label, confidence := classifyHeuristic(review.Text, review.Rating)
		result.Sentiment = label
		result.Confidence = confidence
		result.Source = sentimentdomain.SourceHeuristic
		result.Charged = s.credits.Get().Sentiment.ChargeFallback
	}

	ctx = context.WithoutCancel(ctx)
	if !result.Charged {
		if err := s.reviews.SetSentiment(ctx, accountID, review.ID, result.Sentiment); err != nil {
			return sentimentdomain.Result{}, err
		}
		s.obsMetrics.RecordSentiment(ctx, string(result.Source))
		return result, nil
	}

	detail := map[string]any{
		"source":     string(result.Source),
		"sentiment":  string(result.Sentiment),
		"confidence": result.Confidence,
	}
	if result.Authoritative {
		detail["provider"] = classification.Provider
		detail["model"] = classification.Model
	}

	// The unit and the label commit together; a label that cannot be stored
	// leaves the quota untouched.
	var receipt ledgerdomain.Receipt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		receipt, err = s.ledger.DeductSentimentTx(ctx, tx, accountID, &review.ID, detail)
		if err != nil {
			return err
		}
		return s.reviews.SetSentimentTx(ctx, tx, accountID, review.ID, result.Sentiment)
	})
	if err != nil {
		s.log.Info("sentiment result discarded",
			zap.String("account_id", accountID.String()),
			zap.String("review_id", review.ID.String()),
			zap.Error(err),
		)
		return sentimentdomain.Result{}, err
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(receipt.Action), string(receipt.Pool))
	s.obsMetrics.RecordSentiment(ctx, string(result.Source))
	return result, nil
}

func (s *Service) classify(ctx context.Context, review *reviewdomain.Review) (aidomain.Classification, error) {
	if !s.ai.Enabled() {
		return aidomain.Classification{}, aidomain.ErrNoBackends
	}
	classification, err := s.ai.Classify(ctx, review.Text)
	if err != nil {
		s.log.Warn("sentiment provider failed, using keyword fallback",
			zap.String("review_id", review.ID.String()),
			zap.Error(err),
		)
		return aidomain.Classification{}, err
	}
	return classification, nil
}

func (s *Service) ensureQuota(ctx context.Context, accountID snowflake.ID) error {
	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return err
	}
	if balance.SentimentRemaining <= 0 {
		s.obsMetrics.RecordInsufficientFunds(ctx, string(ledgerdomain.PoolSentiment))
		return &ledgerdomain.InsufficientFundsError{
			Pool:      ledgerdomain.PoolSentiment,
			Remaining: float64(balance.SentimentRemaining),
			Required:  1,
			ResetsAt:  balance.SentimentResetsAt,
		}
	}
	return nil
}

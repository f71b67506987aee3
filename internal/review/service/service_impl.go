package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	obsmetrics "github.com/smallbiznis/reviewdesk/internal/observability/metrics"
	responsedomain "github.com/smallbiznis/reviewdesk/internal/response/domain"
	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
	"github.com/smallbiznis/reviewdesk/pkg/db/option"
	"github.com/smallbiznis/reviewdesk/pkg/db/pagination"
	"github.com/smallbiznis/reviewdesk/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPlatform = "other"

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Credits    *config.CreditsConfigHolder
	Guard      reviewdomain.DuplicateGuard
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	credits    *config.CreditsConfigHolder
	guard      reviewdomain.DuplicateGuard
	obsMetrics *obsmetrics.Metrics

	reviewrepo repository.Repository[reviewdomain.Review]
}

func NewService(p ServiceParam) reviewdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("review.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		credits:    p.Credits,
		guard:      p.Guard,
		obsMetrics: p.ObsMetrics,

		reviewrepo: repository.ProvideStore[reviewdomain.Review](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req reviewdomain.CreateReviewRequest) (*reviewdomain.Review, error) {
	review, err := s.buildReview(req)
	if err != nil {
		return nil, err
	}

	release, err := s.guard.Claim(ctx, review.AccountID, review.Text, s.credits.Get().DuplicateWindow)
	if err != nil {
		if errors.Is(err, reviewdomain.ErrDuplicateReview) {
			s.obsMetrics.RecordDuplicateReview(ctx)
			s.log.Info("duplicate review rejected", zap.String("account_id", review.AccountID.String()))
		}
		return nil, err
	}

	if err := s.reviewrepo.Create(ctx, review); err != nil {
		release()
		return nil, err
	}
	return review, nil
}

func (s *Service) buildReview(req reviewdomain.CreateReviewRequest) (*reviewdomain.Review, error) {
	if req.AccountID == 0 {
		return nil, reviewdomain.ErrInvalidAccount
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, reviewdomain.ErrEmptyText
	}
	if utf8.RuneCountInString(text) > reviewdomain.MaxTextLength {
		return nil, reviewdomain.ErrTextTooLong
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return nil, reviewdomain.ErrInvalidRating
	}

	platform := defaultPlatform
	if raw := strings.TrimSpace(req.Platform); raw != "" {
		platform = slug.Make(raw)
		if platform == "" {
			return nil, reviewdomain.ErrInvalidPlatform
		}
	}

	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = "en"
	}

	now := s.clock.Now()
	review := &reviewdomain.Review{
		ID:        s.genID.Generate(),
		AccountID: req.AccountID,
		Platform:  platform,
		Text:      text,
		Rating:    req.Rating,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if name := strings.TrimSpace(req.ReviewerName); name != "" {
		review.ReviewerName = &name
	}
	if req.ReviewDate != nil {
		date := req.ReviewDate.UTC()
		review.ReviewDate = &date
	}
	return review, nil
}

func (s *Service) Get(ctx context.Context, accountID, reviewID snowflake.ID) (*reviewdomain.Review, error) {
	if accountID == 0 {
		return nil, reviewdomain.ErrInvalidAccount
	}
	if reviewID == 0 {
		return nil, reviewdomain.ErrInvalidReview
	}

	review, err := s.reviewrepo.FindOne(ctx, &reviewdomain.Review{ID: reviewID, AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if review == nil {
		return nil, reviewdomain.ErrReviewNotFound
	}
	return review, nil
}

func (s *Service) List(ctx context.Context, req reviewdomain.ListReviewRequest) (reviewdomain.ListReviewResponse, error) {
	if req.AccountID == 0 {
		return reviewdomain.ListReviewResponse{}, reviewdomain.ErrInvalidAccount
	}

	filter := &reviewdomain.Review{AccountID: req.AccountID}
	if platform := strings.TrimSpace(req.Platform); platform != "" {
		filter.Platform = slug.Make(platform)
	}

	limit := req.Limit()
	opts := []option.QueryOption{option.NewestFirst(), option.ApplyPagination(limit + 1)}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return reviewdomain.ListReviewResponse{}, err
		}
		id, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return reviewdomain.ListReviewResponse{}, pagination.ErrInvalidPageToken
		}
		opts = append(opts, option.CreatedBefore(cursor.CreatedAt, id))
	}

	rows, err := s.reviewrepo.Find(ctx, filter, opts...)
	if err != nil {
		return reviewdomain.ListReviewResponse{}, err
	}
	page, info, err := pagination.BuildCursorPage(rows, limit, func(r *reviewdomain.Review) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.String(), CreatedAt: r.CreatedAt}
	})
	if err != nil {
		return reviewdomain.ListReviewResponse{}, err
	}

	reviews := make([]reviewdomain.Review, 0, len(page))
	for _, r := range page {
		reviews = append(reviews, *r)
	}
	return reviewdomain.ListReviewResponse{PageInfo: info, Reviews: reviews}, nil
}

// Delete removes the review with its response and versions. Usage records
// keep their review id.
func (s *Service) Delete(ctx context.Context, accountID, reviewID snowflake.ID) error {
	if _, err := s.Get(ctx, accountID, reviewID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		responseIDs := tx.Model(&responsedomain.Response{}).Select("id").Where("review_id = ?", reviewID)
		if err := tx.Where("response_id IN (?)", responseIDs).Delete(&responsedomain.Version{}).Error; err != nil {
			return err
		}
		if err := tx.Where("review_id = ?", reviewID).Delete(&responsedomain.Response{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND account_id = ?", reviewID, accountID).Delete(&reviewdomain.Review{}).Error
	})
}

func (s *Service) SetSentiment(ctx context.Context, accountID, reviewID snowflake.ID, sentiment reviewdomain.Sentiment) error {
	return s.SetSentimentTx(ctx, s.db, accountID, reviewID, sentiment)
}

func (s *Service) SetSentimentTx(ctx context.Context, tx *gorm.DB, accountID, reviewID snowflake.ID, sentiment reviewdomain.Sentiment) error {
	if !sentiment.Valid() {
		return reviewdomain.ErrInvalidSentiment
	}

	result := tx.WithContext(ctx).
		Model(&reviewdomain.Review{}).
		Where("id = ? AND account_id = ?", reviewID, accountID).
		Updates(map[string]any{
			"sentiment":  sentiment,
			"updated_at": s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return reviewdomain.ErrReviewNotFound
	}
	return nil
}

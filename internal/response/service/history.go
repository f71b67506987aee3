package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	responsedomain "github.com/smallbiznis/reviewdesk/internal/response/domain"
	"github.com/smallbiznis/reviewdesk/pkg/db/option"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManualEdit replaces the text with the caller's own. No provider call and
// no ledger entry; the history entry records zero cost.
func (s *Service) ManualEdit(ctx context.Context, req responsedomain.EditRequest) (*responsedomain.Response, error) {
	if err := validateIDs(req.AccountID, req.ReviewID); err != nil {
		return nil, err
	}
	text, err := normalizeText(req.Text)
	if err != nil {
		return nil, err
	}

	current, err := s.mustFindResponse(ctx, req.AccountID, req.ReviewID)
	if err != nil {
		return nil, err
	}
	if current.Text == text {
		return current, nil
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.overwrite(tx, current, now, 0, map[string]any{
			"text":      text,
			"edited":    true,
			"edited_at": now,
		})
	})
	if err != nil {
		return nil, asConflict(err)
	}

	s.log.Info("response edited",
		zap.String("account_id", req.AccountID.String()),
		zap.String("response_id", current.ID.String()),
	)
	return s.Get(ctx, req.AccountID, req.ReviewID)
}

// RestoreVersion makes an earlier text current again. It is recorded as an
// edit so the replaced text lands in history too.
func (s *Service) RestoreVersion(ctx context.Context, req responsedomain.RestoreRequest) (*responsedomain.Response, error) {
	if err := validateIDs(req.AccountID, req.ReviewID); err != nil {
		return nil, err
	}
	if req.VersionID == 0 {
		return nil, responsedomain.ErrVersionNotFound
	}

	current, err := s.mustFindResponse(ctx, req.AccountID, req.ReviewID)
	if err != nil {
		return nil, err
	}
	version, err := s.versionrepo.FindOne(ctx, &responsedomain.Version{ID: req.VersionID, ResponseID: current.ID})
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, responsedomain.ErrVersionNotFound
	}
	if version.Text == current.Text && version.Tone == current.Tone {
		return current, nil
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.overwrite(tx, current, now, 0, map[string]any{
			"text":      version.Text,
			"tone":      version.Tone,
			"edited":    true,
			"edited_at": now,
		})
	})
	if err != nil {
		return nil, asConflict(err)
	}

	s.log.Info("response version restored",
		zap.String("response_id", current.ID.String()),
		zap.String("version_id", version.ID.String()),
	)
	return s.Get(ctx, req.AccountID, req.ReviewID)
}

func (s *Service) Approve(ctx context.Context, accountID, reviewID snowflake.ID) (*responsedomain.Response, error) {
	if err := validateIDs(accountID, reviewID); err != nil {
		return nil, err
	}

	current, err := s.mustFindResponse(ctx, accountID, reviewID)
	if err != nil {
		return nil, err
	}
	if current.Approved {
		return current, nil
	}

	now := s.clock.Now()
	if _, err := s.responserepo.Update(ctx, current.ID, map[string]any{
		"approved":    true,
		"approved_at": now,
		"updated_at":  now,
	}); err != nil {
		return nil, err
	}
	return s.Get(ctx, accountID, reviewID)
}

// Delete removes the response and its history. Usage records stay.
func (s *Service) Delete(ctx context.Context, accountID, reviewID snowflake.ID) error {
	if err := validateIDs(accountID, reviewID); err != nil {
		return err
	}

	current, err := s.mustFindResponse(ctx, accountID, reviewID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("response_id = ?", current.ID).Delete(&responsedomain.Version{}).Error; err != nil {
			return err
		}
		return s.responserepo.WithTrx(tx).Delete(ctx, current.ID)
	})
	if err != nil {
		return err
	}

	s.log.Info("response deleted",
		zap.String("account_id", accountID.String()),
		zap.String("response_id", current.ID.String()),
	)
	return nil
}

func (s *Service) Get(ctx context.Context, accountID, reviewID snowflake.ID) (*responsedomain.Response, error) {
	if err := validateIDs(accountID, reviewID); err != nil {
		return nil, err
	}
	return s.mustFindResponse(ctx, accountID, reviewID)
}

func (s *Service) ListVersions(ctx context.Context, accountID, reviewID snowflake.ID) ([]responsedomain.Version, error) {
	if err := validateIDs(accountID, reviewID); err != nil {
		return nil, err
	}

	current, err := s.mustFindResponse(ctx, accountID, reviewID)
	if err != nil {
		return nil, err
	}

	rows, err := s.versionrepo.Find(ctx, &responsedomain.Version{ResponseID: current.ID},
		option.WithSortBy(
			option.QuerySortBy{Field: "created_at"},
			option.QuerySortBy{Field: "id"},
		),
	)
	if err != nil {
		return nil, err
	}

	versions := make([]responsedomain.Version, 0, len(rows))
	for _, v := range rows {
		versions = append(versions, *v)
	}
	return versions, nil
}

func (s *Service) mustFindResponse(ctx context.Context, accountID, reviewID snowflake.ID) (*responsedomain.Response, error) {
	response, err := s.findResponse(ctx, accountID, reviewID)
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, responsedomain.ErrResponseNotFound
	}
	return response, nil
}

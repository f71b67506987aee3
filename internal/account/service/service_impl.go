package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/reviewdesk/internal/account/domain"
	"github.com/smallbiznis/reviewdesk/internal/billingcycle"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Credits *config.CreditsConfigHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	credits *config.CreditsConfigHolder
}

func NewService(p ServiceParam) accountdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("account.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		credits: p.Credits,
	}
}

func (s *Service) Provision(ctx context.Context, req accountdomain.ProvisionRequest) (*accountdomain.Account, error) {
	cfg := s.credits.Get()

	tier := strings.ToLower(strings.TrimSpace(req.Tier))
	if tier == "" {
		tier = cfg.DefaultTier
	}
	allowance, ok := cfg.Tier(tier)
	if !ok {
		return nil, accountdomain.ErrInvalidTier
	}

	now := s.clock.Now()
	anchor := billingcycle.Midnight(now)
	account := &accountdomain.Account{
		ID:                      s.genID.Generate(),
		Tier:                    tier,
		CreditsRemaining:        allowance.Credits,
		CreditsCycleAnchor:      anchor,
		SentimentQuotaRemaining: allowance.SentimentQuota,
		SentimentCycleAnchor:    anchor,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return nil, err
	}

	s.log.Info("account provisioned",
		zap.String("account_id", account.ID.String()),
		zap.String("tier", tier),
		zap.Float64("credits", allowance.Credits),
	)
	return account, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*accountdomain.Account, error) {
	if id == 0 {
		return nil, accountdomain.ErrInvalidAccount
	}

	var account accountdomain.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountdomain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) Summary(ctx context.Context, id snowflake.ID) (accountdomain.Summary, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return accountdomain.Summary{}, err
	}

	cfg := s.credits.Get()
	// A tier removed from config keeps its balances; allowances read as zero.
	allowance, _ := cfg.Tier(account.Tier)
	now := s.clock.Now()

	return accountdomain.Summary{
		AccountID:          account.ID.String(),
		Tier:               account.Tier,
		CreditsRemaining:   account.CreditsRemaining,
		CreditsAllowance:   allowance.Credits,
		CreditsResetsAt:    billingcycle.NextReset(account.CreditsCycleAnchor, cfg.CycleLengthDays, now),
		SentimentRemaining: account.SentimentQuotaRemaining,
		SentimentAllowance: allowance.SentimentQuota,
		SentimentResetsAt:  billingcycle.NextReset(account.SentimentCycleAnchor, cfg.CycleLengthDays, now),
	}, nil
}

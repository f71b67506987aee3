package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
	brandvoicedomain "github.com/smallbiznis/reviewdesk/internal/brandvoice/domain"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxToneLength    = 200
	maxKeyPhrases    = 10
	maxSampleReplies = 10
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	voicerepo repository.Repository[brandvoicedomain.BrandVoice]
}

func NewService(p ServiceParam) brandvoicedomain.Service {
	return &Service{
		log:   p.Log.Named("brandvoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		voicerepo: repository.ProvideStore[brandvoicedomain.BrandVoice](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, accountID snowflake.ID) (*brandvoicedomain.BrandVoice, error) {
	if accountID == 0 {
		return nil, brandvoicedomain.ErrInvalidAccount
	}
	voice, err := s.voicerepo.FindOne(ctx, &brandvoicedomain.BrandVoice{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if voice == nil {
		return nil, brandvoicedomain.ErrBrandVoiceMissing
	}
	return voice, nil
}

func (s *Service) Upsert(ctx context.Context, req brandvoicedomain.UpsertRequest) (*brandvoicedomain.BrandVoice, error) {
	if req.AccountID == 0 {
		return nil, brandvoicedomain.ErrInvalidAccount
	}
	tone := strings.TrimSpace(req.Tone)
	if tone == "" || utf8.RuneCountInString(tone) > maxToneLength {
		return nil, brandvoicedomain.ErrInvalidTone
	}
	formality := req.Formality
	if formality == 0 {
		formality = 3
	}
	if formality < 1 || formality > 5 {
		return nil, brandvoicedomain.ErrInvalidFormality
	}
	phrases := trimAll(req.KeyPhrases)
	if len(phrases) > maxKeyPhrases {
		return nil, brandvoicedomain.ErrTooManyPhrases
	}
	samples := trimAll(req.SampleResponses)
	if len(samples) > maxSampleReplies {
		return nil, brandvoicedomain.ErrTooManySamples
	}
	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = "en"
	}

	existing, err := s.voicerepo.FindOne(ctx, &brandvoicedomain.BrandVoice{AccountID: req.AccountID})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if existing == nil {
		voice := &brandvoicedomain.BrandVoice{
			ID:              s.genID.Generate(),
			AccountID:       req.AccountID,
			Tone:            tone,
			Formality:       formality,
			KeyPhrases:      datatypes.NewJSONSlice(phrases),
			StyleNotes:      strings.TrimSpace(req.StyleNotes),
			SampleResponses: datatypes.NewJSONSlice(samples),
			Language:        language,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.voicerepo.Create(ctx, voice); err != nil {
			return nil, err
		}
		return voice, nil
	}

	existing.Tone = tone
	existing.Formality = formality
	existing.KeyPhrases = datatypes.NewJSONSlice(phrases)
	existing.StyleNotes = strings.TrimSpace(req.StyleNotes)
	existing.SampleResponses = datatypes.NewJSONSlice(samples)
	existing.Language = language
	existing.UpdatedAt = now
	if _, err := s.voicerepo.Update(ctx, existing.ID, map[string]any{
		"tone":             existing.Tone,
		"formality":        existing.Formality,
		"key_phrases":      existing.KeyPhrases,
		"style_notes":      existing.StyleNotes,
		"sample_responses": existing.SampleResponses,
		"language":         existing.Language,
		"updated_at":       now,
	}); err != nil {
		return nil, err
	}

	s.log.Info("brand voice updated", zap.String("account_id", req.AccountID.String()))
	return existing, nil
}

func (s *Service) Resolve(ctx context.Context, accountID snowflake.ID) (aidomain.BrandVoice, error) {
	voice, err := s.voicerepo.FindOne(ctx, &brandvoicedomain.BrandVoice{AccountID: accountID})
	if err != nil {
		return aidomain.BrandVoice{}, err
	}
	if voice == nil {
		return aidomain.DefaultBrandVoice(), nil
	}
	return aidomain.BrandVoice{
		Tone:            voice.Tone,
		Formality:       voice.Formality,
		KeyPhrases:      []string(voice.KeyPhrases),
		StyleNotes:      voice.StyleNotes,
		SampleResponses: []string(voice.SampleResponses),
		Language:        voice.Language,
	}, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

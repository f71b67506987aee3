package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	accountdomain "github.com/smallbiznis/reviewdesk/internal/account/domain"
	accountservice "github.com/smallbiznis/reviewdesk/internal/account/service"
	"github.com/smallbiznis/reviewdesk/internal/aiprovider/backend/mock"
	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
	aiservice "github.com/smallbiznis/reviewdesk/internal/aiprovider/service"
	brandvoicedomain "github.com/smallbiznis/reviewdesk/internal/brandvoice/domain"
	brandvoiceservice "github.com/smallbiznis/reviewdesk/internal/brandvoice/service"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/reviewdesk/internal/ledger/service"
	"github.com/smallbiznis/reviewdesk/internal/observability"
	"github.com/smallbiznis/reviewdesk/internal/ratelimit"
	responsedomain "github.com/smallbiznis/reviewdesk/internal/response/domain"
	responseservice "github.com/smallbiznis/reviewdesk/internal/response/service"
	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
	reviewservice "github.com/smallbiznis/reviewdesk/internal/review/service"
	sentimentservice "github.com/smallbiznis/reviewdesk/internal/sentiment/service"
	"github.com/smallbiznis/reviewdesk/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	db     *gorm.DB
	engine *gin.Engine
}

func newTestServer(t *testing.T, backend aidomain.Backend, limiter *ratelimit.GenerationLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.New(t,
		&accountdomain.Account{},
		&ledgerdomain.UsageRecord{},
		&reviewdomain.Review{},
		&responsedomain.Response{},
		&responsedomain.Version{},
		&brandvoicedomain.BrandVoice{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, time.January, 20, 12, 0, 0, 0, time.UTC))
	credits := config.NewStaticCreditsConfigHolder(config.DefaultCreditsConfig())
	log := zap.NewNop()

	if backend == nil {
		backend = mock.New(mock.WithReply("Thank you for the kind words, we hope to see you again soon!"))
	}

	accounts := accountservice.NewService(accountservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Credits: credits,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Credits: credits,
	})
	reviews := reviewservice.NewService(reviewservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Credits: credits,
		Guard: reviewservice.NewDBGuard(db, clk),
	})
	voices := brandvoiceservice.NewService(brandvoiceservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
	})
	ai := aiservice.NewClient(aiservice.Params{
		Backends: aidomain.Backends{backend},
		Log:      log,
		Credits:  credits,
		Clock:    clk,
		Sleeper: aiservice.SleeperFunc(func(ctx context.Context, _ time.Duration) error {
			return ctx.Err()
		}),
	})
	responses := responseservice.NewService(responseservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Credits: credits,
		Ledger: ledger, Reviews: reviews, BrandVoice: voices, AI: ai,
	})
	sentiments := sentimentservice.NewService(sentimentservice.ServiceParam{
		DB: db, Log: log, Credits: credits, Ledger: ledger, Reviews: reviews, AI: ai,
	})

	engine := NewEngine(observability.Config{LogLevel: "info"}, nil)
	NewServer(ServerParams{
		Gin:               engine,
		Cfg:               config.Config{Environment: "test"},
		AccountSvc:        accounts,
		LedgerSvc:         ledger,
		BrandVoiceSvc:     voices,
		ReviewSvc:         reviews,
		ResponseSvc:       responses,
		SentimentSvc:      sentiments,
		GenerationLimiter: limiter,
	})
	return &testServer{db: db, engine: engine}
}

func (s *testServer) do(t *testing.T, method, path, accountID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if accountID != "" {
		req.Header.Set(HeaderAccount, accountID)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type idView struct {
	ID string `json:"id"`
}

func (s *testServer) createAccount(t *testing.T) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/accounts", "", map[string]string{"tier": "free"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[dataEnvelope[idView]](t, rec).Data.ID
}

func (s *testServer) createReview(t *testing.T, accountID, text string) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/reviews", accountID, map[string]any{
		"platform": "Google",
		"text":     text,
		"rating":   5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[dataEnvelope[idView]](t, rec).Data.ID
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountHeaderRequired(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodGet, "/api/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/account", "not-a-number", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/account", "12345", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountSummary(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	accountID := srv.createAccount(t)

	rec := srv.do(t, http.MethodGet, "/api/account", accountID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	summary := decode[dataEnvelope[accountdomain.Summary]](t, rec).Data
	assert.Equal(t, "free", summary.Tier)
	assert.Equal(t, 10.0, summary.CreditsRemaining)
	assert.Equal(t, int64(25), summary.SentimentRemaining)
}

func TestCreateAccountRejectsUnknownTier(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodPost, "/api/accounts", "", map[string]string{"tier": "enterprise"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[errorResponse](t, rec)
	require.Len(t, body.Error.Errors, 1)
	assert.Equal(t, "tier", body.Error.Errors[0].Field)
	assert.Equal(t, "invalid_tier", body.Error.Errors[0].Code)
}

func TestReviewValidationAndDuplicates(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	accountID := srv.createAccount(t)

	rec := srv.do(t, http.MethodPost, "/api/reviews", accountID, map[string]any{"text": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "text", decode[errorResponse](t, rec).Error.Errors[0].Field)

	srv.createReview(t, accountID, "Lovely coffee and friendly staff")
	rec = srv.do(t, http.MethodPost, "/api/reviews", accountID, map[string]any{"text": "Lovely coffee and friendly staff"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_review", decode[errorResponse](t, rec).Error.Code)
}

func TestReviewsAreScopedToAccount(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	owner := srv.createAccount(t)
	other := srv.createAccount(t)
	reviewID := srv.createReview(t, owner, "Great pastries")

	rec := srv.do(t, http.MethodGet, "/api/reviews/"+reviewID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/reviews/"+reviewID, owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/reviews/abc", owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateLifecycle(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	accountID := srv.createAccount(t)
	reviewID := srv.createReview(t, accountID, "Great pastries and quick service")
	base := "/api/reviews/" + reviewID + "/response"

	rec := srv.do(t, http.MethodPost, base, accountID, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, base, accountID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "response_exists", decode[errorResponse](t, rec).Error.Code)

	rec = srv.do(t, http.MethodPost, base+"/regenerate", accountID, map[string]string{"tone": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "tone_required", decode[errorResponse](t, rec).Error.Errors[0].Code)

	rec = srv.do(t, http.MethodPut, base, accountID, map[string]string{"text": "Thanks so much, see you soon!"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, base+"/versions", accountID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	versions := decode[dataEnvelope[[]responsedomain.Version]](t, rec).Data
	require.Len(t, versions, 2)

	rec = srv.do(t, http.MethodPost, base+"/approve", accountID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[dataEnvelope[responsedomain.Response]](t, rec).Data.Approved)

	rec = srv.do(t, http.MethodGet, "/api/account", accountID, nil)
	summary := decode[dataEnvelope[accountdomain.Summary]](t, rec).Data
	assert.Equal(t, 9.0, summary.CreditsRemaining)

	rec = srv.do(t, http.MethodGet, "/api/account/usage", accountID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decode[ledgerdomain.ListUsageResponse](t, rec)
	require.Len(t, usage.Records, 1)
	assert.Equal(t, ledgerdomain.ActionGenerate, usage.Records[0].Action)

	rec = srv.do(t, http.MethodDelete, base, accountID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = srv.do(t, http.MethodGet, base, accountID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateInsufficientFunds(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	accountID := srv.createAccount(t)
	reviewID := srv.createReview(t, accountID, "Decent but a little pricey")
	require.NoError(t, srv.db.Model(&accountdomain.Account{}).
		Where("id = ?", accountID).
		Update("credits_remaining", 0.5).Error)

	rec := srv.do(t, http.MethodPost, "/api/reviews/"+reviewID+"/response", accountID, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

	body := decode[errorResponse](t, rec)
	assert.Equal(t, "insufficient_funds", body.Error.Type)
	assert.Equal(t, "credits", body.Error.Details["pool"])
	assert.Equal(t, 0.5, body.Error.Details["remaining"])
	assert.Equal(t, "2024-02-19T00:00:00Z", body.Error.Details["resets_at"])
}

func TestGenerateProviderUnavailable(t *testing.T) {
	backend := mock.New(mock.WithError(&aidomain.StatusError{
		StatusCode: http.StatusServiceUnavailable,
		RetryAfter: 7 * time.Second,
		Err:        errors.New("overloaded"),
	}))
	srv := newTestServer(t, backend, nil)
	accountID := srv.createAccount(t)
	reviewID := srv.createReview(t, accountID, "Waited forever for a table")

	rec := srv.do(t, http.MethodPost, "/api/reviews/"+reviewID+"/response", accountID, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "provider_unavailable", decode[errorResponse](t, rec).Error.Type)

	rec = srv.do(t, http.MethodGet, "/api/account", accountID, nil)
	assert.Equal(t, 10.0, decode[dataEnvelope[accountdomain.Summary]](t, rec).Data.CreditsRemaining)
}

func TestGenerateProviderRejected(t *testing.T) {
	backend := mock.New(mock.WithError(&aidomain.StatusError{
		StatusCode: http.StatusBadRequest,
		Err:        errors.New("bad prompt"),
	}))
	srv := newTestServer(t, backend, nil)
	accountID := srv.createAccount(t)
	reviewID := srv.createReview(t, accountID, "Terrible parking")

	rec := srv.do(t, http.MethodPost, "/api/reviews/"+reviewID+"/response", accountID, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	assert.Equal(t, "provider_rejected", decode[errorResponse](t, rec).Error.Type)
}

func TestSentimentFallsBackToHeuristic(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	accountID := srv.createAccount(t)
	reviewID := srv.createReview(t, accountID, "Amazing food, wonderful staff")

	rec := srv.do(t, http.MethodPost, "/api/reviews/"+reviewID+"/sentiment", accountID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data struct {
			Sentiment     string `json:"sentiment"`
			Source        string `json:"source"`
			Authoritative bool   `json:"authoritative"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "positive", body.Data.Sentiment)
	assert.Equal(t, "heuristic", body.Data.Source)
	assert.False(t, body.Data.Authoritative)
}

func TestBrandVoiceRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	accountID := srv.createAccount(t)

	rec := srv.do(t, http.MethodGet, "/api/account/brand-voice", accountID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPut, "/api/account/brand-voice", accountID, map[string]any{
		"tone":        "professional",
		"formality":   4,
		"key_phrases": []string{"see you soon"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/api/account/brand-voice", accountID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	voice := decode[dataEnvelope[brandvoicedomain.BrandVoice]](t, rec).Data
	assert.Equal(t, "professional", voice.Tone)
	assert.Equal(t, 4, voice.Formality)
}

func TestGenerationRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewGenerationLimiter(ratelimit.GenerationLimiterParams{
		Config: config.Config{RateLimit: config.RateLimitConfig{Enabled: true, GenerationRate: 0.001, GenerationBurst: 1}},
		Client: client,
		Log:    zap.NewNop(),
	})
	require.NoError(t, err)

	srv := newTestServer(t, nil, limiter)
	accountID := srv.createAccount(t)
	first := srv.createReview(t, accountID, "Best brunch in town")
	second := srv.createReview(t, accountID, "Cozy place to work from")

	rec := srv.do(t, http.MethodPost, "/api/reviews/"+first+"/response", accountID, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/api/reviews/"+second+"/response", accountID, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = srv.do(t, http.MethodGet, "/api/account", accountID, nil)
	assert.Equal(t, 9.0, decode[dataEnvelope[accountdomain.Summary]](t, rec).Data.CreditsRemaining)
}

func TestMapErrorCoversDomainErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", reviewdomain.ErrInvalidRating, http.StatusBadRequest},
		{"joined not found", errors.Join(errors.New("list"), responsedomain.ErrVersionNotFound), http.StatusNotFound},
		{"conflict", responsedomain.ErrPersistenceConflict, http.StatusConflict},
		{"funds", &ledgerdomain.InsufficientFundsError{Pool: ledgerdomain.PoolSentiment}, http.StatusPaymentRequired},
		{"transient", &aidomain.TransientError{Provider: "mock", Err: errors.New("x")}, http.StatusServiceUnavailable},
		{"permanent", &aidomain.PermanentError{Provider: "mock", Err: errors.New("x")}, http.StatusBadGateway},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := mapError(tc.err)
			assert.Equal(t, tc.status, status)
		})
	}
}

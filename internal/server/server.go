package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/reviewdesk/internal/account"
	accountdomain "github.com/smallbiznis/reviewdesk/internal/account/domain"
	"github.com/smallbiznis/reviewdesk/internal/aiprovider"
	"github.com/smallbiznis/reviewdesk/internal/brandvoice"
	brandvoicedomain "github.com/smallbiznis/reviewdesk/internal/brandvoice/domain"
	"github.com/smallbiznis/reviewdesk/internal/config"
	"github.com/smallbiznis/reviewdesk/internal/ledger"
	ledgerdomain "github.com/smallbiznis/reviewdesk/internal/ledger/domain"
	"github.com/smallbiznis/reviewdesk/internal/observability"
	obsmiddleware "github.com/smallbiznis/reviewdesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/reviewdesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/reviewdesk/internal/observability/tracing"
	"github.com/smallbiznis/reviewdesk/internal/ratelimit"
	"github.com/smallbiznis/reviewdesk/internal/response"
	responsedomain "github.com/smallbiznis/reviewdesk/internal/response/domain"
	"github.com/smallbiznis/reviewdesk/internal/review"
	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
	"github.com/smallbiznis/reviewdesk/internal/sentiment"
	sentimentdomain "github.com/smallbiznis/reviewdesk/internal/sentiment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	account.Module,
	ledger.Module,
	brandvoice.Module,
	aiprovider.Module,
	review.Module,
	response.Module,
	sentiment.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine            *gin.Engine
	cfg               config.Config
	accountSvc        accountdomain.Service
	ledgerSvc         ledgerdomain.Service
	brandVoiceSvc     brandvoicedomain.Service
	reviewSvc         reviewdomain.Service
	responseSvc       responsedomain.Service
	sentimentSvc      sentimentdomain.Service
	generationLimiter *ratelimit.GenerationLimiter
	obsMetrics        *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	AccountSvc        accountdomain.Service
	LedgerSvc         ledgerdomain.Service
	BrandVoiceSvc     brandvoicedomain.Service
	ReviewSvc         reviewdomain.Service
	ResponseSvc       responsedomain.Service
	SentimentSvc      sentimentdomain.Service
	GenerationLimiter *ratelimit.GenerationLimiter `optional:"true"`
	ObsMetrics        *obsmetrics.Metrics          `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		accountSvc:        p.AccountSvc,
		ledgerSvc:         p.LedgerSvc,
		brandVoiceSvc:     p.BrandVoiceSvc,
		reviewSvc:         p.ReviewSvc,
		responseSvc:       p.ResponseSvc,
		sentimentSvc:      p.SentimentSvc,
		generationLimiter: p.GenerationLimiter,
		obsMetrics:        p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Accounts --------
	api.POST("/accounts", s.CreateAccount)

	authed := api.Group("", s.AccountRequired())

	authed.GET("/account", s.GetAccount)
	authed.GET("/account/usage", s.ListUsage)
	authed.GET("/account/brand-voice", s.GetBrandVoice)
	authed.PUT("/account/brand-voice", s.UpsertBrandVoice)

	// -------- Reviews --------
	authed.POST("/reviews", s.CreateReview)
	authed.GET("/reviews", s.ListReviews)
	authed.GET("/reviews/:id", s.GetReview)
	authed.DELETE("/reviews/:id", s.DeleteReview)
	authed.POST("/reviews/:id/sentiment", s.AnalyzeSentiment)

	// -------- Responses --------
	authed.GET("/reviews/:id/response", s.GetResponse)
	authed.POST("/reviews/:id/response", s.GenerationRateLimit(), s.GenerateResponse)
	authed.POST("/reviews/:id/response/regenerate", s.GenerationRateLimit(), s.RegenerateResponse)
	authed.PUT("/reviews/:id/response", s.EditResponse)
	authed.POST("/reviews/:id/response/approve", s.ApproveResponse)
	authed.DELETE("/reviews/:id/response", s.DeleteResponse)
	authed.GET("/reviews/:id/response/versions", s.ListResponseVersions)
	authed.POST("/reviews/:id/response/versions/:version_id/restore", s.RestoreResponseVersion)
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/pledgeline/pledgeline/internal/campaign"
	campaigndomain "github.com/pledgeline/pledgeline/internal/campaign/domain"
	"github.com/pledgeline/pledgeline/internal/config"
	"github.com/pledgeline/pledgeline/internal/contributor"
	contributordomain "github.com/pledgeline/pledgeline/internal/contributor/domain"
	"github.com/pledgeline/pledgeline/internal/observability"
	obsmiddleware "github.com/pledgeline/pledgeline/internal/observability/logger"
	"github.com/pledgeline/pledgeline/internal/payment"
	paymentdomain "github.com/pledgeline/pledgeline/internal/payment/domain"
	"github.com/pledgeline/pledgeline/internal/performance"
	"github.com/pledgeline/pledgeline/internal/pledge"
	pledgedomain "github.com/pledgeline/pledgeline/internal/pledge/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	performance.Module,
	campaign.Module,
	pledge.Module,
	contributor.Module,
	payment.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	campaignSvc    campaigndomain.Service
	pledgeSvc      pledgedomain.Service
	contributorSvc contributordomain.Service
	webhookSvc     paymentdomain.WebhookService
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	CampaignSvc    campaigndomain.Service
	PledgeSvc      pledgedomain.Service
	ContributorSvc contributordomain.Service
	WebhookSvc     paymentdomain.WebhookService
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("server"),
		genID:          p.GenID,
		campaignSvc:    p.CampaignSvc,
		pledgeSvc:      p.PledgeSvc,
		contributorSvc: p.ContributorSvc,
		webhookSvc:     p.WebhookSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/campaigns", s.CreateCampaign)
	v1.GET("/campaigns", s.ListCampaigns)
	v1.GET("/campaigns/:id", s.GetCampaign)
	v1.GET("/campaigns/:id/summary", s.GetCampaignSummary)
	v1.POST("/campaigns/:id/publish", s.PublishCampaign)

	v1.POST("/campaigns/:id/pledges", s.CreatePledge)
	v1.GET("/campaigns/:id/pledges", s.ListCampaignPledges)
	v1.DELETE("/campaigns/:id/pledges/:pledger_id", s.CancelPledge)

	v1.POST("/contributors", s.RegisterContributor)
	v1.GET("/contributors/:id", s.GetContributor)
	v1.GET("/contributors/:id/pledges", s.ListContributorPledges)

	v1.POST("/webhooks/payment", s.HandlePaymentWebhook)
}

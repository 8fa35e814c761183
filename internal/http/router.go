// Package http exposes the read-only status API and the Mini App proof endpoints.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/open-builders/draw-airdrop-bot/docs"
	mw "github.com/open-builders/draw-airdrop-bot/internal/http/middleware"
	"github.com/open-builders/draw-airdrop-bot/internal/metrics"
)

// RouterConfig carries everything the router wires.
type RouterConfig struct {
	Debug          bool
	AllowedOrigins []string
	BotToken       string
	InitDataTTL    time.Duration

	Status StatusReader
	Prover OwnershipProver
	Domain string
	Checks map[string]Check
	// Cache, when set, caches the public status responses.
	Cache *mw.ResponseCache

	Log zerolog.Logger
}

// NewRouter builds the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.RequestID(), mw.Logger(cfg.Log), mw.Recovery(cfg.Log))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Accept", mw.InitDataHeader, mw.RequestIDHeader}
	r.Use(cors.New(corsConfig))

	health := NewHealthHandlers(cfg.Checks)
	r.GET("/health", health.health)
	r.GET("/ready", health.ready)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	docs.SwaggerInfo.BasePath = "/api/v1"
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	st := NewStatusHandlers(cfg.Status, cfg.Log)
	public := v1.Group("")
	if cfg.Cache != nil {
		public.Use(cfg.Cache.Handler())
	}
	public.GET("/status", st.getStatus)
	public.GET("/draws", st.listDraws)
	public.GET("/draws/:id", st.getDraw)

	auth := v1.Group("", mw.InitData(cfg.BotToken, cfg.InitDataTTL, cfg.Log))
	auth.GET("/me", st.getMe)
	if cfg.Prover != nil {
		proof := NewProofHandlers(cfg.Prover, cfg.Domain, cfg.Log)
		auth.POST("/proof/payload", proof.payload)
		auth.POST("/proof/verify", proof.verify)
	}
	return r
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *nethttp.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("HTTP server stopped")
	return nil
}

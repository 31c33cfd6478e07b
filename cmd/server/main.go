package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caremesh/telecare/internal/config"
	"github.com/caremesh/telecare/internal/handlers"
	"github.com/caremesh/telecare/internal/media"
	"github.com/caremesh/telecare/internal/quality"
	"github.com/caremesh/telecare/internal/registry"
	"github.com/caremesh/telecare/internal/repositories"
	"github.com/caremesh/telecare/internal/routes"
	"github.com/caremesh/telecare/internal/services"
	"github.com/caremesh/telecare/internal/token"
	ws "github.com/caremesh/telecare/internal/websocket"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	logger := log.Logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	var persistence services.PersistenceGateway
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open database")
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("failed to reach database")
		}
		cancel()

		persistence = repositories.NewSessionRepository(db)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, session archival disabled")
		persistence = services.NopPersistence{}
	}

	httpClient := &http.Client{Timeout: cfg.Media.RequestTimeout}
	provider := media.NewHTTPProvider(cfg.Media.ProviderURL, cfg.Media.ProviderAPIKey, httpClient, logger)
	verifier := media.NewHTTPVerifier(cfg.Media.VerifierURL, cfg.Media.ProviderAPIKey, httpClient, logger)

	reg := registry.New()
	hub := ws.NewHub(logger)
	tokens := token.NewManager(cfg.Auth.JWTSecret, "telecare", cfg.Auth.TokenTTL)

	evaluator := quality.NewEvaluator(quality.DefaultWeights(), quality.DefaultStabilityAlpha)
	coordinator := services.NewAlertCoordinator(
		services.AlertThresholds{
			MaxPacketLossPct: cfg.Session.MaxPacketLossPct,
			MinBitrateKbps:   cfg.Session.MinBitrateKbps,
			EscalateAfter:    cfg.Session.EscalateAfterCount,
		},
		provider,
		reg,
		persistence,
		hub,
		logger,
	)
	monitor := services.NewQualityMonitor(
		services.MonitorConfig{
			Interval:               cfg.Session.MonitorInterval,
			CollectionTimeout:      cfg.Session.CollectionTimeout,
			WindowSize:             cfg.Session.MaxWindowSamples,
			MaxConsecutiveFailures: cfg.Session.MaxConsecutiveFailures,
		},
		reg,
		provider,
		evaluator,
		coordinator,
		hub,
		logger,
	)

	lifecycleCfg := services.DefaultLifecycleConfig()
	lifecycleCfg.MaxParticipants = cfg.Session.MaxParticipants
	lifecycleCfg.ProviderTimeout = cfg.Media.RequestTimeout
	lifecycleCfg.CreateRetries = cfg.Session.RoomCreateRetries
	lifecycleCfg.RetryBackoffBase = cfg.Session.RoomCreateBackoff

	lifecycle := services.NewLifecycleService(
		lifecycleCfg,
		reg,
		provider,
		verifier,
		monitor,
		persistence,
		hub,
		tokens,
		logger,
	)

	sessionHandler := handlers.NewSessionHandler(lifecycle, int(cfg.Auth.TokenTTL.Seconds()), logger)
	webSocketHandler := handlers.NewWebSocketHandler(hub, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterEndpoints(router, sessionHandler, webSocketHandler, tokens)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	monitor.StopAll()

	logger.Info().Msg("stopped")
}

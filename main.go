package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tinyhome/api/config"
	"tinyhome/api/database"
	"tinyhome/api/events"
	"tinyhome/api/funnel"
	"tinyhome/api/handlers"
	"tinyhome/api/logger"
	"tinyhome/api/middleware"
	"tinyhome/api/store"
	"tinyhome/api/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	if err := run(cfg, zl); err != nil {
		zl.Fatal("Server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- PostgreSQL (dashboard users) ---
	dbClient, err := database.NewPostgresDB(cfg.DatabaseURL, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL database: %w", err)
	}
	defer dbClient.Close()

	// --- Event store ---
	var eventStore funnel.EventStore
	switch cfg.EventStore {
	case config.EventStoreMemory:
		zl.Warn("Using in-memory event store; events are lost on restart")
		eventStore = store.NewMemoryEventStore()
	default:
		chClient, err := database.NewClickHouseDB(cfg.ClickHouse, zl)
		if err != nil {
			return fmt.Errorf("failed to initialize ClickHouse database: %w", err)
		}
		defer chClient.Close()

		chStore := store.NewClickHouseEventStore(chClient, zl)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = chStore.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return err
		}
		eventStore = chStore
	}

	// --- Report cache (optional) ---
	var reportCache *store.ReportCache
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(cfg.RedisURL, zl)
		if err != nil {
			zl.Warn("Report cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			reportCache = store.NewReportCache(redisClient, cfg.ReportCacheTTL, zl)
		}
	}

	publisher := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, zl)
	defer publisher.Close()

	engine := funnel.NewEngine(
		funnel.DefaultRegistry(),
		eventStore,
		funnel.WithLogger(zl.Named("funnel")),
		funnel.WithPublisher(publisher),
	)

	tokens := utils.NewTokenManager(cfg.JWTSecret)
	userStore := store.NewUserStore(dbClient.DB)

	authHandlers := handlers.NewAuthHandlers(userStore, tokens, zl)
	funnelHandlers := handlers.NewFunnelHandlers(engine, reportCache, cfg.AnalysisTimeout, zl)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestLogger(zl))
	r.Use(middleware.CORSMiddleware(cfg.FrontendOrigin))

	registerRoutes(r, authHandlers, funnelHandlers, middleware.AuthRequired(tokens, cfg.AuthDefault, zl))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("API server starting", zap.String("addr", srv.Addr), zap.String("event_store", cfg.EventStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("API server failed to start: %w", err)
	case <-quit:
	}
	zl.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	zl.Info("Server exiting")
	return nil
}

func registerRoutes(r *gin.Engine, auth *handlers.AuthHandlers, fh *handlers.FunnelHandlers, authRequired gin.HandlerFunc) {
	api := r.Group("/api")
	{
		api.POST("/signup", auth.Signup)
		api.POST("/login", auth.Login)
		api.POST("/logout", auth.Logout)

		// Site instrumentation posts steps without a dashboard session.
		api.POST("/funnel/track", fh.TrackStep)

		protected := api.Group("/funnel")
		protected.Use(authRequired)
		{
			protected.GET("/steps", fh.ListSteps)
			protected.GET("/analyze", fh.AnalyzeFunnel)
			protected.GET("/journeys/:userId", fh.MapUserJourney)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

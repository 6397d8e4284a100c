package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/api/handlers"
	"github.com/vettan-ai/backend/internal/cache/redis"
	"github.com/vettan-ai/backend/internal/llm"
	"github.com/vettan-ai/backend/internal/metrics"
	"github.com/vettan-ai/backend/internal/middleware/ratelimit"
	"github.com/vettan-ai/backend/internal/middleware/security"
	"github.com/vettan-ai/backend/internal/middleware/validation"
	"github.com/vettan-ai/backend/internal/query"
	"github.com/vettan-ai/backend/internal/research"
	"github.com/vettan-ai/backend/internal/search/web"
	"github.com/vettan-ai/backend/internal/storage"
	"github.com/vettan-ai/backend/internal/storage/sqlite"
	"github.com/vettan-ai/backend/pkg/config"
	appLogger "github.com/vettan-ai/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Vettan API Server")

	metrics.Init()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second,
	)

	searchClient, err := web.NewClient(web.Config{
		Provider:       cfg.Search.Provider,
		TavilyAPIKey:   cfg.Search.TavilyAPIKey,
		SerpAPIKey:     cfg.Search.SerpAPIKey,
		Timeout:        time.Duration(cfg.Search.TimeoutSec) * time.Second,
		ScrapeMaxWords: cfg.Search.ScrapeMaxWords,
	})
	if err != nil {
		appLogger.Fatal("Failed to create search client", zap.Error(err))
	}

	researcher := research.NewResearcher(llmClient, searchClient, research.Options{
		Model:              llmClient.Model(),
		MaxSubQueries:      cfg.Research.MaxSubQueries,
		MaxSources:         cfg.Research.MaxSources,
		MaxResultsPerQuery: cfg.Search.MaxResults,
		FanoutTimeout:      cfg.Research.FanoutTimeout(),
		SourceWordLimit:    cfg.Research.SourceWordLimit,
	})
	followup := research.NewFollowupHandler(
		llmClient,
		llmClient.Model(),
		cfg.Research.HistoryWindow,
		cfg.Research.HistoryCharLimit,
	)

	store, closeStore := openStore(cfg)
	defer closeStore()

	queryEngine := query.NewEngine(researcher, followup, store, cfg.Cache.Enabled)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	researchHandler := handlers.NewResearchHandler(queryEngine)
	historyHandler := handlers.NewHistoryHandler(queryEngine)
	wsHandler := handlers.NewWebSocketHandler(
		queryEngine,
		cfg.Server.MaxQueryLength,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
	)

	app.Get("/health", historyHandler.Health)
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api", limiter.Middleware())

	api.Post("/research", validation.ResearchBody(validation.Config{
		MaxQueryLength: cfg.Server.MaxQueryLength,
		Logger:         appLogger.GetLogger(),
	}), researchHandler.HandleResearch)

	api.Get("/history", historyHandler.ListSessions)
	api.Get("/history/:id", historyHandler.GetSession)
	api.Get("/history/:id/messages", historyHandler.GetMessages)
	api.Patch("/history/:id", historyHandler.UpdateSession)
	api.Put("/history/:id", historyHandler.UpdateSession)
	api.Delete("/history/:id", historyHandler.DeleteSession)

	app.Get("/ws/research", limiter.Middleware(), handlers.RequireUpgrade, websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// openStore returns a nil store when SQLite cannot be opened; the engine then
// serves fresh research without caching or history.
func openStore(cfg *config.Config) (storage.Store, func()) {
	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Error("Failed to open SQLite, running without session store", zap.Error(err))
		return nil, func() {}
	}

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Error("Failed to initialize schema, running without session store", zap.Error(err))
		sqliteClient.Close()
		return nil, func() {}
	}

	if !cfg.Redis.Enabled {
		return sqliteClient, func() { sqliteClient.Close() }
	}

	redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, serving cache lookups from SQLite only", zap.Error(err))
		return sqliteClient, func() { sqliteClient.Close() }
	}

	return redis.NewSessionCache(sqliteClient, redisClient, cfg.Redis.TTL()), func() {
		redisClient.Close()
		sqliteClient.Close()
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/agent"
	"github.com/oakline/advisory/internal/api"
	"github.com/oakline/advisory/internal/config"
	"github.com/oakline/advisory/internal/embedding"
	"github.com/oakline/advisory/internal/enrich"
	"github.com/oakline/advisory/internal/llm"
	"github.com/oakline/advisory/internal/memory"
	"github.com/oakline/advisory/internal/orchestrator"
	"github.com/oakline/advisory/internal/provider"
	"github.com/oakline/advisory/internal/store"
	"github.com/oakline/advisory/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting advisory service...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/advisory.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Provider router for the reasoning models.
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "gemini":
			router.Register(provider.NewGeminiProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	policy := llm.DefaultRetryPolicy()
	if cfg.LLM.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.LLM.MaxAttempts
	}
	if cfg.LLM.InitialBackoffMS > 0 {
		policy.InitialBackoff = time.Duration(cfg.LLM.InitialBackoffMS) * time.Millisecond
	}
	if cfg.LLM.BackoffMultiplier > 0 {
		policy.Multiplier = cfg.LLM.BackoffMultiplier
	}
	breaker := llm.BreakerConfig{
		MaxFailures: cfg.LLM.BreakerFailures,
		Timeout:     time.Duration(cfg.LLM.BreakerTimeoutSec) * time.Second,
	}
	reasoner := llm.NewClient(router, cfg.LLM.Model, policy, breaker, logger)

	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		logger.Fatal("failed to build embedding provider", zap.Error(err))
	}

	ctx := context.Background()

	// Embedding cache is best-effort; the service runs without redis.
	var cache *enrich.Cache
	if cfg.Database.Redis.URL != "" {
		c, cacheErr := enrich.NewCache(ctx, cfg.Database.Redis.URL, 24*time.Hour, logger)
		if cacheErr != nil {
			logger.Warn("Redis unavailable, embedding cache disabled", zap.Error(cacheErr))
		} else {
			cache = c
			logger.Info("Embedding cache connected")
		}
	}
	enricher := enrich.New(reasoner, embedder, cache, logger)

	// Memory stores are load-bearing: refuse to start without them.
	pgStore, err := store.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	if err := pgStore.Migrate(ctx, "migrations"); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	qdrant, err := vectorstore.NewClient(vectorstore.QdrantConfig{
		Host: cfg.Database.Qdrant.Host,
		Port: cfg.Database.Qdrant.Port,
	})
	if err != nil {
		logger.Fatal("Qdrant unavailable", zap.Error(err))
	}
	if err := qdrant.Ping(ctx); err != nil {
		logger.Fatal("Qdrant unreachable", zap.Error(err))
	}
	dim := uint64(embedder.Dimension())
	for _, collection := range []string{
		vectorstore.EpisodicCollection,
		vectorstore.SemanticCollection,
		vectorstore.ProceduralCollection,
	} {
		if err := qdrant.EnsureCollection(ctx, collection, dim); err != nil {
			logger.Fatal("failed to ensure collection",
				zap.String("collection", collection), zap.Error(err))
		}
	}

	decay := memory.DefaultDecayConfig()
	if cfg.Memory.DecayTauDays > 0 {
		decay.TauDays = cfg.Memory.DecayTauDays
	}
	if cfg.Memory.CandidateMultiplier > 0 {
		decay.CandidateMultiplier = cfg.Memory.CandidateMultiplier
	}

	episodic := memory.NewEpisodicStore(pgStore.Events(), qdrant, enricher, decay, logger)
	semantic := memory.NewSemanticStore(pgStore.Semantics(), qdrant, enricher, reasoner, logger)
	procedural := memory.NewProceduralStore(pgStore.Procedures(), pgStore.Events(), qdrant, enricher, reasoner, logger)
	hub := memory.NewHub(episodic, semantic, procedural, logger)

	orch := orchestrator.New(orchestrator.Agents{
		MarketResearcher: agent.NewMarketResearch(reasoner),
		RiskAssessor:     agent.NewRiskAssessment(reasoner),
		PortfolioManager: agent.NewPortfolioManager(reasoner),
		FinancialPlanner: agent.NewFinancialPlanner(reasoner),
		TaxOptimizer:     agent.NewTaxOptimizer(reasoner),
		Compliance:       agent.NewCompliance(reasoner),
	}, episodic, logger)
	logger.Info("Advisory system initialized", zap.Int("agents", 6))

	handler := api.NewHandler(hub, orch, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Advisory service listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down advisory service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if cache != nil {
		cache.Close()
	}
	qdrant.Close()
	pgStore.Close()
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/filing-insight/internal/auth"
	"github.com/DeafMist/filing-insight/internal/config"
	"github.com/DeafMist/filing-insight/internal/elasticsearch"
	"github.com/DeafMist/filing-insight/internal/enrichment"
	"github.com/DeafMist/filing-insight/internal/events"
	"github.com/DeafMist/filing-insight/internal/extraction"
	"github.com/DeafMist/filing-insight/internal/history"
	"github.com/DeafMist/filing-insight/internal/llm"
	"github.com/DeafMist/filing-insight/internal/logger"
	"github.com/DeafMist/filing-insight/internal/pipeline"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := esClient.WaitReady(ctx, cfg.ESStartupAttempts, cfg.ESStartupDelay); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to prepare elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	gen, closeGen, err := llm.New(ctx, llm.Config{
		Provider:      cfg.Provider,
		Model:         cfg.Model,
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		VertexProject: cfg.VertexProject,
		VertexRegion:  cfg.VertexRegion,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		RPM:           cfg.RPM,
		Burst:         cfg.Burst,
	})
	if err != nil {
		log.Error("init llm", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := closeGen(); err != nil {
			log.Error("close llm", slog.Any("err", err))
		}
	}()

	extractor := extraction.New(cfg.ExtractionURL, cfg.ExtractionTimeout, cfg.ExtractionMaxAttempts, cfg.ExtractionBackoff,
		log.With(slog.String("component", "extraction")))
	enricher := enrichment.NewOrchestrator(log.With(slog.String("component", "enrichment")),
		enrichment.NewRiskComparer(gen, cfg.PromptMaxChars),
		enrichment.NewSummarizer(gen, cfg.PromptMaxChars),
		enrichment.NewBenchmarker(gen),
		cfg.EnrichmentTimeout,
	)
	store := history.NewStore(esClient, nil, log.With(slog.String("component", "history")), cfg.HistoryLimit)

	var pending pipeline.PendingQueue
	if cfg.PendingQueue {
		publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.PendingTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error("close publisher", slog.Any("err", err))
			}
		}()
		pending = publisher
	}

	srv := &server{
		log:            log,
		maxUploadBytes: cfg.MaxUploadBytes,
		explainTimeout: cfg.ExplainTimeout,
		analyzer:       pipeline.NewAnalyzer(log.With(slog.String("component", "pipeline")), extractor, enricher, store, pending, cfg.PersistTimeout),
		history:        store,
		explainer:      enrichment.NewExplainer(gen),
		es:             esClient,
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(verifier.Middleware),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.WriteTimeout,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

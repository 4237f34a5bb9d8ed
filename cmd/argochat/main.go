package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"argochat/internal/agent"
	"argochat/internal/config"
	"argochat/internal/db"
	"argochat/internal/geo"
	"argochat/internal/history"
	"argochat/internal/llm"
	"argochat/internal/logger"
	"argochat/internal/retention"
	"argochat/internal/safety"
	"argochat/internal/server"
	"argochat/internal/synth"
	"argochat/pkg/geocode"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.L.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	var sessionStore history.Store
	sessionStore, err = history.OpenSQLite(cfg.Database.SessionsPath)
	if err != nil {
		logger.L.Warn("session store unavailable, conversations will not survive restarts",
			"path", cfg.Database.SessionsPath, "error", err)
		sessionStore = history.NewMemoryStore()
	}
	defer sessionStore.Close()

	hist := history.NewManager(sessionStore, history.Budgets{
		MaxSessionTokens: cfg.Context.MaxSessionTokens,
		MaxMessageTokens: cfg.Context.MaxMessageTokens,
		MaxTurns:         cfg.Context.MaxTurns,
	}, nil)

	argoStore, err := db.Open(cfg.Database.ArgoPath, time.Duration(cfg.Database.TimeoutSeconds)*time.Second)
	if err != nil {
		logger.L.Error("failed to open measurement database", "path", cfg.Database.ArgoPath, "error", err)
		os.Exit(1)
	}
	defer argoStore.Close()

	geoTimeout := time.Duration(cfg.Geo.TimeoutSeconds) * time.Second
	geocoder := geocode.NewClient(cfg.Geo.GeocodeURL, geoTimeout)
	resolver := geo.NewResolver(geocoder, cfg.Geo.RadiusKm, cfg.Geo.MinConfidence, geoTimeout)

	policy := safety.DefaultPolicy(cfg.Safety.MaxRows)
	oracle := llm.NewClient(cfg.LLM)
	synthesizer := synth.New(oracle, policy, cfg.LLM)

	pipeline := agent.New(hist, resolver, synthesizer, policy, argoStore, *cfg)
	api := server.New(pipeline, hist, policy, argoStore)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Retention.Schedule != "" {
		maxIdle := time.Duration(cfg.Retention.MaxIdleDays) * 24 * time.Hour
		sweeper, err := retention.NewSweeper(hist, cfg.Retention.Schedule, maxIdle)
		if err != nil {
			logger.L.Warn("retention disabled", "error", err)
		} else {
			sweeper.Start(ctx)
			defer sweeper.Stop()
		}
	}

	srv := &http.Server{
		Addr:        cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:     api.Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.L.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	logger.L.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("forced shutdown", "error", err)
	}
}

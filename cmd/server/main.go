package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cheonkimoon/internal/api"
	"cheonkimoon/internal/config"
	"cheonkimoon/internal/db"
	"cheonkimoon/internal/freesaju"
	"cheonkimoon/internal/logging"
	"cheonkimoon/internal/manseryuk"
	"cheonkimoon/internal/metrics"
	"cheonkimoon/internal/prompt"
	"cheonkimoon/internal/reading"
	"cheonkimoon/internal/session"
	"cheonkimoon/internal/stats"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, gdb, logger); err != nil {
			return err
		}
	}

	llm, err := api.NewProvider(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	defaultSaju, err := reading.LoadDefaultSaju(cfg.Saju.DefaultFile)
	if err != nil {
		logger.Warn("default saju data not loaded", zap.String("path", cfg.Saju.DefaultFile), zap.Error(err))
	}

	readings := prompt.NewLoader(cfg.Prompts.ReadingFile, cfg.Prompts.ReadingLabel, logger)
	sections := prompt.NewLoader(cfg.Prompts.SectionFile, cfg.Prompts.SectionLabel, logger)
	for _, l := range []*prompt.Loader{readings, sections} {
		if !l.Exists() {
			logger.Warn("prompt file not found", zap.String("label", l.Label()), zap.String("path", l.Path()))
		}
	}

	statsManager := stats.NewManager(gdb, logger)
	readingService := reading.NewService(llm, readings, sections, reading.Options{
		Model:           cfg.LLM.Model,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
		Timeout:         cfg.LLM.Timeout,
		MaxParallel:     cfg.LLM.MaxParallel,
		DefaultSaju:     defaultSaju,
		DefaultUserName: cfg.Saju.DefaultUserName,
	}, statsManager, logger)

	calculator := manseryuk.NewClient(cfg.Manseryuk.BaseURL, cfg.Manseryuk.APIKey, cfg.Manseryuk.Timeout)
	freeSaju := freesaju.NewService(gdb, calculator, freesaju.Options{
		MaxConcurrent:   cfg.Manseryuk.MaxConcurrent,
		Timeout:         cfg.Manseryuk.Timeout,
		RedirectBaseURL: cfg.Manseryuk.RedirectBaseURL,
		OnFinish:        metrics.RecordFreeSaju,
	}, logger)

	sessions := session.NewStore(cfg.Server.SessionTTL, time.Minute)
	defer sessions.Close()

	if cfg.Log.Format != "console" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(cfg, readingService, sessions, freeSaju, statsManager, logger)
	router := handler.NewRouter()

	if rl := handler.Limiter(); rl != nil {
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					rl.Cleanup(30 * time.Minute)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cheonkimoon API starting",
			zap.String("addr", srv.Addr),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model),
			zap.Bool("default_data_loaded", defaultSaju != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := freeSaju.Shutdown(shutdownCtx); err != nil {
		logger.Warn("free saju shutdown", zap.Error(err))
	}
	return nil
}

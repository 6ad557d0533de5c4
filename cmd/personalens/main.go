// Command personalens serves the persona panel orchestration API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/onion-salad/persona-lens-sub000/internal/config"
	"github.com/onion-salad/persona-lens-sub000/internal/embedding"
	"github.com/onion-salad/persona-lens-sub000/internal/generation"
	"github.com/onion-salad/persona-lens-sub000/internal/logging"
	"github.com/onion-salad/persona-lens-sub000/internal/orchestrator"
	"github.com/onion-salad/persona-lens-sub000/internal/server"
	"github.com/onion-salad/persona-lens-sub000/internal/store"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "personalens",
	Short: "persona-lens - expert persona panel orchestration service",
	Long: `persona-lens answers free-form questions through a dynamically
assembled panel of synthetic expert personas.

It classifies the user's intent, estimates which personas the question
needs, reuses personas already on file, synthesizes the missing ones,
asks every panelist concurrently, and merges their answers into one reply.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg.LLM.APIKey = "" // never print credentials
		return cfg.Save("/dev/stdout")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "personalens.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(cfg.Workspace, logging.Options{
		Debug:      cfg.Logging.Debug || verbose,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
		JSONFormat: cfg.Logging.Format == "json",
	}); err != nil {
		return fmt.Errorf("failed to initialize category logging: %w", err)
	}
	defer logging.CloseAll()

	if logging.IsDebugMode() {
		logger.Info("category file logging enabled",
			zap.String("dir", filepath.Join(cfg.Workspace, ".personalens", "logs")))
	}

	logging.Boot("persona-lens %s starting", cfg.Version)
	logger.Info("starting persona-lens",
		zap.String("version", cfg.Version),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model))

	genCfg, err := cfg.GenerationConfig()
	if err != nil {
		return err
	}
	genClient, err := generation.NewClient(genCfg)
	if err != nil {
		return err
	}

	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.Workspace, dbPath)
	}
	personaStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open persona store: %w", err)
	}
	defer personaStore.Close()

	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to create embedding engine: %w", err)
	}

	controller := orchestrator.NewController(
		genClient,
		orchestrator.NewClassifier(genClient),
		orchestrator.NewEstimator(genClient),
		orchestrator.NewRetriever(personaStore, engine),
		orchestrator.NewSynthesizer(genClient, personaStore),
		orchestrator.NewUpdater(genClient, personaStore),
		orchestrator.NewResponder(genClient, personaStore),
	)

	requestTimeout, err := cfg.RequestTimeout()
	if err != nil {
		return err
	}
	readTimeout, err := cfg.ReadTimeout()
	if err != nil {
		return err
	}
	writeTimeout, err := cfg.WriteTimeout()
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		RequestTimeout: requestTimeout,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
	}, controller, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}

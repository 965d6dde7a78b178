package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yaya84/arkab/internal/config"
	"github.com/yaya84/arkab/internal/engine"
	"github.com/yaya84/arkab/internal/healing"
	"github.com/yaya84/arkab/internal/memory"
	"github.com/yaya84/arkab/internal/metrics"
	"github.com/yaya84/arkab/internal/persist"
	"github.com/yaya84/arkab/internal/server"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config (defaults apply when empty)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	cfgStore := config.NewStore(cfg)
	if configPath != "" {
		watcher, werr := config.NewWatcher(configPath, cfgStore, logger)
		if werr != nil {
			logger.Warn("config hot-reload disabled", zap.Error(werr))
		} else {
			defer watcher.Stop()
		}
	}

	m := metrics.New()

	// Memory store, optionally warmed from and written through to SQLite.
	var store *memory.Store
	if cfg.Persistence.Path != "" {
		db, derr := persist.Open(cfg.Persistence.Path)
		if derr != nil {
			return fmt.Errorf("open persistence: %w", derr)
		}
		defer db.Close()

		recs, lerr := db.LoadAll(cmd.Context())
		if lerr != nil {
			return fmt.Errorf("load persisted records: %w", lerr)
		}
		store = memory.New(logger, m, memory.WithPersistence(db))
		store.Preload(recs, cfg.Memory.Capacity, cfg.Memory.HalfLife.Std(), time.Now())
		logger.Info("persistence enabled",
			zap.String("path", cfg.Persistence.Path),
			zap.Int("records", len(recs)),
		)
	} else {
		store = memory.New(logger, m)
	}

	return run(cfgStore, store, m, logger)
}

func run(cfgStore *config.Store, store *memory.Store, m *metrics.Metrics, logger *zap.Logger) error {
	bp := healing.NewBackpressure()
	eng := engine.New(cfgStore, store, bp, m, logger)
	ctrl := healing.NewController(cfgStore, store, eng, healing.SystemSampler{}, bp, m, logger)

	healCtx, stopHealing := context.WithCancel(context.Background())
	defer stopHealing()
	go ctrl.Run(healCtx)

	srv := server.New(eng, ctrl, store, m, logger, VersionString())
	addr := cfgStore.Snapshot().ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("arkab serving", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-done
	logger.Info("shutting down")
	stopHealing()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(configPath)
}

func buildLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	if lc.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

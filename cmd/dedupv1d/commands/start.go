package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dedupv1/dedupv1-go/cmd/dedupv1d/monitor"
	"github.com/dedupv1/dedupv1-go/internal/logger"
	"github.com/dedupv1/dedupv1-go/pkg/bootstrap"
	"github.com/dedupv1/dedupv1-go/pkg/config"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dedupv1d engine",
	Long: `Start the inline-deduplication storage engine.

Loads configuration, opens the operation log and container storage, and
serves the monitor HTTP interface until interrupted.

Use --config to specify a configuration file, or it will use the default
location at $XDG_CONFIG_HOME/dedupv1/config.yaml.

Examples:
  dedupv1d start
  dedupv1d start --config /etc/dedupv1/config.yaml
  DEDUPV1_LOGGING_LEVEL=DEBUG dedupv1d start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "path to write the daemon's PID")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	logger.Info("starting dedupv1d", "version", Version, "commit", Commit)
	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.DefaultRegisterer
	sys, err := bootstrap.Build(cfg, registry)
	if err != nil {
		return fmt.Errorf("bootstrapping engine: %w", err)
	}
	defer func() {
		if err := sys.Close(); err != nil {
			logger.Error("error shutting down engine", "error", err)
		}
	}()

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("writing PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	var monitorSrv *http.Server
	serverDone := make(chan error, 1)
	if cfg.Monitor.Enabled {
		monitorSrv = &http.Server{
			Addr:              cfg.Monitor.Addr,
			Handler:           monitor.NewRouter(sys, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("monitor interface listening", "addr", cfg.Monitor.Addr)
			if err := monitorSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverDone <- err
				return
			}
			serverDone <- nil
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("dedupv1d is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		if monitorSrv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer shutdownCancel()
			if err := monitorSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("monitor server shutdown error", "error", err)
			}
		}
		logger.Info("dedupv1d stopped")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("monitor server error", "error", err)
			return err
		}
	}

	return nil
}

func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// Command eduinsightd runs the educational analytics pipeline as a daemon:
// it assembles the agent mesh from configuration, optionally serves
// prometheus metrics and keeps the coordinator available until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/eduinsight/eduinsight"
	"github.com/eduinsight/eduinsight/config"
	"github.com/eduinsight/eduinsight/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "eduinsightd",
		Short:         "Multi-agent educational analytics pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.AddCommand(newServeCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := buildLogger(cfg.General)

	system, err := eduinsight.New(func(o *eduinsight.Options) {
		o.Config = cfg
		o.Logger = logger
	})
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := system.Start(runCtx); err != nil {
		return err
	}
	logger.Info("eduinsightd serving", "version", version, "llm_provider", cfg.LLM.Provider)

	var telemetry *http.Server
	if cfg.Telemetry.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		telemetry = &http.Server{Addr: cfg.Telemetry.Addr, Handler: mux}
		go func() {
			logger.Info("telemetry listener started", "addr", cfg.Telemetry.Addr)
			if err := telemetry.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("telemetry listener failed", "error", err)
			}
		}()
	}

	<-runCtx.Done()
	logger.Info("shutdown signal received")

	if telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}
	return system.Stop()
}

func buildLogger(cfg config.GeneralConfig) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Output:    os.Stdout,
		Component: "eduinsightd",
	})
}

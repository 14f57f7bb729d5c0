package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/leanflow/internal/config"
	"github.com/pitabwire/leanflow/internal/mcpserver"
	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/internal/pipeline"
	"github.com/pitabwire/leanflow/internal/reasoning"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/internal/transport"
)

func newServeCmd() *cobra.Command {
	var (
		format string
		mcpSSE bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), format, mcpSSE)
		},
	}
	cmd.Flags().StringVar(&format, "format", reasoning.FormatMarkdown, "report format: json, markdown or narrative")
	cmd.Flags().BoolVar(&mcpSSE, "mcp-sse", false, "also serve the MCP tools over SSE below /mcp")
	return cmd
}

func runServe(parent context.Context, format string, mcpSSE bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "leanflow", version)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger, format, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.close()

	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Optimizer: a.optimizer,
		Rules:     a.holder,
		Metrics:   a.metrics,
		Gatherer:  prometheus.DefaultGatherer,
		Readiness: a.readiness(),
	})
	if mcpSSE {
		router.Mount("/mcp", mcpserver.New(a.optimizer, a.holder, logger).SSEHandler("/mcp"))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Rules.Watch && cfg.Rules.Directory != "" {
		w, err := rules.NewWatcher(cfg.Rules.Directory, a.holder, logger, cfg.Rules.Debounce, func(reg *rules.Registry) {
			if a.metrics != nil {
				a.metrics.RecordRuleReload("swapped")
				a.metrics.SetRegistry(reg.Version(), reg.Len())
			}
		})
		if err != nil {
			return fmt.Errorf("rules watcher: %w", err)
		}
		w.Start(gctx)
		defer w.Close()
	}

	g.Go(func() error {
		sweepStale(gctx, a.optimizer, cfg.Pipeline.SweepInterval, logger)
		return nil
	})

	g.Go(func() error {
		logger.Info("server started",
			zap.Int("port", cfg.Server.Port),
			zap.String("version", version),
			zap.String("commit", commit),
			zap.String("store", cfg.Store.Driver),
			zap.String("reasoning", cfg.Reasoning.Provider),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := a.optimizer.Shutdown(shutdownCtx); err != nil {
			logger.Error("pipeline shutdown error", zap.Error(err))
		}
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// sweepStale periodically fails runs abandoned by a crashed process.
func sweepStale(ctx context.Context, o *pipeline.Orchestrator, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.ExpireStale(ctx)
			if err != nil {
				logger.Error("stale run sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired stale runs", zap.Int("runs", n))
			}
		}
	}
}

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ridwanabdusalam/cleanlab/internal/application"
	"github.com/Ridwanabdusalam/cleanlab/internal/logging"
	"github.com/Ridwanabdusalam/cleanlab/internal/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		addr    string
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the evaluation HTTP API",
		Long: `Starts the HTTP API:

  POST /v1/evaluate              score one answer
  POST /v1/evaluate/batch        score many answers
  POST /v1/evaluate/stream       score one answer with server-sent progress events
  GET  /v1/scoring-functions     list scoring functions
  GET  /health                   breaker and load state
  GET  /metrics                  Prometheus metrics

The server shuts down gracefully on SIGINT or SIGTERM. With --config, edits
to logging.level in the file take effect without a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.start(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = rt.config.Server.Addr
			}
			srv := server.New(rt.detector, server.Config{
				Addr:          addr,
				ShutdownGrace: time.Duration(rt.config.Server.ShutdownGraceSecond) * time.Second,
				MaxBatch:      rt.config.Server.MaxBatch,
				RatePerMinute: rt.config.Server.RateLimitPerMinute,
				RateBurst:     rt.config.Server.RateLimitBurst,
			},
				server.WithGatherer(rt.metrics.Registry()),
				server.WithTracerProvider(rt.tracer),
				server.WithLogger(logging.New("http")),
			)
			if g.configPath != "" && !noWatch {
				go watchConfig(cmd.Context(), g.configPath)
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the log level when the config file changes")
	return cmd
}

// watchConfig applies log level changes from the config file until ctx is
// done. Other settings need a restart.
func watchConfig(ctx context.Context, path string) {
	logger := logging.New("config")
	w := &application.ConfigWatcher{
		Path:   path,
		Logger: logger,
		OnChange: func(cfg application.Config) {
			level, err := logging.ParseLevel(cfg.Logging.Level)
			if err != nil {
				return
			}
			if level != logging.Level() {
				logging.SetLevel(level)
				logger.Info("log level changed", slog.String("level", level.String()))
			}
		},
	}
	if err := w.Run(ctx); err != nil {
		logger.Warn("config watch unavailable", slog.String("error", err.Error()))
	}
}

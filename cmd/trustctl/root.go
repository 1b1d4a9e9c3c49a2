package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/middleware"
	"github.com/Ridwanabdusalam/cleanlab/internal/application"
	"github.com/Ridwanabdusalam/cleanlab/internal/logging"
	"github.com/Ridwanabdusalam/cleanlab/internal/telemetry"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	trace      bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "trustctl",
		Short: "Score how trustworthy an LLM answer is",
		Long: "trustctl asks a language model to grade an answer to a question several\n" +
			"times and reports the averaged verdict as a trust score in [0, 1].",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML config file (defaults apply when empty)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	pf.BoolVar(&g.trace, "trace", false, "print OpenTelemetry spans to stderr")

	root.AddCommand(
		newEvaluateCmd(g),
		newBatchCmd(g),
		newServeCmd(g),
		newScoringFunctionsCmd(g),
	)
	return root
}

// loadConfig reads the config file or the defaults, applies the environment
// and then the logging flags.
func (g *globalFlags) loadConfig() (application.Config, error) {
	var (
		cfg application.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = application.LoadConfig(g.configPath)
		if err != nil {
			return application.Config{}, err
		}
	} else {
		cfg = application.DefaultConfig()
		cfg.ApplyEnv(os.LookupEnv)
	}

	if g.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(g.logLevel)
	}
	if g.logFormat != "" {
		cfg.Logging.Format = strings.ToLower(g.logFormat)
	}
	if err := cfg.Validate(); err != nil {
		return application.Config{}, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return application.Config{}, err
	}
	logging.Init(level, cfg.Logging.Format, os.Stderr)
	return cfg, nil
}

// runtime is everything a command needs to evaluate.
type runtime struct {
	config   application.Config
	detector *application.Detector
	metrics  *middleware.PrometheusMetrics
	tracer   trace.TracerProvider
	shutdown func(context.Context) error
}

func (r *runtime) Close() {
	r.detector.Close()
	if err := r.shutdown(context.Background()); err != nil {
		logging.New("trustctl").Warn("trace shutdown failed", "error", err)
	}
}

func (g *globalFlags) start(ctx context.Context) (*runtime, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	exporter := telemetry.ExporterNone
	if g.trace {
		exporter = telemetry.ExporterStdout
	}
	tp, shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "trustctl",
		ServiceVersion: version,
		Exporter:       exporter,
		Writer:         os.Stderr,
		PrettyPrint:    true,
	})
	if err != nil {
		return nil, err
	}

	metrics := middleware.NewPrometheusMetrics()
	d, err := application.Build(ctx, cfg,
		application.WithMetrics(metrics),
		application.WithTracerProvider(tp),
		application.WithLogger(logging.New("detector")),
	)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("build detector: %w", err)
	}
	return &runtime{config: cfg, detector: d, metrics: metrics, tracer: tp, shutdown: shutdown}, nil
}

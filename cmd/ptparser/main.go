package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ptparser/internal/config"
	"ptparser/internal/metrics"
	"ptparser/internal/pt"
	"ptparser/internal/publisher"
)

// app holds what every subcommand shares once the root has run.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	mcol        *metrics.Collector
	stopMetrics func()
}

var state = &app{logger: zap.NewNop(), stopMetrics: func() {}}

var rootCmd = &cobra.Command{
	Use:   "ptparser",
	Short: "Extract public transport routes from OpenStreetMap extracts",
	Long: `ptparser reads an OSM extract (.osm.pbf or .osm), selects relations with a
filter expression and flattens each route's ways into ordered polylines.

Routes can be written to files, served over HTTP, published to NATS or stored
in Postgres or SQLite.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		state.cfg = cfg
		state.logger = logger

		state.mcol = nil
		if cfg.MetricsAddr != "" {
			state.mcol = metrics.NewCollector(logger, cfg.Gap)
			srv := state.mcol.Serve(cfg.MetricsAddr)
			state.stopMetrics = func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}
		}
		return nil
	},
}

// shutdown stops the metrics server and flushes the logger.
func (a *app) shutdown() {
	a.stopMetrics()
	a.stopMetrics = func() {}
	_ = a.logger.Sync()
}

// execute runs the command tree and cleans up whether or not it failed.
func execute(ctx context.Context) error {
	defer state.shutdown()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		state.logger.Error("command failed", zap.Error(err))
		return err
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntP("threads", "t", 0, "worker goroutines (0 = number of CPUs)")
	pf.String("filter", "", "relation filter expression over id and tags")
	pf.String("preset", "", "filter preset: ptv2 or associated_street")
	pf.Float64("gap", config.DefaultGap, "largest gap in metres bridged between ways")
	pf.Bool("dedupe", false, "drop repeated ways while flattening")
	pf.Bool("debug", false, "debug logging")
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("threads") {
		cfg.Threads, _ = flags.GetInt("threads")
	}
	if flags.Changed("filter") {
		cfg.Filter, _ = flags.GetString("filter")
		cfg.Preset = ""
	}
	if flags.Changed("preset") {
		preset, _ := flags.GetString("preset")
		cfg.Preset = config.NormalizePreset(preset)
		cfg.Filter = ""
	}
	if flags.Changed("gap") {
		cfg.Gap, _ = flags.GetFloat64("gap")
	}
	if flags.Changed("dedupe") {
		cfg.Dedupe, _ = flags.GetBool("dedupe")
	}
	if debug, _ := flags.GetBool("debug"); debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q", level)
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// extractPath picks the extract from the first argument or PT_EXTRACT_PATH.
func extractPath(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if state.cfg.ExtractPath != "" {
		return state.cfg.ExtractPath, nil
	}
	return "", fmt.Errorf("no extract given: pass a path or set PT_EXTRACT_PATH")
}

// newParser loads the extract with the configured options.
func newParser(ctx context.Context, args []string) (*pt.Parser, error) {
	path, err := extractPath(args)
	if err != nil {
		return nil, err
	}
	opts := []pt.Option{
		pt.WithThreads(state.cfg.Threads),
		pt.WithFilter(state.cfg.FilterExpr()),
		pt.WithDedupe(state.cfg.Dedupe),
	}
	if state.mcol != nil {
		opts = append(opts, pt.WithMetrics(state.mcol))
	}
	return pt.New(ctx, state.logger, path, opts...)
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

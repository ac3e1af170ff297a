// Trace inspector for agent-to-agent conversations
// Groups spans by session, rebuilds call trees and renders timelines and graphs
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andrewh/a2atrace/pkg/config"
	"github.com/andrewh/a2atrace/pkg/source"
	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/andrewh/a2atrace/pkg/store"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "a2atrace",
		Short:        "Inspect agent-to-agent traces by session",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default: a2atrace.yaml in ., ./config or ~/.config/a2atrace)")
	pf.String("source", "", "span source: phoenix, file, elasticsearch or sqlite (default phoenix)")
	pf.String("agent", "", "agent name, used as the backend project")
	pf.String("input", "", "span file to read; implies --source file")
	pf.Int("limit", 0, "maximum spans to fetch (default 1000)")
	pf.String("log-level", "", "log level: debug, info, warn or error (default warn)")

	root.AddCommand(tracesCmd())
	root.AddCommand(timelineCmd())
	root.AddCommand(graphCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(demoCmd())
	root.AddCommand(versionCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "a2atrace %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}

// flagKeys maps global flags onto config keys.
var flagKeys = map[string]string{
	"source":    "source.kind",
	"agent":     "agent",
	"input":     "file.path",
	"limit":     "source.limit",
	"log-level": "log.level",
}

// loadConfig resolves configuration with flags taking precedence over
// environment, config file and defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	v := config.New(path)
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	if cmd.Flags().Changed("input") && !cmd.Flags().Changed("source") {
		v.Set("source.kind", config.KindFile)
	}
	return config.Load(v)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q, valid levels: debug, info, warn, error", level)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

// env is the resolved configuration, logger and span source of a command.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	src    source.Source
	close  func()
}

func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	src, closeSrc, err := openSource(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		src:    src,
		close: func() {
			closeSrc()
			_ = logger.Sync()
		},
	}, nil
}

// openSource builds the configured span repository.
func openSource(cfg *config.Config, logger *zap.Logger) (source.Source, func(), error) {
	noop := func() {}
	switch cfg.Source.Kind {
	case config.KindPhoenix:
		return source.NewPhoenix(cfg.Phoenix.URL, cfg.Phoenix.Timeout, logger), noop, nil
	case config.KindFile:
		return source.NewFile(cfg.File.Path, span.Format(cfg.File.Format), logger), noop, nil
	case config.KindElasticsearch:
		es, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating elasticsearch client: %w", err)
		}
		return source.NewElastic(es, cfg.Elasticsearch.Index, logger), noop, nil
	case config.KindSQLite:
		st, err := store.Open(cfg.Store.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

// fetch loads a session's spans, turning a missing project into a hint.
func (e *env) fetch(ctx context.Context, session string) ([]span.Span, error) {
	spans, err := e.src.FetchSpans(ctx, session, e.cfg.Agent, e.cfg.Source.Limit)
	if err != nil {
		if errors.Is(err, source.ErrProjectNotFound) {
			return nil, fmt.Errorf("%w\n\nPass the agent name with --agent", err)
		}
		return nil, err
	}
	return spans, nil
}

func sessionArg(use string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("missing session id\n\nUsage: a2atrace %s <session-id>", use)
		}
		return cobra.ExactArgs(1)(cmd, args)
	}
}

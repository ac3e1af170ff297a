package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andrewh/a2atrace/pkg/sessiongen"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

func demoCmd() *cobra.Command {
	var (
		sessions    int
		seed        uint64
		profilePath string
		output      string
		endpoint    string
		protocol    string
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Generate synthetic agent sessions to try the other commands on",
		Long: `Generate synthetic agent-to-agent sessions.

Spans are written as stdouttrace JSON to stdout or --output, or sent over
OTLP to --endpoint: over gRPC to the ingest receiver of "a2atrace serve",
or over http/protobuf to a Phoenix server.`,
		Example: `  a2atrace demo -o spans.json
  a2atrace timeline session-1 --input spans.json
  a2atrace demo --endpoint localhost:4317 --sessions 3
  a2atrace demo --endpoint localhost:6006 --protocol http/protobuf --agent weather-agent`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" && endpoint != "" {
				return fmt.Errorf("--output and --endpoint are mutually exclusive")
			}
			if protocol != "grpc" && protocol != "http/protobuf" {
				return fmt.Errorf("unknown protocol %q, valid protocols: grpc, http/protobuf", protocol)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			profile := sessiongen.DefaultProfile()
			if profilePath != "" {
				if profile, err = sessiongen.LoadProfile(profilePath); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("agent") {
				profile.Agent = cfg.Agent
			}

			ctx := cmd.Context()
			var exp sdktrace.SpanExporter
			switch {
			case endpoint != "" && protocol == "http/protobuf":
				exp, err = otlptracehttp.New(ctx,
					otlptracehttp.WithEndpoint(endpoint),
					otlptracehttp.WithInsecure(),
				)
				if err != nil {
					return fmt.Errorf("creating OTLP exporter: %w", err)
				}
			case endpoint != "":
				exp, err = otlptracegrpc.New(ctx,
					otlptracegrpc.WithEndpoint(endpoint),
					otlptracegrpc.WithInsecure(),
				)
				if err != nil {
					return fmt.Errorf("creating OTLP exporter: %w", err)
				}
			default:
				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("creating output file: %w", err)
					}
					defer f.Close()
					w = f
				}
				if exp, err = stdouttrace.New(stdouttrace.WithWriter(w)); err != nil {
					return fmt.Errorf("creating stdout exporter: %w", err)
				}
			}

			stats, err := sessiongen.Generate(ctx, profile, sessiongen.Options{
				Sessions: sessions,
				Seed:     seed,
			}, exp)
			if err != nil {
				return err
			}
			logger.Info("generated sessions",
				zap.String("agent", profile.Agent),
				zap.Int("traces", stats.Traces),
				zap.Int("spans", stats.Spans),
				zap.Int("errors", stats.Errors))

			stderr := cmd.ErrOrStderr()
			_, _ = fmt.Fprintf(stderr, "Generated %d spans in %d traces for %s: %s\n",
				stats.Spans, stats.Traces, profile.Agent, strings.Join(stats.Sessions, ", "))
			switch {
			case output != "":
				_, _ = fmt.Fprintf(stderr, "Try: a2atrace timeline %s --input %s\n", stats.Sessions[0], output)
			case endpoint != "":
				_, _ = fmt.Fprintf(stderr, "Try: a2atrace timeline %s --source sqlite --agent %s\n", stats.Sessions[0], profile.Agent)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&sessions, "sessions", 1, "number of sessions to generate")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed for reproducible output (0 picks one)")
	cmd.Flags().StringVar(&profilePath, "profile", "", "YAML session profile (default: built-in weather agent)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write spans to this file instead of stdout")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "send spans over OTLP to this host:port")
	cmd.Flags().StringVar(&protocol, "protocol", "grpc", "OTLP protocol for --endpoint: grpc or http/protobuf")
	return cmd
}

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/andrewh/a2atrace/pkg/ingest"
	"github.com/andrewh/a2atrace/pkg/server"
	"github.com/andrewh/a2atrace/pkg/source"
	"github.com/andrewh/a2atrace/pkg/store"
	"github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		addr       string
		ingestAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve trace views over HTTP, optionally receiving spans over OTLP/gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			cfg := e.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("ingest-addr") {
				cfg.Ingest.Addr = ingestAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Profiling.PyroscopeURL != "" {
				profiler, err := pyroscope.Start(pyroscope.Config{
					ApplicationName: "a2atrace",
					ServerAddress:   cfg.Profiling.PyroscopeURL,
					Logger:          e.logger.Sugar(),
					ProfileTypes: []pyroscope.ProfileType{
						pyroscope.ProfileCPU,
						pyroscope.ProfileAllocSpace,
						pyroscope.ProfileInuseSpace,
					},
				})
				if err != nil {
					return fmt.Errorf("starting profiler: %w", err)
				}
				defer profiler.Stop() //nolint:errcheck // best-effort flush on exit
			}

			src := e.src
			if cfg.Server.CacheTTL > 0 {
				cached, err := source.NewCached(src, cfg.Server.CacheTTL, cfg.Server.CacheMaxCost, e.logger)
				if err != nil {
					return err
				}
				defer cached.Close()
				src = cached
			}

			g, ctx := errgroup.WithContext(ctx)
			handler := server.NewHandler(src, cfg.Options(""), cfg.Source.Limit, e.logger)
			g.Go(func() error { return server.New(cfg.Server.Addr, handler).Run(ctx) })

			if cfg.Ingest.Addr != "" {
				st, ok := e.src.(*store.Store)
				if !ok {
					st, err = store.Open(cfg.Store.Path, e.logger)
					if err != nil {
						return err
					}
					defer st.Close() //nolint:errcheck // closed after servers stop
				}
				e.logger.Info("storing received spans", zap.String("path", cfg.Store.Path))
				g.Go(func() error { return ingest.Serve(ctx, cfg.Ingest.Addr, ingest.NewReceiver(st, e.logger)) })
			}

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Serving trace API on %s\n", cfg.Server.Addr)
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config, :8088)")
	cmd.Flags().StringVar(&ingestAddr, "ingest-addr", "", "OTLP/gRPC listen address for span ingest, e.g. :4317 (default disabled)")

	return cmd
}

package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrewh/a2atrace/pkg/tracetree"
	"github.com/andrewh/a2atrace/pkg/viewstate"
	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	var (
		f        viewFlags
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Poll a session and print a summary line whenever it changes",
		Args:  sessionArg("watch"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			if count < 0 {
				return fmt.Errorf("--count must not be negative, got %d", count)
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			session := args[0]
			opts, err := f.options(cmd, e.cfg.Options(session))
			if err != nil {
				return err
			}
			vis, err := f.visibility()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ctrl := viewstate.New(opts, e.logger)
			refresher := viewstate.NewRefresher(ctrl, e.logger)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for i := 1; ; i++ {
				applied, err := refresher.Refresh(ctx, e.src, session, e.cfg.Agent, e.cfg.Source.Limit)
				switch {
				case ctx.Err() != nil:
					return nil
				case err != nil:
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Refresh failed: %v\n", err)
				case applied:
					f.apply(cmd, ctrl, vis)
					v, err := ctrl.View()
					if err != nil {
						_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Refresh failed: %v\n", err)
						break
					}
					writeSummaryLine(cmd.OutOrStdout(), time.Now(), v)
				}

				if count > 0 && i >= count {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "time between fetches")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many fetches (0 = until interrupted)")

	return cmd
}

func writeSummaryLine(w io.Writer, now time.Time, v *tracetree.View) {
	stamp := now.Format("15:04:05")
	g, ok := v.Trace()
	if !ok {
		_, _ = fmt.Fprintf(w, "%s no traces\n", stamp)
		return
	}
	_, _ = fmt.Fprintf(w, "%s trace %s (%d/%d) • %d spans • Max depth %d • %d errors • %s\n",
		stamp, g.TraceID, v.Selected+1, len(v.Traces),
		v.Summary.Nodes, v.Summary.MaxDepth, v.Summary.ErrorCount, formatDuration(g.Duration()))
}

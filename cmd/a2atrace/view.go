package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/andrewh/a2atrace/pkg/tracetree"
	"github.com/andrewh/a2atrace/pkg/viewstate"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// viewFlags are the interactive view controls exposed on the command line.
type viewFlags struct {
	trace       string
	collapse    []string
	collapseAll bool
	search      string
	status      string
	service     string
	duration    string
	errors      bool
	correlated  bool
	exclude     string
	policy      string
	entry       string
}

func (f *viewFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.trace, "trace", "", "trace id to show (default: latest)")
	fs.StringSliceVar(&f.collapse, "collapse", nil, "collapse the children of this span id (repeatable)")
	fs.BoolVar(&f.collapseAll, "collapse-all", false, "collapse every span below the roots")
	fs.StringVar(&f.search, "search", "", "show only spans whose name contains this text")
	fs.StringVar(&f.status, "status", "", "show only spans with this status: OK, ERROR or UNSET")
	fs.StringVar(&f.service, "service", "", "show only spans of this service")
	fs.StringVar(&f.duration, "duration", "", "show only spans in this duration bucket: fast, medium or slow")
	fs.BoolVar(&f.errors, "errors", false, "show only failed spans")
	fs.BoolVar(&f.correlated, "correlated", false, "show only spans tagged with the session")
	fs.StringVar(&f.exclude, "exclude", "", "hide spans whose name contains this text (default from config)")
	fs.StringVar(&f.policy, "policy", "", "what happens below a hidden span: drop or promote (default from config)")
	fs.StringVar(&f.entry, "entry", "", "name of the span that anchors a trace (default from config)")
}

// options overlays changed flags on the configured pipeline options.
func (f *viewFlags) options(cmd *cobra.Command, base tracetree.Options) (tracetree.Options, error) {
	opts := base
	if cmd.Flags().Changed("exclude") {
		opts.ExcludePattern = f.exclude
	}
	if cmd.Flags().Changed("entry") {
		opts.EntrySpanName = f.entry
	}
	if cmd.Flags().Changed("policy") {
		p, err := tracetree.ParseExcludePolicy(f.policy)
		if err != nil {
			return opts, err
		}
		opts.ExcludePolicy = p
	}
	return opts, nil
}

func (f *viewFlags) visibility() (tracetree.Visibility, error) {
	vis := tracetree.Visibility{
		Search:         f.search,
		Service:        f.service,
		ErrorsOnly:     f.errors,
		CorrelatedOnly: f.correlated,
	}
	if f.status != "" {
		code, ok := span.ParseStatusCode(f.status)
		if !ok {
			return vis, fmt.Errorf("unknown status %q, valid statuses: OK, ERROR, UNSET", f.status)
		}
		vis.Status = code
	}
	if f.duration != "" {
		b, err := tracetree.ParseDurationBucket(f.duration)
		if err != nil {
			return vis, err
		}
		vis.Duration = b
	}
	return vis, nil
}

// buildView fetches the session and drives the view controller with the
// flags, the same way an interactive viewer would.
func buildView(cmd *cobra.Command, e *env, session string, f *viewFlags) (*tracetree.View, error) {
	opts, err := f.options(cmd, e.cfg.Options(session))
	if err != nil {
		return nil, err
	}
	vis, err := f.visibility()
	if err != nil {
		return nil, err
	}
	spans, err := e.fetch(cmd.Context(), session)
	if err != nil {
		return nil, err
	}

	ctrl := viewstate.New(opts, e.logger)
	ctrl.SetSpans(spans)
	f.apply(cmd, ctrl, vis)
	return ctrl.View()
}

// apply pushes trace selection, collapse and visibility flags into ctrl.
// It runs after every snapshot load since loading resets them.
func (f *viewFlags) apply(cmd *cobra.Command, ctrl *viewstate.Controller, vis tracetree.Visibility) {
	if f.trace != "" {
		if i := tracetree.FindTrace(ctrl.Traces(), f.trace); i >= 0 {
			ctrl.SelectTrace(i)
		} else {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: trace %q not found in session, showing the latest\n", f.trace)
		}
	}
	if f.collapseAll {
		ctrl.CollapseAll()
	} else {
		seen := make(map[string]bool)
		for _, id := range f.collapse {
			if !seen[id] {
				ctrl.Toggle(id)
			}
			seen[id] = true
		}
	}
	ctrl.SetVisibility(vis)
}

func noTraces(cmd *cobra.Command, session string) {
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "No traces found for session %q\n", session)
}

func tracesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "traces <session-id>",
		Short: "List the traces of a session",
		Args:  sessionArg("traces"),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			spans, err := e.fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := span.ValidateBatch(spans); err != nil {
				return fmt.Errorf("invalid span batch: %w", err)
			}
			groups := tracetree.GroupTraces(spans, args[0])
			if len(groups) == 0 {
				noTraces(cmd, args[0])
				return nil
			}
			renderTraces(cmd.OutOrStdout(), groups)
			return nil
		},
	}
}

func renderTraces(w io.Writer, groups []tracetree.TraceGroup) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "Trace", "Start", "Duration", "Spans", "Correlated"})
	for i, g := range groups {
		tw.AppendRow(table.Row{
			i + 1,
			g.TraceID,
			g.StartTime.UTC().Format(time.RFC3339),
			formatDuration(g.Duration()),
			len(g.Spans),
			g.CorrelatedCount,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	tw.Render()
}

func timelineCmd() *cobra.Command {
	var f viewFlags

	cmd := &cobra.Command{
		Use:   "timeline <session-id>",
		Short: "Show a trace of a session as an indented timeline",
		Args:  sessionArg("timeline"),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			v, err := buildView(cmd, e, args[0], &f)
			if err != nil {
				return err
			}
			if v.Selected < 0 {
				noTraces(cmd, args[0])
				return nil
			}
			renderTimeline(cmd.OutOrStdout(), v)
			return nil
		},
	}
	f.register(cmd.Flags())

	return cmd
}

const barWidth = 30

func renderTimeline(w io.Writer, v *tracetree.View) {
	g, _ := v.Trace()
	_, _ = fmt.Fprintf(w, "Trace %s • %d spans • Max depth %d • %s\n",
		g.TraceID, v.Summary.Nodes, v.Summary.MaxDepth, formatDuration(g.Duration()))
	if v.Empty() {
		_, _ = fmt.Fprintln(w, "No root span found in this trace")
		return
	}
	_, _ = fmt.Fprintf(w, "Root %s (%s)\n", v.Hierarchy.Root.Span.Name, v.Hierarchy.Rule)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Span", "ID", "Service", "Duration", "Status", "Timeline"})
	for _, n := range v.Visible {
		r := tracetree.RowFor(n, v.Expanded)
		tw.AppendRow(table.Row{
			strings.Repeat("  ", r.Depth) + marker(r) + r.Operation,
			r.ID,
			r.Service,
			formatDuration(n.Span.Duration()),
			string(r.Status),
			bar(r.RelativeStart, r.RelativeEnd, barWidth),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 4, Align: text.AlignRight}})
	tw.Render()
}

func marker(r tracetree.Row) string {
	switch {
	case r.Children == 0:
		return "  "
	case r.Expanded:
		return "▾ "
	default:
		return "▸ "
	}
}

// bar draws the [start, end] percentage window of a span over width cells.
// Every span gets at least one cell.
func bar(start, end float64, width int) string {
	from := int(start / 100 * float64(width))
	to := int(end / 100 * float64(width))
	from = max(0, min(from, width-1))
	to = max(from+1, min(to, width))
	return strings.Repeat(" ", from) + strings.Repeat("█", to-from) + strings.Repeat(" ", width-to)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

var exportFormats = []string{"json", "yaml"}

func exportCmd() *cobra.Command {
	var (
		f      viewFlags
		format string
	)

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write the full view of a trace as JSON or YAML",
		Args:  sessionArg("export"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(exportFormats, format) {
				return fmt.Errorf("unknown format %q, valid formats: json, yaml", format)
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			v, err := buildView(cmd, e, args[0], &f)
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), v.Document(), format)
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")

	return cmd
}

func writeDocument(w io.Writer, doc tracetree.Document, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

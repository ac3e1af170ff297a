package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/andrewh/a2atrace/pkg/tracetree"
	"github.com/spf13/cobra"
)

func graphCmd() *cobra.Command {
	var (
		f      viewFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "graph <session-id>",
		Short: "Render a trace of a session as an SVG call graph",
		Args:  sessionArg("graph"),
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

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				fh, err := os.Create(output) //nolint:gosec // user-supplied output path is expected
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer fh.Close() //nolint:errcheck // best-effort close on write
				w = fh
			}
			g, _ := v.Trace()
			return renderGraphSVG(w, v.Graph, e.cfg.Layout, "Trace "+g.TraceID)
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path (default: stdout)")

	return cmd
}

// titleHeight is the band above the graph reserved for the title.
const titleHeight = 30

func renderGraphSVG(w io.Writer, g tracetree.Graph, c tracetree.LayoutConstants, title string) error {
	b := g.Bounds
	minY := b.MinY - titleHeight
	width, height := b.Width(), b.Height()+titleHeight

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="%.1f %.1f %.1f %.1f" width="%.0f" height="%.0f">`,
		b.MinX, minY, width, height, width, height))
	sb.WriteString("\n<style>\n")
	sb.WriteString("  text { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; fill: #333; }\n")
	sb.WriteString("  .title { font-size: 14px; font-weight: 600; }\n")
	sb.WriteString("  .edge { stroke: #9ca3af; stroke-width: 1.5; }\n")
	sb.WriteString("  .node { rx: 6; stroke-width: 1.5; }\n")
	sb.WriteString("  .status-ok { fill: #ecfdf5; stroke: #10b981; }\n")
	sb.WriteString("  .status-error { fill: #fef2f2; stroke: #ef4444; }\n")
	sb.WriteString("  .status-unset { fill: #f9fafb; stroke: #9ca3af; }\n")
	sb.WriteString("  .correlated { stroke: #2563eb; stroke-width: 2.5; }\n")
	sb.WriteString("  .label { font-size: 11px; font-weight: 600; }\n")
	sb.WriteString("  .meta { font-size: 9px; fill: #666; }\n")
	sb.WriteString("</style>\n")

	sb.WriteString(fmt.Sprintf(`<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="white"/>`, b.MinX, minY, width, height))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf(`<text x="%.1f" y="%.1f" class="title">%s</text>`, b.MinX+c.Padding, minY+20, xmlEscape(title)))
	sb.WriteString("\n")

	// Edges first so nodes paint over their ends.
	for _, e := range g.Edges {
		sb.WriteString(fmt.Sprintf(`<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f" class="edge"/>`, e.X1, e.Y1, e.X2, e.Y2))
		sb.WriteString("\n")
	}

	maxChars := max(4, int(c.NodeWidth/7))
	for _, p := range g.Nodes {
		s := p.Node.Span
		class := "node " + statusClass(s)
		if p.Node.Correlated {
			class += " correlated"
		}
		sb.WriteString(fmt.Sprintf(`<g><title>%s</title>`, xmlEscape(s.Name)))
		sb.WriteString(fmt.Sprintf(`<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" class="%s"/>`, p.X, p.Y, c.NodeWidth, c.NodeHeight, class))
		cx := p.X + c.NodeWidth/2
		sb.WriteString(fmt.Sprintf(`<text x="%.1f" y="%.1f" text-anchor="middle" class="label">%s</text>`,
			cx, p.Y+c.NodeHeight/2-2, xmlEscape(truncate(s.Operation(), maxChars))))
		sb.WriteString(fmt.Sprintf(`<text x="%.1f" y="%.1f" text-anchor="middle" class="meta">%s · %s</text>`,
			cx, p.Y+c.NodeHeight/2+11, xmlEscape(truncate(s.Service(), maxChars-8)), formatDuration(s.Duration())))
		sb.WriteString("</g>\n")
	}

	sb.WriteString("</svg>\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func statusClass(s span.Span) string {
	switch {
	case s.IsError():
		return "status-error"
	case s.StatusCode == span.StatusOK:
		return "status-ok"
	default:
		return "status-unset"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n < 2 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

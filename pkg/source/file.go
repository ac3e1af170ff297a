// Span file repository for offline inspection of exported spans
package source

import (
	"context"
	"fmt"
	"os"

	"github.com/andrewh/a2atrace/pkg/span"
	"go.uber.org/zap"
)

// File reads spans from a file on every fetch, so edits are picked up by
// polling callers.
type File struct {
	path   string
	format span.Format
	logger *zap.Logger
}

// NewFile creates a source over the span file at path.
func NewFile(path string, format span.Format, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	if format == "" {
		format = span.FormatAuto
	}
	return &File{path: path, format: format, logger: logger}
}

// FetchSpans parses the file and keeps the traces correlated with
// correlationKey. The agent is ignored. A positive limit caps the number
// of spans read, in file order, before narrowing.
func (f *File) FetchSpans(ctx context.Context, correlationKey, _ string, limit int) ([]span.Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.path == "" {
		return nil, fmt.Errorf("no span file configured\n\nSet one with --input spans.json or file.path in the config")
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("opening span file: %w", err)
	}
	defer fh.Close()

	spans, err := span.ParseSpans(fh, f.format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	if limit > 0 && len(spans) > limit {
		spans = spans[:limit]
	}
	kept := KeepCorrelatedTraces(spans, correlationKey)
	f.logger.Debug("read span file",
		zap.String("path", f.path),
		zap.Int("spans", len(spans)),
		zap.Int("kept", len(kept)))
	return kept, nil
}

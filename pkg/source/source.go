// Span repositories: the sole ingress of raw span batches
// Every backend narrows its result to traces touching the correlation key
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andrewh/a2atrace/pkg/span"
)

// DefaultLimit caps the number of spans fetched when the caller passes 0.
const DefaultLimit = 1000

// Source fetches the spans relevant to one conversation of one agent.
type Source interface {
	FetchSpans(ctx context.Context, correlationKey, agent string, limit int) ([]span.Span, error)
}

// ErrProjectNotFound is matched by errors.Is for a missing agent project.
var ErrProjectNotFound = errors.New("project not found")

// Project is an agent's trace project in the backend.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ProjectNotFoundError reports a missing project along with the projects
// that do exist, so callers can suggest one.
type ProjectNotFoundError struct {
	Project   string
	Available []Project
}

func (e *ProjectNotFoundError) Error() string {
	msg := fmt.Sprintf("project %q not found", e.Project)
	if len(e.Available) == 0 {
		return msg
	}
	names := make([]string, len(e.Available))
	for i, p := range e.Available {
		names[i] = p.Name
	}
	return msg + "\n\nAvailable projects: " + strings.Join(names, ", ") +
		"\nThe project name must match the agent name."
}

func (e *ProjectNotFoundError) Is(target error) bool {
	return target == ErrProjectNotFound
}

// KeepCorrelatedTraces keeps every span whose trace contains at least one
// span correlated with key. An empty key keeps everything.
func KeepCorrelatedTraces(spans []span.Span, key string) []span.Span {
	if key == "" {
		return spans
	}
	traces := make(map[string]bool)
	for _, s := range spans {
		if s.IsCorrelated(key) {
			traces[s.Context.TraceID] = true
		}
	}
	out := make([]span.Span, 0, len(spans))
	for _, s := range spans {
		if traces[s.Context.TraceID] {
			out = append(out, s)
		}
	}
	return out
}

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// Unit tests for correlation narrowing and project errors
package source

import (
	"errors"
	"fmt"
	"testing"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/stretchr/testify/assert"
)

func TestKeepCorrelatedTraces(t *testing.T) {
	t.Parallel()
	spans := []span.Span{
		fixtureSpan("a1", "A", "", 0),
		correlated(fixtureSpan("b1", "B", "", 5), "sess-1"),
		fixtureSpan("b2", "B", "b1", 6),
		correlated(fixtureSpan("c1", "C", "", 7), "sess-2"),
	}
	assert.Equal(t, []string{"b1", "b2"}, spanIDs(KeepCorrelatedTraces(spans, "sess-1")))
	assert.Len(t, KeepCorrelatedTraces(spans, ""), 4)
	assert.Empty(t, KeepCorrelatedTraces(spans, "nope"))
}

func TestProjectNotFoundError(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("fetching: %w", &ProjectNotFoundError{
		Project:   "weather",
		Available: []Project{{Name: "weather-agent"}, {Name: "default"}},
	})
	assert.True(t, errors.Is(err, ErrProjectNotFound))

	var pnf *ProjectNotFoundError
	assert.True(t, errors.As(err, &pnf))
	assert.Contains(t, err.Error(), `project "weather" not found`)
	assert.Contains(t, err.Error(), "Available projects: weather-agent, default")

	bare := &ProjectNotFoundError{Project: "x"}
	assert.Equal(t, `project "x" not found`, bare.Error())
}

// Unit tests for the span record helpers
// Covers correlation matching, name derivation and status handling
package span

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsCorrelated_Aliases(t *testing.T) {
	t.Parallel()
	for _, alias := range CorrelationAliases {
		t.Run(alias, func(t *testing.T) {
			t.Parallel()
			s := Span{Attributes: map[string]any{alias: "sess-1"}}
			assert.True(t, s.IsCorrelated("sess-1"))
			assert.False(t, s.IsCorrelated("sess-2"))
		})
	}
}

func TestIsCorrelated_EmptyKeyAndNonString(t *testing.T) {
	t.Parallel()
	s := Span{Attributes: map[string]any{"session_id": "", "session.id": 42.0}}
	assert.False(t, s.IsCorrelated(""), "empty key never matches")
	assert.False(t, s.IsCorrelated("42"), "non-string values are not coerced")
	assert.False(t, Span{}.IsCorrelated("x"))
}

func TestIsCorrelated_UnknownAlias(t *testing.T) {
	t.Parallel()
	s := Span{Attributes: map[string]any{"conversation_id": "sess-1"}}
	assert.False(t, s.IsCorrelated("sess-1"))
}

func TestCorrelationKeys_Distinct(t *testing.T) {
	t.Parallel()
	s := Span{Attributes: map[string]any{
		"session_id": "a",
		"session.id": "a",
		"sessionId":  "b",
	}}
	assert.Equal(t, []string{"a", "b"}, s.CorrelationKeys())
}

func TestServiceAndOperation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, service, operation string
	}{
		{"a2a.server.request_handlers.Handler.run", "a2a.server", "run"},
		{"agent.invoke", "agent.invoke", "invoke"},
		{"call_llm", "call_llm", "call_llm"},
		{"", "", ""},
	}
	for _, tt := range tests {
		s := Span{Name: tt.name}
		assert.Equal(t, tt.service, s.Service(), tt.name)
		assert.Equal(t, tt.operation, s.Operation(), tt.name)
	}
}

func TestDuration_ClampsSkew(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Millisecond, Span{StartTime: base, EndTime: base.Add(5 * time.Millisecond)}.Duration())
	assert.Equal(t, time.Duration(0), Span{StartTime: base, EndTime: base.Add(-time.Second)}.Duration())
}

func TestParseStatusCode(t *testing.T) {
	t.Parallel()
	c, ok := ParseStatusCode("error")
	assert.True(t, ok)
	assert.Equal(t, StatusError, c)

	c, ok = ParseStatusCode("")
	assert.True(t, ok)
	assert.Equal(t, StatusUnset, c)

	_, ok = ParseStatusCode("FAILED")
	assert.False(t, ok)
}

// Span record model shared by every stage of trace reconstruction
// Mirrors the span shape served by the tracing backend's REST API
package span

import (
	"strings"
	"time"
)

// StatusCode is the outcome reported for a span.
type StatusCode string

const (
	StatusOK    StatusCode = "OK"
	StatusError StatusCode = "ERROR"
	StatusUnset StatusCode = "UNSET"
)

// Valid reports whether c is a known status. The empty string is accepted
// and reads as UNSET, since some exporters omit the field entirely.
func (c StatusCode) Valid() bool {
	switch c {
	case "", StatusOK, StatusError, StatusUnset:
		return true
	}
	return false
}

// ParseStatusCode normalises a status string, accepting any letter case.
func ParseStatusCode(s string) (StatusCode, bool) {
	c := StatusCode(strings.ToUpper(strings.TrimSpace(s)))
	if c == "" {
		return StatusUnset, true
	}
	return c, c.Valid()
}

// Context is the span's position in the backend's own identifier space.
// SpanID is not guaranteed to equal Span.ID.
type Context struct {
	TraceID string `json:"trace_id" yaml:"trace_id"`
	SpanID  string `json:"span_id" yaml:"span_id"`
}

// Event is a timestamped annotation on a span. Informational only.
type Event struct {
	Name       string         `json:"name" yaml:"name"`
	Timestamp  time.Time      `json:"timestamp" yaml:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Span is one recorded unit of work within a distributed trace.
type Span struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name" yaml:"name"`
	Context       Context        `json:"context" yaml:"context"`
	Kind          string         `json:"span_kind,omitempty" yaml:"span_kind,omitempty"`
	ParentID      string         `json:"parent_id,omitempty" yaml:"parent_id,omitempty"` // may name another span's ID or its Context.SpanID
	StartTime     time.Time      `json:"start_time" yaml:"start_time"`
	EndTime       time.Time      `json:"end_time" yaml:"end_time"`
	StatusCode    StatusCode     `json:"status_code" yaml:"status_code"`
	StatusMessage string         `json:"status_message,omitempty" yaml:"status_message,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Events        []Event        `json:"events,omitempty" yaml:"events,omitempty"`
}

// CorrelationAliases are the attribute names that may carry a session
// correlation key, in lookup order.
var CorrelationAliases = []string{
	"session_id",
	"session.id",
	"sessionId",
	"gcp.vertex.agent.session_id",
}

// IsCorrelated reports whether any correlation alias holds exactly key.
// An empty key never matches.
func (s Span) IsCorrelated(key string) bool {
	if key == "" {
		return false
	}
	for _, alias := range CorrelationAliases {
		if v, ok := s.Attributes[alias].(string); ok && v == key {
			return true
		}
	}
	return false
}

// CorrelationKeys returns the distinct string values held under the
// correlation aliases.
func (s Span) CorrelationKeys() []string {
	var keys []string
	seen := make(map[string]bool)
	for _, alias := range CorrelationAliases {
		v, ok := s.Attributes[alias].(string)
		if !ok || v == "" || seen[v] {
			continue
		}
		seen[v] = true
		keys = append(keys, v)
	}
	return keys
}

// Duration is EndTime minus StartTime, clamped at zero for skewed records.
func (s Span) Duration() time.Duration {
	d := s.EndTime.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// IsError reports whether the span finished with an ERROR status.
func (s Span) IsError() bool {
	return s.StatusCode == StatusError
}

// Service derives a service name from the first two dot-delimited segments
// of the span name, e.g. "a2a.server" for "a2a.server.handler.Run".
func (s Span) Service() string {
	first, rest, ok := strings.Cut(s.Name, ".")
	if !ok {
		return s.Name
	}
	second, _, _ := strings.Cut(rest, ".")
	return first + "." + second
}

// Operation is the last dot-delimited segment of the span name.
func (s Span) Operation() string {
	if i := strings.LastIndexByte(s.Name, '.'); i >= 0 {
		return s.Name[i+1:]
	}
	return s.Name
}

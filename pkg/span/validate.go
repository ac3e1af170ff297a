// Contract checks for span batches handed over by a repository adapter
// Missing identifiers and unknown statuses fail fast; data skew does not
package span

import (
	"errors"
	"fmt"
)

// ErrNoSpans is returned when an input holds no span records.
var ErrNoSpans = errors.New("no spans found in input")

// ValidationError describes a span that breaks the record contract.
type ValidationError struct {
	Index  int
	SpanID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.SpanID == "" {
		return fmt.Sprintf("span %d: %s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("span %d (id %q): %s: %s", e.Index, e.SpanID, e.Field, e.Reason)
}

// Validate checks a single span. The index is only used for reporting.
// An end time before the start time is tolerated: durations clamp to zero.
func Validate(i int, s Span) error {
	fail := func(field, reason string) error {
		return &ValidationError{Index: i, SpanID: s.ID, Field: field, Reason: reason}
	}
	switch {
	case s.ID == "":
		return fail("id", "required")
	case s.Context.TraceID == "":
		return fail("context.trace_id", "required")
	case s.StartTime.IsZero():
		return fail("start_time", "required")
	case s.EndTime.IsZero():
		return fail("end_time", "required")
	case !s.StatusCode.Valid():
		return fail("status_code", fmt.Sprintf("unknown status %q, valid statuses: OK, ERROR, UNSET", s.StatusCode))
	}
	return nil
}

// ValidateBatch checks every span and that ids are unique within the batch.
// It returns the first violation found.
func ValidateBatch(spans []Span) error {
	seen := make(map[string]int, len(spans))
	for i, s := range spans {
		if err := Validate(i, s); err != nil {
			return err
		}
		if prev, dup := seen[s.ID]; dup {
			return &ValidationError{Index: i, SpanID: s.ID, Field: "id", Reason: fmt.Sprintf("duplicate of span %d", prev)}
		}
		seen[s.ID] = i
	}
	return nil
}

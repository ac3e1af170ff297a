// Span file parsers: backend REST JSON, OTLP protobuf JSON and stdouttrace
// Format detection inspects the first JSON value in the input
package span

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Format identifies the input span format.
type Format string

const (
	FormatAuto        Format = "auto"
	FormatPhoenix     Format = "phoenix"
	FormatStdouttrace Format = "stdouttrace"
	FormatOTLP        Format = "otlp"
)

// maxInputSize is the maximum input size to prevent OOM on large trace exports.
const maxInputSize = 256 * 1024 * 1024 // 256 MB

const noSpansHint = "\n\nProvide a span file:\n  a2atrace timeline --source file --input spans.json <session-id>"

// ParseSpans reads spans from r in the given format.
// FormatAuto inspects the first JSON value to determine the format.
func ParseSpans(r io.Reader, format Format) ([]Span, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("input exceeds maximum size of %d MB", maxInputSize/(1024*1024))
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w%s", ErrNoSpans, noSpansHint)
	}

	if format == FormatAuto || format == "" {
		format, err = detectFormat(data)
		if err != nil {
			return nil, err
		}
	}

	var spans []Span
	switch format {
	case FormatPhoenix:
		spans, err = parsePhoenix(data)
	case FormatStdouttrace:
		spans, err = parseStdouttrace(data)
	case FormatOTLP:
		spans, err = parseOTLP(data)
	default:
		return nil, fmt.Errorf("unknown format %q, valid formats: auto, phoenix, stdouttrace, otlp", format)
	}
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("%w%s", ErrNoSpans, noSpansHint)
	}
	return spans, nil
}

// detectFormat examines the input to determine the format.
// Tries the first line (for line-delimited input), then the full data
// (for pretty-printed documents).
func detectFormat(data []byte) (Format, error) {
	if data[0] == '[' {
		return FormatPhoenix, nil
	}

	firstLine, _, hasMore := bytes.Cut(data, []byte{'\n'})
	firstLine = bytes.TrimSpace(firstLine)

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(firstLine, &probe); err == nil {
		if f, ok := formatOf(probe); ok {
			return f, nil
		}
	}

	if hasMore {
		probe = nil
		if err := json.Unmarshal(data, &probe); err == nil {
			if f, ok := formatOf(probe); ok {
				return f, nil
			}
		}
	}

	return "", fmt.Errorf("cannot detect format: input has none of context/data (phoenix), SpanContext (stdouttrace) or resourceSpans (OTLP)")
}

func formatOf(probe map[string]json.RawMessage) (Format, bool) {
	if _, ok := probe["SpanContext"]; ok {
		return FormatStdouttrace, true
	}
	if _, ok := probe["resourceSpans"]; ok {
		return FormatOTLP, true
	}
	if _, ok := probe["context"]; ok {
		return FormatPhoenix, true
	}
	if _, ok := probe["data"]; ok {
		return FormatPhoenix, true
	}
	return "", false
}

// Page is one page of the backend's span listing.
type Page struct {
	Data       []Span `json:"data"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// parsePhoenix accepts a JSON array of spans, a {"data": [...]} page, or
// one span object per line.
func parsePhoenix(data []byte) ([]Span, error) {
	var spans []Span
	switch {
	case data[0] == '[':
		if err := json.Unmarshal(data, &spans); err != nil {
			return nil, fmt.Errorf("parsing span array: %w", err)
		}
	default:
		var page Page
		if err := json.Unmarshal(data, &page); err == nil && page.Data != nil {
			spans = page.Data
			break
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var s Span
			if err := json.Unmarshal(line, &s); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			spans = append(spans, s)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
	}
	for i := range spans {
		NormaliseStatus(&spans[i])
	}
	return spans, nil
}

// NormaliseStatus upper-cases the status code and maps empty to UNSET.
// Unknown codes are left untouched so validation can report them.
func NormaliseStatus(s *Span) {
	if c, ok := ParseStatusCode(string(s.StatusCode)); ok {
		s.StatusCode = c
	}
}

// stdouttraceEvent mirrors the Go SDK's stdouttrace JSON output.
type stdouttraceEvent struct {
	Name        string `json:"Name"`
	SpanContext struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"SpanContext"`
	Parent struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"Parent"`
	SpanKind   int       `json:"SpanKind"`
	StartTime  time.Time `json:"StartTime"`
	EndTime    time.Time `json:"EndTime"`
	Attributes []sdkAttr `json:"Attributes"`
	Events     []struct {
		Name       string    `json:"Name"`
		Attributes []sdkAttr `json:"Attributes"`
		Time       time.Time `json:"Time"`
	} `json:"Events"`
	Status struct {
		Code        string `json:"Code"`
		Description string `json:"Description"`
	} `json:"Status"`
}

type sdkAttr struct {
	Key   string `json:"Key"`
	Value struct {
		Type  string `json:"Type"`
		Value any    `json:"Value"`
	} `json:"Value"`
}

func sdkAttrs(in []sdkAttr) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for _, a := range in {
		out[a.Key] = a.Value.Value
	}
	return out
}

var sdkKinds = map[int]string{1: "INTERNAL", 2: "SERVER", 3: "CLIENT", 4: "PRODUCER", 5: "CONSUMER"}

func parseStdouttrace(data []byte) ([]Span, error) {
	var spans []Span
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var evt stdouttraceEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		parentID := evt.Parent.SpanID
		if isZeroID(parentID) {
			parentID = ""
		}

		var events []Event
		for _, e := range evt.Events {
			events = append(events, Event{Name: e.Name, Timestamp: e.Time, Attributes: sdkAttrs(e.Attributes)})
		}

		s := Span{
			ID:            evt.SpanContext.SpanID,
			Name:          evt.Name,
			Context:       Context{TraceID: evt.SpanContext.TraceID, SpanID: evt.SpanContext.SpanID},
			Kind:          sdkKinds[evt.SpanKind],
			ParentID:      parentID,
			StartTime:     evt.StartTime,
			EndTime:       evt.EndTime,
			StatusCode:    StatusCode(evt.Status.Code),
			StatusMessage: evt.Status.Description,
			Attributes:    sdkAttrs(evt.Attributes),
			Events:        events,
		}
		NormaliseStatus(&s)
		spans = append(spans, s)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return spans, nil
}

// isZeroID checks if a hex-encoded ID is all zeros.
func isZeroID(id string) bool {
	for _, c := range id {
		if c != '0' {
			return false
		}
	}
	return len(id) > 0
}

// Fuzz targets for the span parsers
// Run with: go test -fuzz=FuzzParseSpans ./pkg/span/ -fuzztime=30s
package span

import (
	"bytes"
	"testing"
)

// FuzzParseSpans feeds arbitrary bytes to ParseSpans with each format.
// The property is that parsing never panics and never returns both spans
// and an error.
func FuzzParseSpans(f *testing.F) {
	f.Add([]byte(`[` + phoenixSpan + `]`))
	f.Add([]byte(phoenixSpan))
	f.Add([]byte(`{"Name":"op","SpanContext":{"TraceID":"aaa","SpanID":"bbb"},"Parent":{"TraceID":"aaa","SpanID":"0000000000000000"},"StartTime":"2024-01-01T00:00:00Z","EndTime":"2024-01-01T00:00:01Z","Attributes":[],"Status":{"Code":"Unset"}}`))
	f.Add([]byte(`{"resourceSpans":[{"resource":{},"scopeSpans":[{"spans":[{"traceId":"AQIDBAUGBwgJCgsMDQ4PEA==","spanId":"AQIDBAUGBwg=","name":"op"}]}]}]}`))
	f.Add([]byte(`not json at all`))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		for _, format := range []Format{FormatAuto, FormatPhoenix, FormatStdouttrace, FormatOTLP} {
			spans, err := ParseSpans(bytes.NewReader(data), format)
			if err != nil && spans != nil {
				t.Fatalf("format %s: got %d spans alongside error %v", format, len(spans), err)
			}
		}
	})
}

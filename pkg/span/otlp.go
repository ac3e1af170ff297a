// Conversion from OTLP protobuf spans to span records
// Used by the OTLP JSON file parser and the gRPC ingest receiver
package span

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

func parseOTLP(data []byte) ([]Span, error) {
	var req coltracepb.ExportTraceServiceRequest
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing OTLP: %w", err)
	}

	var spans []Span
	for _, rs := range req.ResourceSpans {
		_, converted := FromResourceSpans(rs)
		spans = append(spans, converted...)
	}
	return spans, nil
}

// FromResourceSpans converts one OTLP resource block. It returns the
// resource's service.name alongside the spans.
func FromResourceSpans(rs *tracepb.ResourceSpans) (string, []Span) {
	service := ""
	for _, attr := range rs.GetResource().GetAttributes() {
		if attr.Key == "service.name" {
			service = attr.Value.GetStringValue()
		}
	}

	var spans []Span
	for _, ss := range rs.GetScopeSpans() {
		for _, ps := range ss.GetSpans() {
			spans = append(spans, fromProto(ps))
		}
	}
	return service, spans
}

func fromProto(ps *tracepb.Span) Span {
	spanID := hex.EncodeToString(ps.SpanId)
	parentID := hex.EncodeToString(ps.ParentSpanId)
	if isZeroID(parentID) {
		parentID = ""
	}

	status := StatusUnset
	switch ps.GetStatus().GetCode() {
	case tracepb.Status_STATUS_CODE_OK:
		status = StatusOK
	case tracepb.Status_STATUS_CODE_ERROR:
		status = StatusError
	}

	var events []Event
	for _, e := range ps.Events {
		events = append(events, Event{
			Name:       e.Name,
			Timestamp:  unixNano(e.TimeUnixNano),
			Attributes: protoAttrs(e.Attributes),
		})
	}

	kind := ""
	if ps.Kind != tracepb.Span_SPAN_KIND_UNSPECIFIED {
		kind = strings.TrimPrefix(ps.Kind.String(), "SPAN_KIND_")
	}

	return Span{
		ID:            spanID,
		Name:          ps.Name,
		Context:       Context{TraceID: hex.EncodeToString(ps.TraceId), SpanID: spanID},
		Kind:          kind,
		ParentID:      parentID,
		StartTime:     unixNano(ps.StartTimeUnixNano),
		EndTime:       unixNano(ps.EndTimeUnixNano),
		StatusCode:    status,
		StatusMessage: ps.GetStatus().GetMessage(),
		Attributes:    protoAttrs(ps.Attributes),
		Events:        events,
	}
}

func unixNano(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC() //nolint:gosec // nanosecond timestamps are always positive
}

func protoAttrs(in []*commonpb.KeyValue) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for _, kv := range in {
		out[kv.Key] = anyValue(kv.Value)
	}
	return out
}

// anyValue flattens an OTLP AnyValue into a JSON-compatible scalar.
// Arrays, maps and bytes are rendered with their protojson text.
func anyValue(v *commonpb.AnyValue) any {
	switch x := v.GetValue().(type) {
	case nil:
		return nil
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return x.BoolValue
	case *commonpb.AnyValue_IntValue:
		return x.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return x.DoubleValue
	default:
		b, err := protojson.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// Turn planning: lays out the spans of one conversation turn in time
package sessiongen

import (
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// toolCallChance is the probability that a turn calls a given tool.
const toolCallChance = 0.6

// SpanPlan is a span laid out ahead of emission.
type SpanPlan struct {
	Parent    int // index into the plan slice, -1 for the turn root
	Name      string
	Kind      trace.SpanKind
	StartTime time.Time
	EndTime   time.Time
	Attrs     []attribute.KeyValue
	IsError   bool
	ErrorMsg  string
}

// PlanTurn lays out one turn starting at start: the A2A entry span, the
// agent invocation below it, and LLM and tool calls below that. Spans are
// in pre-order; every parent encloses its children.
func PlanTurn(p Profile, session string, start time.Time, rng *rand.Rand) []SpanPlan {
	plans := []SpanPlan{{
		Parent:    -1,
		Name:      EntrySpanName,
		Kind:      trace.SpanKindServer,
		StartTime: start,
		Attrs: []attribute.KeyValue{
			attribute.String("session_id", session),
			attribute.String("a2a.agent", p.Agent),
		},
	}}
	cursor := start.Add(p.Entry.Sample(rng))

	plans = append(plans, SpanPlan{
		Parent:    0,
		Name:      "agent." + p.Agent + ".invoke",
		Kind:      trace.SpanKindInternal,
		StartTime: cursor,
		Attrs:     []attribute.KeyValue{attribute.String("session.id", session)},
	})

	cursor = planLLM(&plans, p, cursor, rng)
	called := false
	for _, t := range p.Tools {
		if rng.Float64() >= toolCallChance {
			continue
		}
		called = true
		end := cursor.Add(t.Duration.Sample(rng))
		tp := SpanPlan{
			Parent:    1,
			Name:      "tool." + p.Agent + "." + t.Name,
			Kind:      trace.SpanKindClient,
			StartTime: cursor,
			EndTime:   end,
			Attrs:     []attribute.KeyValue{attribute.String("tool.name", t.Name)},
		}
		if rng.Float64() < t.ErrorRate {
			tp.IsError = true
			tp.ErrorMsg = t.Name + " failed"
		}
		plans = append(plans, tp)
		cursor = end
	}
	if called {
		cursor = planLLM(&plans, p, cursor, rng)
	}

	plans[1].EndTime = cursor.Add(time.Millisecond)
	plans[0].EndTime = plans[1].EndTime.Add(p.Entry.Sample(rng))
	return plans
}

func planLLM(plans *[]SpanPlan, p Profile, start time.Time, rng *rand.Rand) time.Time {
	end := start.Add(p.LLM.Duration.Sample(rng))
	*plans = append(*plans, SpanPlan{
		Parent:    1,
		Name:      "llm." + p.LLM.Model + ".chat",
		Kind:      trace.SpanKindClient,
		StartTime: start,
		EndTime:   end,
		Attrs:     []attribute.KeyValue{attribute.String("llm.model_name", p.LLM.Model)},
	})
	return end
}

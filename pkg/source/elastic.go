// Elasticsearch span repository
// Documents are span records with an added project field
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// Document is the indexed form of a span.
type Document struct {
	span.Span
	Project string `json:"project,omitempty"`
}

// Elastic fetches spans from an index of span documents.
type Elastic struct {
	es     *elasticsearch.Client
	index  string
	logger *zap.Logger
}

// NewElastic creates a source reading from index.
func NewElastic(es *elasticsearch.Client, index string, logger *zap.Logger) *Elastic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Elastic{es: es, index: index, logger: logger}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// FetchSpans finds the traces holding a span correlated with the key, then
// loads all spans of those traces ordered by start time. Without a key it
// returns the most recent spans of the project.
func (e *Elastic) FetchSpans(ctx context.Context, correlationKey, agent string, limit int) ([]span.Span, error) {
	limit = effectiveLimit(limit)

	var filters []map[string]any
	if agent != "" {
		filters = append(filters, term("project.keyword", agent))
	}

	if correlationKey == "" {
		query := map[string]any{
			"query": filtered(filters),
			"sort":  []any{map[string]any{"start_time": map[string]any{"order": "desc"}}},
		}
		docs, err := e.search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		// Newest first from the index; callers expect ascending start times.
		spans := make([]span.Span, len(docs))
		for i, d := range docs {
			j := len(docs) - 1 - i
			spans[j] = d.Span
			span.NormaliseStatus(&spans[j])
		}
		return spans, nil
	}

	should := make([]map[string]any, 0, len(span.CorrelationAliases))
	for _, alias := range span.CorrelationAliases {
		should = append(should, term("attributes."+alias+".keyword", correlationKey))
	}
	match := map[string]any{"should": should, "minimum_should_match": 1}
	if len(filters) > 0 {
		match["filter"] = filters
	}

	correlated, err := e.search(ctx, map[string]any{
		"query":   map[string]any{"bool": match},
		"_source": []string{"context.trace_id"},
	}, limit)
	if err != nil {
		return nil, err
	}

	var traceIDs []string
	seen := make(map[string]bool)
	for _, d := range correlated {
		if id := d.Context.TraceID; id != "" && !seen[id] {
			seen[id] = true
			traceIDs = append(traceIDs, id)
		}
	}
	if len(traceIDs) == 0 {
		e.logger.Debug("no correlated spans", zap.String("project", agent))
		return []span.Span{}, nil
	}

	traceFilter := append(filters, map[string]any{"terms": map[string]any{"context.trace_id.keyword": traceIDs}})
	docs, err := e.search(ctx, map[string]any{
		"query": filtered(traceFilter),
		"sort":  []any{map[string]any{"start_time": map[string]any{"order": "asc"}}},
	}, limit)
	if err != nil {
		return nil, err
	}

	spans := make([]span.Span, len(docs))
	for i, d := range docs {
		spans[i] = d.Span
		span.NormaliseStatus(&spans[i])
	}
	e.logger.Debug("fetched spans",
		zap.String("project", agent),
		zap.Int("traces", len(traceIDs)),
		zap.Int("spans", len(spans)))
	return spans, nil
}

// Index writes documents one by one. Used to seed an index from a file.
func (e *Elastic) Index(ctx context.Context, project string, spans []span.Span) error {
	for _, s := range spans {
		body, err := json.Marshal(Document{Span: s, Project: project})
		if err != nil {
			return fmt.Errorf("encoding span %s: %w", s.ID, err)
		}
		res, err := e.es.Index(
			e.index,
			bytes.NewReader(body),
			e.es.Index.WithContext(ctx),
			e.es.Index.WithDocumentID(s.ID),
		)
		if err != nil {
			return fmt.Errorf("failed to index span %s: %w", s.ID, err)
		}
		failed := res.IsError()
		status := res.String()
		_ = res.Body.Close()
		if failed {
			return fmt.Errorf("failed to index span %s: %s", s.ID, status)
		}
	}
	return nil
}

func (e *Elastic) search(ctx context.Context, query map[string]any, size int) ([]Document, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}
	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(e.index),
		e.es.Search.WithBody(bytes.NewReader(body)),
		e.es.Search.WithSize(size),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("failed to execute query: %s", res.String())
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var sr searchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}

	docs := make([]Document, 0, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		var d Document
		if err := json.Unmarshal(hit.Source, &d); err != nil {
			return nil, fmt.Errorf("decoding span document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func term(field, value string) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func filtered(filter []map[string]any) map[string]any {
	if len(filter) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"bool": map[string]any{"filter": filter}}
}

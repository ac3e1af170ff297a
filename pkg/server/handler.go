// JSON API over the trace pipeline for the timeline and graph views
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andrewh/a2atrace/pkg/source"
	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/andrewh/a2atrace/pkg/tracetree"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// invalidator is implemented by caching sources that can drop one entry.
type invalidator interface {
	Invalidate(correlationKey, agent string, limit int)
}

// Handler serves trace views for an agent's sessions.
type Handler struct {
	src     source.Source
	base    tracetree.Options
	limit   int
	logger  *zap.Logger
	metrics *metrics
}

// NewHandler creates a handler fetching from src. Only the entry span,
// exclusion and layout fields of base are used as defaults; requests
// supply the rest.
func NewHandler(src source.Source, base tracetree.Options, limit int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = source.DefaultLimit
	}
	base.Logger = logger
	return &Handler{src: src, base: base, limit: limit, logger: logger, metrics: newMetrics()}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{}))
	r.Route("/api/agents/{agent}/sessions/{session}", func(r chi.Router) {
		r.Get("/traces", h.HandleTraces)
		r.Get("/view", h.HandleView)
	})
}

// NewRouter wires the handler into a chi router with the standard
// middleware stack.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleTraces lists the trace groups of a session.
func (h *Handler) HandleTraces(w http.ResponseWriter, r *http.Request) {
	agent, session := chi.URLParam(r, "agent"), chi.URLParam(r, "session")
	limit, err := h.parseLimit(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spans, ok := h.fetch(w, r, session, agent, limit)
	if !ok {
		return
	}
	groups := tracetree.GroupTraces(spans, session)
	writeJSON(w, http.StatusOK, map[string]any{"traces": tracetree.TraceInfos(groups)})
}

// HandleView builds the full view of one trace of a session.
func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	agent, session := chi.URLParam(r, "agent"), chi.URLParam(r, "session")
	q := r.URL.Query()
	limit, err := h.parseLimit(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts, err := parseViewQuery(q, h.base)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts.CorrelationKey = session

	spans, ok := h.fetch(w, r, session, agent, limit)
	if !ok {
		return
	}

	start := time.Now()
	v, err := tracetree.Build(spans, opts)
	h.metrics.pipelineSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Document())
}

// fetch loads and validates a session's spans, writing the error response
// itself when it fails.
func (h *Handler) fetch(w http.ResponseWriter, r *http.Request, session, agent string, limit int) ([]span.Span, bool) {
	q := r.URL.Query()
	if refresh, _ := strconv.ParseBool(q.Get("refresh")); refresh {
		if inv, ok := h.src.(invalidator); ok {
			inv.Invalidate(session, agent, limit)
		}
	}

	spans, err := h.src.FetchSpans(r.Context(), session, agent, limit)
	if err != nil {
		var notFound *source.ProjectNotFoundError
		if errors.As(err, &notFound) {
			h.metrics.fetchTotal.WithLabelValues(resultNotFound).Inc()
			writeJSON(w, http.StatusNotFound, errorBody{
				Error:     fmt.Sprintf("project %q not found", notFound.Project),
				Available: notFound.Available,
			})
			return nil, false
		}
		h.metrics.fetchTotal.WithLabelValues(resultError).Inc()
		h.logger.Error("failed to fetch spans",
			zap.String("agent", agent), zap.String("session", session), zap.Error(err))
		writeError(w, http.StatusBadGateway, fmt.Errorf("fetching spans: %w", err))
		return nil, false
	}
	if err := span.ValidateBatch(spans); err != nil {
		h.metrics.fetchTotal.WithLabelValues(resultInvalid).Inc()
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("invalid span batch: %w", err))
		return nil, false
	}
	h.metrics.fetchTotal.WithLabelValues(resultOK).Inc()
	h.logger.Debug("fetched spans",
		zap.String("agent", agent), zap.String("session", session), zap.Int("spans", len(spans)))
	return spans, true
}

func (h *Handler) parseLimit(q url.Values) (int, error) {
	raw := q.Get("limit")
	if raw == "" {
		return h.limit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return n, nil
}

// parseViewQuery overlays request parameters on the base options.
func parseViewQuery(q url.Values, base tracetree.Options) (tracetree.Options, error) {
	opts := base
	opts.TraceID = q.Get("trace")

	switch {
	case q.Get("collapsed") == "all":
		opts.Expanded = tracetree.NewExpandedSet()
	case q.Has("expanded"):
		opts.Expanded = tracetree.NewExpandedSet(splitList(q.Get("expanded"))...)
	default:
		opts.Expanded = nil
	}

	if q.Has("exclude") {
		opts.ExcludePattern = q.Get("exclude")
	}
	if q.Has("entry") {
		opts.EntrySpanName = q.Get("entry")
	}
	if raw := q.Get("policy"); raw != "" {
		p, err := tracetree.ParseExcludePolicy(raw)
		if err != nil {
			return opts, err
		}
		opts.ExcludePolicy = p
	}

	vis := tracetree.Visibility{
		Search:  q.Get("search"),
		Service: q.Get("service"),
	}
	if raw := q.Get("status"); raw != "" {
		code, ok := span.ParseStatusCode(raw)
		if !ok {
			return opts, fmt.Errorf("unknown status %q, valid statuses: OK, ERROR, UNSET", raw)
		}
		vis.Status = code
	}
	if raw := q.Get("duration"); raw != "" {
		b, err := tracetree.ParseDurationBucket(raw)
		if err != nil {
			return opts, err
		}
		vis.Duration = b
	}
	var err error
	if vis.ErrorsOnly, err = parseFlag(q, "errors"); err != nil {
		return opts, err
	}
	if vis.CorrelatedOnly, err = parseFlag(q, "correlated"); err != nil {
		return opts, err
	}
	opts.Visibility = vis
	return opts, nil
}

func parseFlag(q url.Values, name string) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", name, raw)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type errorBody struct {
	Error     string           `json:"error"`
	Available []source.Project `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

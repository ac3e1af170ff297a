// Last-fetch-wins refresh sequencing around a span source
package viewstate

import (
	"context"
	"sync"

	"github.com/andrewh/a2atrace/pkg/source"
	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Refresher applies fetch results to a controller so that only the most
// recently started fetch is ever applied. Overlapping fetches may finish in
// any order.
type Refresher struct {
	mu      sync.Mutex
	current uuid.UUID
	ctrl    *Controller
	logger  *zap.Logger
}

// NewRefresher returns a refresher feeding ctrl.
func NewRefresher(ctrl *Controller, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{ctrl: ctrl, logger: logger}
}

// Begin starts a fetch. Tokens from earlier calls become stale.
func (r *Refresher) Begin() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = uuid.New()
	return r.current
}

// Complete applies a fetch result under the controller's current
// correlation key. It reports whether the result was applied; a stale
// token discards the result, error included.
func (r *Refresher) Complete(token uuid.UUID, spans []span.Span, err error) (bool, error) {
	return r.complete(token, func() { r.ctrl.SetSpans(spans) }, err)
}

// Refresh fetches spans for key from src and applies them if no later
// refresh has started in the meantime.
func (r *Refresher) Refresh(ctx context.Context, src source.Source, key, agent string, limit int) (bool, error) {
	token := r.Begin()
	spans, err := src.FetchSpans(ctx, key, agent, limit)
	return r.complete(token, func() { r.ctrl.Load(key, spans) }, err)
}

func (r *Refresher) complete(token uuid.UUID, apply func(), err error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token != r.current {
		r.logger.Debug("discarding stale refresh", zap.Stringer("token", token), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	apply()
	return true, nil
}

// Tests for the SQLite span store
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrewh/a2atrace/pkg/source"
	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ source.Source = (*Store)(nil)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func testSpan(id, traceID, parent string, startMs int, session string) span.Span {
	s := span.Span{
		ID:         id,
		Name:       "agent.step",
		Context:    span.Context{TraceID: traceID, SpanID: id},
		ParentID:   parent,
		StartTime:  base.Add(time.Duration(startMs) * time.Millisecond),
		EndTime:    base.Add(time.Duration(startMs+5) * time.Millisecond),
		StatusCode: span.StatusOK,
	}
	if session != "" {
		s.Attributes = map[string]any{"session.id": session}
	}
	return s
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "spans.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ids(spans []span.Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.ID
	}
	return out
}

func TestStore_InsertAndFetchBySession(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "weather-agent", []span.Span{
		testSpan("c1", "T1", "r1", 5, ""),
		testSpan("r1", "T1", "", 0, "sess-1"),
		testSpan("x1", "T2", "", 2, ""),
	}))
	require.NoError(t, s.Insert(ctx, "other-agent", []span.Span{
		testSpan("o1", "T3", "", 1, "sess-1"),
	}))

	spans, err := s.FetchSpans(ctx, "sess-1", "weather-agent", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "c1"}, ids(spans))
	assert.True(t, spans[0].IsCorrelated("sess-1"))
	assert.Equal(t, base, spans[0].StartTime.UTC())

	spans, err = s.FetchSpans(ctx, "sess-1", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "o1", "c1"}, ids(spans), "empty agent spans every project")

	spans, err = s.FetchSpans(ctx, "missing", "weather-agent", 0)
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestStore_FetchWithKeyKeepsNewestSpans(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "a", []span.Span{
		testSpan("old1", "T1", "", 0, "k"),
		testSpan("old2", "T1", "old1", 5, ""),
		testSpan("new1", "T2", "", 100, "k"),
		testSpan("new2", "T2", "new1", 110, ""),
	}))

	spans, err := s.FetchSpans(ctx, "k", "a", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"old2", "new1", "new2"}, ids(spans), "latest trace survives the limit intact")
}

func TestStore_FetchWithoutKeyReturnsLatest(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "a", []span.Span{
		testSpan("s1", "T1", "", 0, ""),
		testSpan("s2", "T1", "", 10, ""),
		testSpan("s3", "T1", "", 20, ""),
	}))

	spans, err := s.FetchSpans(ctx, "", "a", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s3"}, ids(spans))
}

func TestStore_UpsertReplacesKeys(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "a", []span.Span{testSpan("s1", "T1", "", 0, "old")}))
	require.NoError(t, s.Insert(ctx, "a", []span.Span{testSpan("s1", "T1", "", 0, "new")}))

	spans, err := s.FetchSpans(ctx, "old", "", 0)
	require.NoError(t, err)
	assert.Empty(t, spans)
	spans, err = s.FetchSpans(ctx, "new", "", 0)
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

func TestStore_RejectsInvalidSpan(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	bad := testSpan("", "T1", "", 0, "")
	err := s.Insert(context.Background(), "a", []span.Span{testSpan("ok", "T1", "", 0, ""), bad})
	require.Error(t, err)

	spans, err := s.FetchSpans(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, spans, "failed batches are rolled back")
}

func TestStore_ProjectsAndPrune(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "b", []span.Span{testSpan("s1", "T1", "", 0, "k")}))
	require.NoError(t, s.Insert(ctx, "a", []span.Span{testSpan("s2", "T2", "", 100, "k")}))

	projects, err := s.Projects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, projects)

	n, err := s.DeleteBefore(ctx, base.Add(50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	spans, err := s.FetchSpans(ctx, "k", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, ids(spans), "keys of pruned spans cascade")
}

func TestStore_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "spans.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Insert(context.Background(), "a", []span.Span{testSpan("s1", "T1", "", 0, "k")}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	spans, err := s.FetchSpans(context.Background(), "k", "a", 0)
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

// SQLite span store fed by the OTLP receiver
// Indexes spans by trace and by correlation key for session lookups
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// defaultLimit matches the span repositories' default fetch size.
const defaultLimit = 1000

// Store persists span records in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening span store: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("opened span store", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	// m.Close would also close db, so only the source is released.
	defer src.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating span store: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert upserts spans under project.
func (s *Store) Insert(ctx context.Context, project string, spans []span.Span) error {
	if len(spans) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO spans (id, trace_id, project, start_time, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			trace_id = excluded.trace_id,
			project = excluded.project,
			start_time = excluded.start_time,
			body = excluded.body`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer upsert.Close()

	for i, sp := range spans {
		if err := span.Validate(i, sp); err != nil {
			return fmt.Errorf("rejecting span: %w", err)
		}
		body, err := json.Marshal(sp)
		if err != nil {
			return fmt.Errorf("encoding span %s: %w", sp.ID, err)
		}
		if _, err := upsert.ExecContext(ctx, sp.ID, sp.Context.TraceID, project, sp.StartTime.UnixNano(), string(body)); err != nil {
			return fmt.Errorf("storing span %s: %w", sp.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM span_keys WHERE span_id = ?`, sp.ID); err != nil {
			return fmt.Errorf("clearing keys of span %s: %w", sp.ID, err)
		}
		for _, key := range sp.CorrelationKeys() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO span_keys (span_id, trace_id, key) VALUES (?, ?, ?)`,
				sp.ID, sp.Context.TraceID, key); err != nil {
				return fmt.Errorf("indexing span %s: %w", sp.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing insert: %w", err)
	}
	s.logger.Debug("stored spans", zap.String("project", project), zap.Int("spans", len(spans)))
	return nil
}

// FetchSpans returns every span of the traces that contain a span
// correlated with correlationKey, ordered by start time. When there are
// more than limit, the most recent limit spans are kept. An empty agent
// matches every project. Without a key the most recent spans of every
// trace are returned.
func (s *Store) FetchSpans(ctx context.Context, correlationKey, agent string, limit int) ([]span.Span, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if correlationKey == "" {
		return s.query(ctx, `
			SELECT body FROM (
				SELECT id, start_time, body FROM spans
				WHERE (? = '' OR project = ?)
				ORDER BY start_time DESC, id DESC
				LIMIT ?
			) ORDER BY start_time, id`, agent, agent, limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT k.trace_id FROM span_keys k
		JOIN spans s ON s.id = k.span_id
		WHERE k.key = ? AND (? = '' OR s.project = ?)`,
		correlationKey, agent, agent)
	if err != nil {
		return nil, fmt.Errorf("finding correlated traces: %w", err)
	}
	var traceIDs []any
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("finding correlated traces: %w", err)
		}
		traceIDs = append(traceIDs, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding correlated traces: %w", err)
	}
	if len(traceIDs) == 0 {
		return []span.Span{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(traceIDs)), ",")
	args := append(traceIDs, limit)
	return s.query(ctx, `
		SELECT body FROM (
			SELECT id, start_time, body FROM spans
			WHERE trace_id IN (`+placeholders+`)
			ORDER BY start_time DESC, id DESC
			LIMIT ?
		) ORDER BY start_time, id`, args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]span.Span, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying spans: %w", err)
	}
	defer rows.Close()

	spans := []span.Span{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("reading span row: %w", err)
		}
		var sp span.Span
		if err := json.Unmarshal([]byte(body), &sp); err != nil {
			return nil, fmt.Errorf("decoding stored span: %w", err)
		}
		spans = append(spans, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading span rows: %w", err)
	}
	return spans, nil
}

// Projects lists the distinct projects holding spans.
func (s *Store) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT project FROM spans ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()
	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("listing projects: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteBefore removes spans that started before cutoff and returns how
// many were removed.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM spans WHERE start_time < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning spans: %w", err)
	}
	return res.RowsAffected()
}

package logstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"helm/internal/apierr"
)

//go:embed all:migrations
var migrationsFS embed.FS

// Store is the Postgres-backed append-only log and metric store.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn (a postgresql:// URL, per the connection-string
// convention used elsewhere in Helm) and applies pending goose migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageError, "opening log store connection", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageError, "pinging log store", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "setting goose dialect", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageError, "applying log store migrations", err)
	}

	return &Store{db: sqlx.NewDb(sqlDB, "pgx")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// IngestBatch writes up to MaxBatchSize entries in a single transaction
//: a malformed entry rejects the whole batch with a precise
// error, never a silent partial drop.
func (s *Store) IngestBatch(ctx context.Context, entries []LogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if len(entries) > MaxBatchSize {
		return 0, apierr.New(apierr.KindMalformedRequest, fmt.Sprintf("batch exceeds max size %d", MaxBatchSize))
	}
	for i, e := range entries {
		if e.ServiceName == "" || e.Message == "" || e.Hostname == "" {
			return 0, apierr.New(apierr.KindMalformedRequest, fmt.Sprintf("entry %d missing required field", i))
		}
		if !ValidLevel(e.Level) {
			return 0, apierr.New(apierr.KindMalformedRequest, fmt.Sprintf("entry %d has invalid level %q", i, e.Level))
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindStorageError, "starting ingest transaction", err)
	}
	defer tx.Rollback()

	const stmt = `INSERT INTO log_entries
		(timestamp, service_name, level, message, context, trace_id, user_id, hostname, process_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, e := range entries {
		ctxJSON, err := json.Marshal(e.Context)
		if err != nil {
			return 0, apierr.Wrap(apierr.KindMalformedRequest, "marshaling entry context", err)
		}
		if _, err := tx.ExecContext(ctx, stmt, e.Timestamp, e.ServiceName, string(e.Level), e.Message, ctxJSON, e.TraceID, e.UserID, e.Hostname, e.ProcessID); err != nil {
			return 0, apierr.Wrap(apierr.KindStorageError, "inserting log entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apierr.Wrap(apierr.KindStorageError, "committing ingest transaction", err)
	}
	return len(entries), nil
}

// Query returns a page of LogEntry matching q, ordered by timestamp desc.
func (s *Store) Query(ctx context.Context, q Query) ([]LogEntry, error) {
	limit := q.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.ServiceName != "" {
		conds = append(conds, "service_name = "+arg(q.ServiceName))
	}
	if q.MinLevel != "" {
		rank, ok := levelRank[q.MinLevel]
		if !ok {
			return nil, apierr.New(apierr.KindMalformedRequest, "invalid level filter: "+string(q.MinLevel))
		}
		allowed := make([]string, 0, len(levelRank))
		for lvl, r := range levelRank {
			if r >= rank {
				allowed = append(allowed, string(lvl))
			}
		}
		conds = append(conds, "level = ANY("+arg(allowed)+")")
	}
	if !q.Since.IsZero() {
		conds = append(conds, "timestamp >= "+arg(q.Since))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "timestamp <= "+arg(q.Until))
	}
	if q.TraceID != "" {
		conds = append(conds, "trace_id = "+arg(q.TraceID))
	}
	if q.UserID != "" {
		conds = append(conds, "user_id = "+arg(q.UserID))
	}

	query := `SELECT id, timestamp, service_name, level, message, context, trace_id, user_id, hostname, process_id FROM log_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %s OFFSET %s", arg(limit), arg(q.Offset))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageError, "querying log entries", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var ctxJSON []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ServiceName, &e.Level, &e.Message, &ctxJSON, &e.TraceID, &e.UserID, &e.Hostname, &e.ProcessID); err != nil {
			return nil, apierr.Wrap(apierr.KindStorageError, "scanning log entry", err)
		}
		if len(ctxJSON) > 0 {
			if err := json.Unmarshal(ctxJSON, &e.Context); err != nil {
				return nil, apierr.Wrap(apierr.KindStorageError, "unmarshaling entry context", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOlderThan enforces the retention policy: deletion is
// the only mutation permitted on this table besides insert.
func (s *Store) DeleteOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().Add(-horizon)
	res, err := s.db.ExecContext(ctx, `DELETE FROM log_entries WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindStorageError, "deleting expired log entries", err)
	}
	return res.RowsAffected()
}

// RunRetentionLoop runs DeleteOlderThan(horizon) once per interval until
// ctx is cancelled.
func (s *Store) RunRetentionLoop(ctx context.Context, horizon, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.DeleteOlderThan(ctx, horizon)
		}
	}
}

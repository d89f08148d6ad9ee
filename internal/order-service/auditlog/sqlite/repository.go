// Package sqlite provides a SQLite-backed implementation of auditlog.Repository.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jcmexdev/storefront-payments/internal/order-service/auditlog"

	_ "modernc.org/sqlite"
)

// The table is append-only: each row is an immutable event in an order's
// payment history.
const schema = `
CREATE TABLE IF NOT EXISTS payment_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    TEXT NOT NULL,
    kind        TEXT NOT NULL,
    provider    TEXT NOT NULL DEFAULT '',
    reference   TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT '',
    trace_id    TEXT NOT NULL DEFAULT '',
    span_id     TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payment_events_order_id ON payment_events(order_id, id);
CREATE INDEX IF NOT EXISTS idx_payment_events_trace_id ON payment_events(trace_id);
`

const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ auditlog.Repository = (*Repository)(nil)

type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
//
//	repo, err := sqlite.Open("./data/audit.db")
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("auditlog/sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auditlog/sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Save inserts a new entry. It is safe to call concurrently.
func (r *Repository) Save(ctx context.Context, e *auditlog.Entry) error {
	const q = `
		INSERT INTO payment_events
			(order_id, kind, provider, reference, detail, actor, trace_id, span_id, created_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		e.OrderID,
		string(e.Kind),
		e.Provider,
		e.Reference,
		e.Detail,
		e.Actor,
		e.TraceID,
		e.SpanID,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("auditlog/sqlite: save event for %q: %w", e.OrderID, err)
	}
	return nil
}

// ListByOrder returns an order's events oldest first.
func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]auditlog.Entry, error) {
	const q = `
		SELECT order_id, kind, provider, reference, detail, actor, trace_id, span_id, created_at
		FROM   payment_events
		WHERE  order_id = ?
		ORDER  BY id ASC`

	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("auditlog/sqlite: list events for %q: %w", orderID, err)
	}
	defer rows.Close()

	out := make([]auditlog.Entry, 0)
	for rows.Next() {
		var (
			e         auditlog.Entry
			createdAt string
		)
		if err := rows.Scan(&e.OrderID, &e.Kind, &e.Provider, &e.Reference, &e.Detail, &e.Actor, &e.TraceID, &e.SpanID, &createdAt); err != nil {
			return nil, fmt.Errorf("auditlog/sqlite: scan event: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("auditlog/sqlite: parse time %q: %w", createdAt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

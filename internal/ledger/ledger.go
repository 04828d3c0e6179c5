// Package ledger persists terminal outcomes in sqlite so an interrupted
// download run can resume without repeating finished targets.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"harvest/internal/acquire"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the ledger database at path. ":memory:" works for
// tests.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// Outcomes arrive from many workers; one connection keeps sqlite writes
	// serialized and an in-memory database shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Ledger{db: db, logger: logger}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores o. A recorded success is never downgraded by a later
// failure for the same locator.
func (l *Ledger) Record(ctx context.Context, o acquire.Outcome) error {
	detail := o.Reason
	if o.Err != nil {
		detail = o.Err.Error()
	}
	_, err := l.db.ExecContext(ctx, `
insert into outcome (locator, source, kind, detail, attempts, updated_at)
values (?, ?, ?, ?, ?, ?)
on conflict (locator) do update set
    source = excluded.source,
    kind = excluded.kind,
    detail = excluded.detail,
    attempts = excluded.attempts,
    updated_at = excluded.updated_at
where outcome.kind != 'success' or excluded.kind = 'success'`,
		o.Target.Locator, o.Source, o.Kind.String(), detail, len(o.Attempts), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", o.Target.Locator, err)
	}
	return nil
}

// Succeeded reports whether locator already has a recorded success.
func (l *Ledger) Succeeded(ctx context.Context, locator string) (bool, error) {
	var kind string
	err := l.db.QueryRowContext(ctx, `select kind from outcome where locator = ?`, locator).Scan(&kind)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", locator, err)
	}
	return kind == acquire.KindSuccess.String(), nil
}

// Observe returns a pipeline observer that records every outcome, logging
// write failures instead of failing the run.
func (l *Ledger) Observe(ctx context.Context) func(acquire.Outcome) {
	ctx = context.WithoutCancel(ctx)
	return func(o acquire.Outcome) {
		if err := l.Record(ctx, o); err != nil {
			l.logger.WarnContext(ctx, "ledger write failed", "target", o.Target.Locator, "err", err)
		}
	}
}

// Skip wraps work so targets with a recorded success complete immediately.
func (l *Ledger) Skip(work acquire.Work) acquire.Work {
	return acquire.WorkFunc(func(ctx context.Context, t acquire.Target) (acquire.Outcome, error) {
		done, err := l.Succeeded(ctx, t.Locator)
		if err != nil {
			l.logger.WarnContext(ctx, "ledger lookup failed", "target", t.Locator, "err", err)
		}
		if done {
			l.logger.InfoContext(ctx, "already downloaded, skipping", "target", t.Locator, "index", t.Index)
			return acquire.Success(acquire.Item{Text: "already downloaded", URL: t.Locator}), nil
		}
		return work.Attempt(ctx, t)
	})
}

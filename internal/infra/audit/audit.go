// Package audit records reorg and rollback events to Postgres as a
// durable side channel, independent of the engine's in-memory state.
//
// Grounded on the teacher's postgres.DB (internal/infra/storage/postgres/
// db.go) for connection setup and the pgx/stdlib + lib/pq blank-import
// driver registration, and on the reorg Handler's revert-callback shape
// (internal/indexing/reorg/handler.go) for what gets recorded.
package audit

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// Migrate runs every pending migration in dir against db. Goose operates on
// the raw *sql.DB sqlx.DB wraps.
func Migrate(db *DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("audit: set migration dialect: %w", err)
	}
	if err := goose.Up(db.DB.DB, dir); err != nil {
		return fmt.Errorf("audit: run migrations: %w", err)
	}
	return nil
}

// Config holds the audit database's connection settings.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DB wraps the audit trail's Postgres connection.
type DB struct {
	*sqlx.DB
}

// Open connects to cfg.URL via pgx's stdlib driver and verifies the
// connection before returning.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Health reports whether the audit database is reachable.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// ReorgEvent is one detected reorg: the old head, the common ancestor it
// rolled back to, and the new chain it repaired onto.
type ReorgEvent struct {
	ID             int64     `db:"id"`
	DetectedAt     time.Time `db:"detected_at"`
	OldHeadNumber  uint64    `db:"old_head_number"`
	AncestorNumber uint64    `db:"ancestor_number"`
	NewHeadNumber  uint64    `db:"new_head_number"`
}

// RollbackEvent is one subscriber rollback notification: which address was
// told to roll back, and to which block.
type RollbackEvent struct {
	ID         int64     `db:"id"`
	ReorgID    int64     `db:"reorg_id"`
	OccurredAt time.Time `db:"occurred_at"`
	Address    string    `db:"address"`
	TargetNumber uint64  `db:"target_number"`
}

// Trail records reorg and rollback events for later inspection. A nil
// *Trail is valid and every method on it is a no-op, so audit recording can
// be wired in without every caller branching on whether it is configured.
type Trail struct {
	db *DB
}

// NewTrail constructs a Trail backed by db. Passing a nil db yields a Trail
// whose methods are no-ops.
func NewTrail(db *DB) *Trail {
	return &Trail{db: db}
}

// RecordReorg inserts a reorg event, satisfying the ingest engine's
// AuditSink interface. Use InsertReorg instead when the generated ID is
// needed to attach RollbackEvent rows.
func (t *Trail) RecordReorg(ctx context.Context, oldHead, ancestor, newHead uint64) error {
	_, err := t.InsertReorg(ctx, oldHead, ancestor, newHead)
	return err
}

// InsertReorg inserts a reorg event and returns its generated ID, for use
// as the parent of any RollbackEvent rows it caused.
func (t *Trail) InsertReorg(ctx context.Context, oldHead, ancestor, newHead uint64) (int64, error) {
	if t == nil || t.db == nil {
		return 0, nil
	}

	var id int64
	err := t.db.GetContext(ctx, &id, `
		INSERT INTO reorg_events (detected_at, old_head_number, ancestor_number, new_head_number)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, time.Now(), oldHead, ancestor, newHead)
	if err != nil {
		return 0, fmt.Errorf("audit: record reorg: %w", err)
	}
	return id, nil
}

// RecordRollback inserts a rollback event tied to reorgID.
func (t *Trail) RecordRollback(ctx context.Context, reorgID int64, address string, target uint64) error {
	if t == nil || t.db == nil {
		return nil
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO rollback_events (reorg_id, occurred_at, address, target_number)
		VALUES ($1, $2, $3, $4)
	`, reorgID, time.Now(), address, target)
	if err != nil {
		return fmt.Errorf("audit: record rollback: %w", err)
	}
	return nil
}

// RecentReorgs returns the limit most recent reorg events, newest first.
func (t *Trail) RecentReorgs(ctx context.Context, limit int) ([]ReorgEvent, error) {
	if t == nil || t.db == nil {
		return nil, nil
	}

	var events []ReorgEvent
	err := t.db.SelectContext(ctx, &events, `
		SELECT id, detected_at, old_head_number, ancestor_number, new_head_number
		FROM reorg_events
		ORDER BY detected_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent reorgs: %w", err)
	}
	return events, nil
}

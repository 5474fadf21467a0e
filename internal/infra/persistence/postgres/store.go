// Package postgres stores snapshot slots in Postgres through the pgx
// database/sql driver. Each slot is one row keyed by (snapshot, slot).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"clonecore/internal/snapshot"
)

var _ snapshot.Backend = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/clonecore?sslmode=disable"
)

const (
	ddl = `CREATE TABLE IF NOT EXISTS snapshot_slots (
		snapshot TEXT NOT NULL,
		slot TEXT NOT NULL,
		payload BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (snapshot, slot)
	)`
	deleteSnapshotSQL = `DELETE FROM snapshot_slots WHERE snapshot = $1`
	insertSlotSQL     = `INSERT INTO snapshot_slots (snapshot, slot, payload) VALUES ($1, $2, $3)`
	selectSlotSQL     = `SELECT payload FROM snapshot_slots WHERE snapshot = $1 AND slot = $2`
	listSnapshotsSQL  = `SELECT DISTINCT snapshot FROM snapshot_slots ORDER BY snapshot`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a snapshot.Backend on Postgres.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens dsn (falling back to a local default), checks the
// connection and creates the slot table when missing.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure snapshot table: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// WriteSnapshot replaces every slot of name in one transaction.
func (s *Store) WriteSnapshot(ctx context.Context, name string, slots map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, deleteSnapshotSQL, name); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	for _, slot := range sortedSlots(slots) {
		if _, err := tx.ExecContext(ctx, insertSlotSQL, name, slot, slots[slot]); err != nil {
			return fmt.Errorf("insert %s/%s: %w", name, slot, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// ReadSlot returns one slot payload.
func (s *Store) ReadSlot(ctx context.Context, name, slot string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, selectSlotSQL, name, slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", name, slot, snapshot.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", name, slot, err)
	}
	return payload, nil
}

// List returns the stored snapshot names.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listSnapshotsSQL)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan snapshot name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return names, nil
}

// Delete removes every slot of name.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, deleteSnapshotSQL, name)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func sortedSlots(slots map[string][]byte) []string {
	out := make([]string, 0, len(slots))
	for slot := range slots {
		out = append(out, slot)
	}
	sort.Strings(out)
	return out
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

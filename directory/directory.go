// Package directory persists a bootstrap address book for a BASP node:
// which node IDs have been seen at which network address, so a process
// restarting cold has somewhere to dial instead of relying purely on
// live gossip through the protocol itself. It is deliberately outside
// the protocol core — an Instance never imports this package, it is
// wired in by whatever owns the broker and decides who to dial.
//
// Grounded on the teacher's Cluster/SQLDB pairing: same interface
// shape for testability, same upsert-then-poll structure, aimed at a
// much smaller table (no leases, no epochs — a node's address is
// either recently seen or it isn't).
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQLDB abstracts database operations for testability. *sql.DB
// satisfies this interface natively.
type SQLDB interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open connects to a Postgres address book database via pgx's
// database/sql driver and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("directory: open: %w", err)
	}
	if err := MigrateSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// MigrateSchema creates the peers table if it does not exist. Safe to
// call on every startup.
func MigrateSchema(ctx context.Context, db SQLDB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS basp_peers (
	node_id       TEXT PRIMARY KEY,
	address       TEXT NOT NULL,
	app_identifier TEXT NOT NULL,
	last_seen     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_basp_peers_last_seen ON basp_peers (last_seen);
`
	_, err := db.ExecContext(ctx, ddl)
	return err
}

// PeerRecord is one row of the address book.
type PeerRecord struct {
	NodeID        string
	Address       string
	AppIdentifier string
	LastSeen      time.Time
}

// Store is a Postgres-backed address book.
type Store struct {
	db SQLDB
}

func NewStore(db SQLDB) *Store {
	return &Store{db: db}
}

// Remember upserts node's last-known address, bumping last_seen to
// now, so a future cold start has this peer to dial. cmd/basp-demo
// calls it for a peer it dialed, once the handshake has resolved the
// connection to a node.
func (s *Store) Remember(ctx context.Context, nodeID, address, appIdentifier string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO basp_peers (node_id, address, app_identifier, last_seen)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (node_id) DO UPDATE
			SET address = EXCLUDED.address,
			    app_identifier = EXCLUDED.app_identifier,
			    last_seen = now()
	`, nodeID, address, appIdentifier)
	if err != nil {
		return fmt.Errorf("directory: remember %s: %w", nodeID, err)
	}
	return nil
}

// Forget removes node from the address book so stale entries do not
// accumulate. cmd/basp-demo calls it from its Callee's PurgeState,
// i.e. whenever the instance purges that node's state.
func (s *Store) Forget(ctx context.Context, nodeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM basp_peers WHERE node_id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("directory: forget %s: %w", nodeID, err)
	}
	return nil
}

// Bootstrap returns every peer for appIdentifier last seen within
// maxAge, most recently seen first — the dial list a cold-starting
// process should attempt.
func (s *Store) Bootstrap(ctx context.Context, appIdentifier string, maxAge time.Duration) ([]PeerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, address, app_identifier, last_seen
		FROM basp_peers
		WHERE app_identifier = $1 AND last_seen > now() - $2::interval
		ORDER BY last_seen DESC
	`, appIdentifier, fmt.Sprintf("%d seconds", int64(maxAge.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("directory: bootstrap: %w", err)
	}
	defer rows.Close()

	var out []PeerRecord
	for rows.Next() {
		var p PeerRecord
		if err := rows.Scan(&p.NodeID, &p.Address, &p.AppIdentifier, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("directory: bootstrap scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is the slice of pgx needed to insert an entry. Satisfied by both
// *pgxpool.Pool and pgx.Tx, so entries can join a caller's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists entries in the audit_logs table. The store exposes no update
// or delete path; retention is handled outside this system.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by the shared pool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("audit store requires pool")
	}
	return &Store{pool: pool}
}

// Record appends one entry using the shared pool.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	return Insert(ctx, s.pool, stamp(ctx, entry))
}

// Insert appends one entry through q, which may be an open transaction. Ledger
// writes use this so the audit row commits atomically with the mutation it
// describes.
func Insert(ctx context.Context, q Execer, entry Entry) error {
	if entry.Action == "" {
		return errors.New("audit entry requires action")
	}
	if entry.ActorID == "" {
		return errors.New("audit entry requires actor")
	}

	oldJSON, err := marshalValues(entry.OldValues)
	if err != nil {
		return fmt.Errorf("encode old values: %w", err)
	}
	newJSON, err := marshalValues(entry.NewValues)
	if err != nil {
		return fmt.Errorf("encode new values: %w", err)
	}

	entry = stamp(ctx, entry)

	_, err = q.Exec(ctx, `
        INSERT INTO audit_logs
            (actor_id, action, entity_type, entity_id, tenant_id, old_values, new_values, ip_address, user_agent, created_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
    `,
		entry.ActorID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.TenantID,
		oldJSON,
		newJSON,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func marshalValues(values map[string]any) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}

var _ Emitter = (*Store)(nil)

// Package replicaid resolves the stable ReplicaId a sync engine instance
// identifies itself with: the configured override if one is set, otherwise a
// UUID minted once on first run and persisted alongside the operation log
// (SPEC_FULL.md supplemented feature #3, grounded on the original Rust
// implementation's "generate a UUID once if none configured" behavior).
package replicaid

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

// Resolve returns configured if non-empty (spec.md §6 "replica_id: overrides
// generated id; must be stable"). Otherwise it reads the persisted id from
// db's replica_identity table; if none exists yet, it mints one and persists
// it so every subsequent process start sees the same id.
func Resolve(ctx context.Context, db *sql.DB, configured string) (vclock.ReplicaId, error) {
	if configured != "" {
		return vclock.ReplicaId(configured), nil
	}

	var existing string
	err := db.QueryRowContext(ctx, `SELECT replica_id FROM replica_identity WHERE id = 1`).Scan(&existing)
	switch {
	case err == nil:
		return vclock.ReplicaId(existing), nil
	case err == sql.ErrNoRows:
		minted := uuid.NewString()
		if _, err := db.ExecContext(ctx,
			`INSERT INTO replica_identity(id, replica_id) VALUES (1, ?)`, minted); err != nil {
			return "", syncop.Wrap(syncop.KindDurability, "replicaid.Resolve", err)
		}
		return vclock.ReplicaId(minted), nil
	default:
		return "", syncop.Wrap(syncop.KindDurability, "replicaid.Resolve", err)
	}
}

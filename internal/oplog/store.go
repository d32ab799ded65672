// Package oplog implements C3: a durable, append-mostly store of Operations
// backed by a relational table (spec.md §4.3, §6). It is modeled on the
// teacher's dag.go kvdb/kvtable open/close abstraction, adapted to a real
// SQL backend (modernc.org/sqlite) per spec.md §6's relational schema.
package oplog

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ordokr/lms-syncd/internal/syncop"
	"github.com/ordokr/lms-syncd/internal/vclock"
)

// Store is the durable Operation Log. Callers that must apply a domain
// mutation in the same transaction as the log append (spec.md §4.6
// "queue_local" step 4) use Begin/AppendTx directly; everything else uses
// the single-statement convenience methods.
//
// PruneLock guards the invariant in spec.md §5 "Pruning never runs while
// apply_batch is in flight": the engine takes PruneLock.RLock for the
// duration of ApplyBatch, and the pruner takes PruneLock.Lock for the
// duration of a pruning pass.
type Store struct {
	db        *sql.DB
	PruneLock sync.RWMutex
}

// Open opens (creating if necessary) the sqlite-backed operation log at
// path and brings its schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, syncop.Wrap(syncop.KindDurability, "oplog.Open", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, matches a single-engine-per-replica process
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for domain repositories that must share
// a transaction with a log append.
func (s *Store) DB() *sql.DB { return s.db }

// Begin starts a transaction for a caller that needs to append an Operation
// and mutate domain tables atomically.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncop.Wrap(syncop.KindDurability, "oplog.Begin", err)
	}
	return tx, nil
}

// Append persists op in its own transaction. It is idempotent on op_id: a
// duplicate append is a silent no-op (spec.md §4.3 "append(op): idempotent
// on op_id").
func (s *Store) Append(ctx context.Context, op *syncop.Operation) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := AppendTx(ctx, tx, op); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return syncop.Wrap(syncop.KindDurability, "oplog.Append", err)
	}
	return nil
}

// AppendTx persists op within an existing transaction. See Append for the
// idempotence contract.
func AppendTx(ctx context.Context, tx *sql.Tx, op *syncop.Operation) error {
	vv := make(map[string]uint64, len(op.VV))
	for k, v := range op.VV {
		vv[string(k)] = v
	}
	vvJSON, err := syncop.EncodeVV(vv)
	if err != nil {
		return err
	}
	payload, err := op.Payload.Encode()
	if err != nil {
		return err
	}

	var syncedAt interface{}
	if op.SyncedAt != nil {
		syncedAt = op.SyncedAt.UnixNano()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_operations
			(op_id, origin, actor_id, kind, entity_type, entity_id, payload, wall_time, vv, synced, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(op_id) DO NOTHING`,
		op.ID, string(op.Origin), op.ActorID, int(op.Kind), op.Entity.Type, op.Entity.ID,
		payload, op.WallTime.UnixNano(), vvJSON, boolToInt(op.Synced), syncedAt,
	)
	if err != nil {
		return syncop.Wrap(syncop.KindDurability, "oplog.AppendTx", err)
	}
	return nil
}

// Pending returns up to limit unsynced Operations ordered by wall_time then
// (origin, vv[origin]) as a tie-breaker (spec.md §4.3 "pending").
func (s *Store) Pending(ctx context.Context, limit int) ([]*syncop.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op_id, origin, actor_id, kind, entity_type, entity_id, payload, wall_time, vv, synced, synced_at
		FROM sync_operations
		WHERE synced = 0
		ORDER BY wall_time ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, syncop.Wrap(syncop.KindDurability, "oplog.Pending", err)
	}
	defer rows.Close()

	ops, err := scanOperations(rows)
	if err != nil {
		return nil, err
	}

	// wall_time is a tie-breaker only (spec.md §9 "Clock skew"); apply the
	// documented secondary sort of (origin, vv[origin]) deterministically
	// in memory rather than relying on SQL's JSON ordering.
	sort.SliceStable(ops, func(i, j int) bool {
		if !ops[i].WallTime.Equal(ops[j].WallTime) {
			return ops[i].WallTime.Before(ops[j].WallTime)
		}
		if ops[i].Origin != ops[j].Origin {
			return ops[i].Origin < ops[j].Origin
		}
		return ops[i].VV.Get(ops[i].Origin) < ops[j].VV.Get(ops[j].Origin)
	})
	return ops, nil
}

// MarkSynced flips synced/synced_at for the given op_ids in a single
// transaction (spec.md §4.3 "mark_synced").
func (s *Store) MarkSynced(ctx context.Context, opIDs []string, ts int64) error {
	if len(opIDs) == 0 {
		return nil
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE sync_operations SET synced = 1, synced_at = ? WHERE op_id = ?`)
	if err != nil {
		tx.Rollback()
		return syncop.Wrap(syncop.KindDurability, "oplog.MarkSynced", err)
	}
	defer stmt.Close()
	for _, id := range opIDs {
		if _, err := stmt.ExecContext(ctx, ts, id); err != nil {
			tx.Rollback()
			return syncop.Wrap(syncop.KindDurability, "oplog.MarkSynced", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return syncop.Wrap(syncop.KindDurability, "oplog.MarkSynced", err)
	}
	return nil
}

// FindSiblings returns every Operation recorded for (entityType, entityID),
// used by the Conflict Detector when integrating a remote op (spec.md §4.3
// "find_siblings").
func (s *Store) FindSiblings(ctx context.Context, entityType, entityID string) ([]*syncop.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op_id, origin, actor_id, kind, entity_type, entity_id, payload, wall_time, vv, synced, synced_at
		FROM sync_operations
		WHERE entity_type = ? AND entity_id = ?`, entityType, entityID)
	if err != nil {
		return nil, syncop.Wrap(syncop.KindDurability, "oplog.FindSiblings", err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

// Get returns a single Operation by id, or (nil, nil) if it does not exist.
func (s *Store) Get(ctx context.Context, opID string) (*syncop.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op_id, origin, actor_id, kind, entity_type, entity_id, payload, wall_time, vv, synced, synced_at
		FROM sync_operations WHERE op_id = ?`, opID)
	if err != nil {
		return nil, syncop.Wrap(syncop.KindDurability, "oplog.Get", err)
	}
	defer rows.Close()
	ops, err := scanOperations(rows)
	if err != nil || len(ops) == 0 {
		return nil, err
	}
	return ops[0], nil
}

// Has reports whether op_id already exists in the log, used by ApplyBatch's
// idempotent-duplicate check (spec.md §4.6 step 1).
func (s *Store) Has(ctx context.Context, opID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sync_operations WHERE op_id = ?`, opID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, syncop.Wrap(syncop.KindDurability, "oplog.Has", err)
	}
	return true, nil
}

// Delete removes an Operation. Only the pruning protocol (spec.md §5) may
// call this.
func (s *Store) Delete(ctx context.Context, opID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_operations WHERE op_id = ?`, opID); err != nil {
		return syncop.Wrap(syncop.KindDurability, "oplog.Delete", err)
	}
	return nil
}

// MaxVVByOrigin aggregates, for every replica key appearing in any stored
// vv, the maximum counter recorded for it across all Operations in the log,
// whatever their origin (the pointwise max of every stored vv). The Sync
// Engine uses this at startup to rebuild its in-memory VV so that freshly
// incremented counters never collide with historical ones (spec.md §4.3
// "Startup invariant").
func (s *Store) MaxVVByOrigin(ctx context.Context) (vclock.Vector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT origin, vv FROM sync_operations`)
	if err != nil {
		return nil, syncop.Wrap(syncop.KindDurability, "oplog.MaxVVByOrigin", err)
	}
	defer rows.Close()

	out := vclock.New()
	for rows.Next() {
		var origin, vvJSON string
		if err := rows.Scan(&origin, &vvJSON); err != nil {
			return nil, syncop.Wrap(syncop.KindDurability, "oplog.MaxVVByOrigin", err)
		}
		vv, err := syncop.DecodeVV([]byte(vvJSON))
		if err != nil {
			// A corrupted vv column is an internal invariant violation, not
			// a recoverable serialization error on a single inbound op.
			return nil, syncop.Wrap(syncop.KindInternal, "oplog.MaxVVByOrigin", err)
		}
		for replica, counter := range vv {
			if counter > out[vclock.ReplicaId(replica)] {
				out[vclock.ReplicaId(replica)] = counter
			}
		}
		_ = origin
	}
	if err := rows.Err(); err != nil {
		return nil, syncop.Wrap(syncop.KindDurability, "oplog.MaxVVByOrigin", err)
	}
	return out, nil
}

func scanOperations(rows *sql.Rows) ([]*syncop.Operation, error) {
	var ops []*syncop.Operation
	for rows.Next() {
		var (
			opID, origin, actorID, entityType, entityID, vvJSON string
			kind                                                 int
			payload                                              []byte
			wallTimeNanos                                        int64
			syncedInt                                            int
			syncedAt                                             sql.NullInt64
		)
		if err := rows.Scan(&opID, &origin, &actorID, &kind, &entityType, &entityID,
			&payload, &wallTimeNanos, &vvJSON, &syncedInt, &syncedAt); err != nil {
			return nil, syncop.Wrap(syncop.KindDurability, "oplog.scanOperations", err)
		}

		p, err := syncop.DecodePayload(payload)
		if err != nil {
			return nil, err
		}
		vvMap, err := syncop.DecodeVV([]byte(vvJSON))
		if err != nil {
			return nil, syncop.Wrap(syncop.KindInternal, "oplog.scanOperations", err)
		}
		vv := vclock.New()
		for k, v := range vvMap {
			vv[vclock.ReplicaId(k)] = v
		}

		op := &syncop.Operation{
			ID:      opID,
			Origin:  vclock.ReplicaId(origin),
			ActorID: actorID,
			Kind:    syncop.Kind(kind),
			Entity:  syncop.EntityRef{Type: entityType, ID: entityID},
			Payload: p,
			VV:      vv,
			Synced:  syncedInt != 0,
		}
		op.WallTime = timeFromUnixNano(wallTimeNanos)
		if syncedAt.Valid {
			t := timeFromUnixNano(syncedAt.Int64)
			op.SyncedAt = &t
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, syncop.Wrap(syncop.KindDurability, "oplog.scanOperations", err)
	}
	return ops, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

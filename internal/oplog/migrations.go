package oplog

// Schema and migration runner modeled on untoldecay-BeadsLog's
// internal/storage/sqlite schema.go + migrations package: an embedded SQL
// string per version, applied in order and tracked in a schema_version
// table, rather than pulling in a full migration framework (goose) for what
// is, so far, two migrations.

import (
	"database/sql"

	"github.com/ordokr/lms-syncd/internal/syncop"
)

// migrations are applied in order starting from the current schema_version.
// Each entry's index+1 is its version number.
var migrations = []string{
	// v1: sync_operations table + the two indices spec.md §6 requires, plus
	// a third on (origin, wall_time) per spec.md §6's index list.
	`
	CREATE TABLE IF NOT EXISTS sync_operations (
		op_id       TEXT PRIMARY KEY,
		origin      TEXT NOT NULL,
		actor_id    TEXT NOT NULL,
		kind        INTEGER NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		payload     BLOB NOT NULL,
		wall_time   INTEGER NOT NULL,
		vv          TEXT NOT NULL,
		synced      INTEGER NOT NULL DEFAULT 0,
		synced_at   INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sync_operations_synced_walltime
		ON sync_operations(synced, wall_time);
	CREATE INDEX IF NOT EXISTS idx_sync_operations_entity
		ON sync_operations(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_sync_operations_origin_walltime
		ON sync_operations(origin, wall_time);
	`,
	// v2: replica identity persistence (internal/replicaid), kept in the
	// same database file so a fresh node mints exactly one stable id.
	`
	CREATE TABLE IF NOT EXISTS replica_identity (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		replica_id TEXT NOT NULL
	);
	`,
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return syncop.Wrap(syncop.KindDurability, "oplog.migrate", err)
	}

	var current int
	row := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	if err := row.Scan(&current); err == sql.ErrNoRows {
		current = 0
	} else if err != nil {
		return syncop.Wrap(syncop.KindDurability, "oplog.migrate", err)
	}

	for i := current; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return syncop.Wrap(syncop.KindDurability, "oplog.migrate", err)
		}
	}

	if current == 0 {
		_, err := db.Exec(`INSERT INTO schema_version(version) VALUES (?)`, len(migrations))
		if err != nil {
			return syncop.Wrap(syncop.KindDurability, "oplog.migrate", err)
		}
	} else if len(migrations) > current {
		_, err := db.Exec(`UPDATE schema_version SET version = ?`, len(migrations))
		if err != nil {
			return syncop.Wrap(syncop.KindDurability, "oplog.migrate", err)
		}
	}
	return nil
}

package store

import (
	"database/sql"
	"fmt"

	"evidencelab/internal/logging"
)

// Schema versions:
// v1: sessions, evidence_chunks, outputs, messages
// v2: evidence_chunks.extraction_reasoning, messages.reasoning
const CurrentSchemaVersion = 2

// Migration adds a column that older databases lack.
type Migration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []Migration{
	{"evidence_chunks", "extraction_reasoning", "TEXT NOT NULL DEFAULT ''"},
	{"evidence_chunks", "hypothesis_relevance", "TEXT"},
	{"messages", "reasoning", "TEXT"},
	{"messages", "action_type", "TEXT"},
}

// RunMigrations brings an existing database up to CurrentSchemaVersion.
// Missing tables are skipped; a failed ALTER is logged and skipped.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) || columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("Migration failed: %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_versions: %w", err)
	}
	if _, err := db.Exec("INSERT OR IGNORE INTO schema_versions (version) VALUES (?)", CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	logging.StoreDebug("Schema migrations complete: applied=%d", applied)
	return nil
}

// GetSchemaVersion returns the highest recorded schema version, 0 if none.
func GetSchemaVersion(db *sql.DB) int {
	if !tableExists(db, "schema_versions") {
		return 0
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version); err != nil {
		return 0
	}
	return version
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}

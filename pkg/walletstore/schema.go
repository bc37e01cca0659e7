package walletstore

import (
	"database/sql"
	"fmt"
)

// Schema version constants
const (
	// SchemaVersion1 creates the index and record tables
	SchemaVersion1 = 1
	// SchemaVersion2 adds last_used to wallet_records for stale-wallet queries
	SchemaVersion2 = 2
	// CurrentSchemaVersion is the current schema version
	CurrentSchemaVersion = SchemaVersion2
)

// getSchemaVersion returns the stored schema version, or 0 for an empty database.
func getSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("walletstore: failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("walletstore: failed to get schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// migrateSchema brings the database up to CurrentSchemaVersion. Every step
// is idempotent, so a crash mid-migration is repaired on the next open.
func migrateSchema(db *sql.DB) error {
	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	if version < SchemaVersion1 {
		if err := migrateToV1(db); err != nil {
			return fmt.Errorf("walletstore: migration to v1 failed: %w", err)
		}
	}
	if version < SchemaVersion2 {
		if err := migrateToV2(db); err != nil {
			return fmt.Errorf("walletstore: migration to v2 failed: %w", err)
		}
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS wallet_index (
			user_id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create wallet_index table: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS wallet_records (
			user_id TEXT NOT NULL,
			wallet_id TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (user_id, wallet_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create wallet_records table: %w", err)
	}

	if err := setSchemaVersion(tx, SchemaVersion1); err != nil {
		return err
	}
	return tx.Commit()
}

// migrateToV2 adds the last_used column. Existing rows keep NULL until the
// wallet is next used.
func migrateToV2(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	columns, err := getTableColumns(tx, "wallet_records")
	if err != nil {
		return fmt.Errorf("failed to get table columns: %w", err)
	}
	if !columns["last_used"] {
		if _, err := tx.Exec("ALTER TABLE wallet_records ADD COLUMN last_used TIMESTAMP"); err != nil {
			return fmt.Errorf("failed to add last_used column: %w", err)
		}
	}

	if err := setSchemaVersion(tx, SchemaVersion2); err != nil {
		return err
	}
	return tx.Commit()
}

func getTableColumns(tx *sql.Tx, tableName string) (map[string]bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

package walletstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/forest6511/botwallet/pkg/atomicfile"

	_ "modernc.org/sqlite"
)

// DBFileName is the default SQLite database name inside the wallets root.
const DBFileName = "wallets.db"

// SQLiteStore implements Store on a single SQLite database. The index and
// record documents use the same JSON encoding as FileStore, so both
// backends round-trip identical values.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (or creates) the database at path and applies schema
// migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := atomicfile.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("walletstore: failed to open database: %w", err)
	}
	// One connection keeps read-modify-write sequences serialized.
	db.SetMaxOpenConns(1)

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, atomicfile.FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("walletstore: failed to set database permissions: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.db, nil
}

// LoadIndex returns the user's index, or an empty one.
func (s *SQLiteStore) LoadIndex(userID string) (*Index, error) {
	if err := ValidateID(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var data []byte
	err = db.QueryRow("SELECT data FROM wallet_index WHERE user_id = ?", userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return &Index{Wallets: []IndexEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walletstore: failed to read index: %w", err)
	}
	return decodeIndex(data)
}

// SaveIndex upserts the user's index.
func (s *SQLiteStore) SaveIndex(userID string, idx *Index) error {
	if err := ValidateID(userID); err != nil {
		return err
	}
	data, err := encodeIndex(idx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO wallet_index (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, userID, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("walletstore: failed to save index: %w", err)
	}
	return nil
}

// LoadRecord reads one wallet record.
func (s *SQLiteStore) LoadRecord(userID, walletID string) (*Record, error) {
	if err := validateIDs(userID, walletID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return loadRecord(db, userID, walletID)
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func loadRecord(q queryer, userID, walletID string) (*Record, error) {
	var data []byte
	err := q.QueryRow("SELECT data FROM wallet_records WHERE user_id = ? AND wallet_id = ?",
		userID, walletID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("walletstore: failed to read wallet record: %w", err)
	}
	return decodeRecord(data, walletID)
}

// SaveRecord upserts rec under rec.ID.
func (s *SQLiteStore) SaveRecord(userID string, rec *Record) error {
	if err := validateIDs(userID, rec.ID); err != nil {
		return err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.Exec(upsertRecordSQL, userID, rec.ID, data, nullTime(rec.LastUsed)); err != nil {
		return fmt.Errorf("walletstore: failed to save wallet record: %w", err)
	}
	return nil
}

const upsertRecordSQL = `
	INSERT INTO wallet_records (user_id, wallet_id, data, last_used) VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, wallet_id) DO UPDATE SET data = excluded.data, last_used = excluded.last_used
`

// DeleteRecord removes one wallet record. A missing record is not an error.
func (s *SQLiteStore) DeleteRecord(userID, walletID string) error {
	if err := validateIDs(userID, walletID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.Exec("DELETE FROM wallet_records WHERE user_id = ? AND wallet_id = ?", userID, walletID); err != nil {
		return fmt.Errorf("walletstore: failed to delete wallet record: %w", err)
	}
	return nil
}

// RebuildIndex overwrites the user's index with one built from the
// stored records. Records that fail to decode are skipped and logged.
func (s *SQLiteStore) RebuildIndex(userID string) (*Index, error) {
	if err := ValidateID(userID); err != nil {
		return nil, err
	}
	recs, err := s.userRecords(userID)
	if err != nil {
		return nil, err
	}
	idx := indexFromRecords(recs)
	if err := s.SaveIndex(userID, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteStore) userRecords(userID string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT wallet_id, data FROM wallet_records WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("walletstore: failed to list wallet records: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var walletID string
		var data []byte
		if err := rows.Scan(&walletID, &data); err != nil {
			return nil, fmt.Errorf("walletstore: failed to scan wallet record: %w", err)
		}
		rec, err := decodeRecord(data, walletID)
		if err != nil {
			logx.Errorf("walletstore: skipping record %s while rebuilding index: %v", walletID, err)
			continue
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("walletstore: failed to list wallet records: %w", err)
	}
	return recs, nil
}

// TouchLastUsed updates lastUsed inside a single transaction.
func (s *SQLiteStore) TouchLastUsed(userID, walletID string, t time.Time) error {
	if err := validateIDs(userID, walletID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("walletstore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := loadRecord(tx, userID, walletID)
	if err != nil {
		return err
	}
	rec.LastUsed = t.UTC()
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(upsertRecordSQL, userID, walletID, data, nullTime(rec.LastUsed)); err != nil {
		return fmt.Errorf("walletstore: failed to update last used: %w", err)
	}
	return tx.Commit()
}

// Close closes the database. Further calls return ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func validateIDs(userID, walletID string) error {
	if err := ValidateID(userID); err != nil {
		return err
	}
	return ValidateID(walletID)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

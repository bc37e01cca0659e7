package walletstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/forest6511/botwallet/pkg/atomicfile"
)

// File names inside the wallets root.
const (
	IndexFileName    = "wallets.json"
	RecordFileSuffix = ".wallet.enc"
)

// FileStore keeps wallets on disk:
//
//	{root}/{userId}/wallets.json
//	{root}/{userId}/{walletId}.wallet.enc
//	{root}/{userId}.wallet.enc        (legacy single-wallet layout)
type FileStore struct {
	root string
}

// NewFileStore creates root if needed and returns a store over it.
func NewFileStore(root string) (*FileStore, error) {
	if err := atomicfile.EnsureDir(root); err != nil {
		return nil, err
	}
	s := &FileStore{root: root}
	s.checkAndWarnPermissions()
	return s, nil
}

// Root returns the wallets root directory.
func (s *FileStore) Root() string {
	return s.root
}

// UserDir returns the per-user directory.
func (s *FileStore) UserDir(userID string) (string, error) {
	if err := ValidateID(userID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, userID), nil
}

// WalletPath returns the record path for a wallet. Both ids are validated
// so neither can escape the user directory.
func (s *FileStore) WalletPath(userID, walletID string) (string, error) {
	dir, err := s.UserDir(userID)
	if err != nil {
		return "", err
	}
	if err := ValidateID(walletID); err != nil {
		return "", err
	}
	return filepath.Join(dir, walletID+RecordFileSuffix), nil
}

// IndexPath returns the path of the user's wallets.json.
func (s *FileStore) IndexPath(userID string) (string, error) {
	dir, err := s.UserDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, IndexFileName), nil
}

// LegacyPath returns the pre-multi-wallet record path for userID.
func LegacyPath(root, userID string) (string, error) {
	if err := ValidateID(userID); err != nil {
		return "", err
	}
	return filepath.Join(root, userID+RecordFileSuffix), nil
}

// LoadIndex returns the user's index, or an empty one if none exists yet.
func (s *FileStore) LoadIndex(userID string) (*Index, error) {
	path, err := s.IndexPath(userID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Index{Wallets: []IndexEntry{}}, nil
		}
		return nil, fmt.Errorf("walletstore: failed to read index: %w", err)
	}

	return decodeIndex(data)
}

// SaveIndex persists idx atomically, creating the user directory on demand.
func (s *FileStore) SaveIndex(userID string, idx *Index) error {
	path, err := s.IndexPath(userID)
	if err != nil {
		return err
	}
	data, err := encodeIndex(idx)
	if err != nil {
		return err
	}
	if err := atomicfile.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return atomicfile.WriteFile(path, data, atomicfile.FileMode)
}

// LoadRecord reads one wallet record.
func (s *FileStore) LoadRecord(userID, walletID string) (*Record, error) {
	path, err := s.WalletPath(userID, walletID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("walletstore: failed to read wallet record: %w", err)
	}

	return decodeRecord(data, walletID)
}

// SaveRecord persists rec atomically under rec.ID.
func (s *FileStore) SaveRecord(userID string, rec *Record) error {
	path, err := s.WalletPath(userID, rec.ID)
	if err != nil {
		return err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := atomicfile.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return atomicfile.WriteFile(path, data, atomicfile.FileMode)
}

// DeleteRecord removes one wallet record. A missing record is not an error.
func (s *FileStore) DeleteRecord(userID, walletID string) error {
	path, err := s.WalletPath(userID, walletID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("walletstore: failed to delete wallet record: %w", err)
	}
	return nil
}

// RebuildIndex moves wallets.json aside with CorruptSuffix and writes a
// new index from the record files in the user directory. Records that
// fail to decode are skipped and logged.
func (s *FileStore) RebuildIndex(userID string) (*Index, error) {
	path, err := s.IndexPath(userID)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(path, path+CorruptSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("walletstore: failed to move index aside: %w", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("walletstore: failed to list wallet records: %w", err)
	}

	var recs []*Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, RecordFileSuffix) {
			continue
		}
		rec, err := s.LoadRecord(userID, strings.TrimSuffix(name, RecordFileSuffix))
		if err != nil {
			logx.Errorf("walletstore: skipping record %s while rebuilding index: %v", name, err)
			continue
		}
		recs = append(recs, rec)
	}

	idx := indexFromRecords(recs)
	if err := s.SaveIndex(userID, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// TouchLastUsed rewrites the record with an updated lastUsed timestamp.
func (s *FileStore) TouchLastUsed(userID, walletID string, t time.Time) error {
	rec, err := s.LoadRecord(userID, walletID)
	if err != nil {
		return err
	}
	rec.LastUsed = t.UTC()
	return s.SaveRecord(userID, rec)
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// checkAndWarnPermissions logs when the wallets root is readable by others.
// This is advisory only and does not block operations.
func (s *FileStore) checkAndWarnPermissions() {
	info, err := os.Stat(s.root)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		logx.Errorf("wallets root %s has insecure permissions %04o (expected 0700)", s.root, perm)
	}
}

func decodeIndex(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if idx.Wallets == nil {
		idx.Wallets = []IndexEntry{}
	}
	if err := idx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	return &idx, nil
}

func encodeIndex(idx *Index) ([]byte, error) {
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	if idx.Wallets == nil {
		idx.Wallets = []IndexEntry{}
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("walletstore: failed to marshal index: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte, walletID string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if walletID != "" && rec.ID != walletID {
		return nil, fmt.Errorf("%w: id %q does not match %q", ErrCorruptRecord, rec.ID, walletID)
	}
	if err := rec.check(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func encodeRecord(rec *Record) ([]byte, error) {
	if err := rec.check(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("walletstore: failed to marshal wallet record: %w", err)
	}
	return data, nil
}

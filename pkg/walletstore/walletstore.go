// Package walletstore persists per-user wallet indexes and encrypted
// wallet records.
//
// Two backends implement Store: FileStore keeps one JSON index and one
// file per wallet under a root directory, and SQLiteStore keeps the same
// documents in a SQLite database. Both hand back plain values; nothing in
// this package ever sees decrypted key material.
package walletstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Identifier limits
const (
	MaxIDLength = 128
)

// Errors
var (
	ErrInvalidID      = errors.New("walletstore: id contains invalid characters")
	ErrWalletNotFound = errors.New("walletstore: wallet not found")
	ErrCorruptIndex   = errors.New("walletstore: wallet index is corrupted")
	ErrCorruptRecord  = errors.New("walletstore: wallet record is corrupted")
	ErrInvalidIndex   = errors.New("walletstore: active wallet is not listed in index")
	ErrStoreClosed    = errors.New("walletstore: store is closed")

	// ErrLegacyQuarantined wraps the decode error of a legacy wallet file
	// that was renamed with CorruptSuffix instead of being migrated.
	ErrLegacyQuarantined = errors.New("walletstore: unreadable legacy wallet moved aside")
)

// CorruptSuffix is appended to files moved aside because they cannot be decoded.
const CorruptSuffix = ".corrupt"

// Store is the persistence contract used by the wallet manager.
// Every Save must be durable before it returns.
type Store interface {
	LoadIndex(userID string) (*Index, error)
	SaveIndex(userID string, idx *Index) error
	LoadRecord(userID, walletID string) (*Record, error)
	SaveRecord(userID string, rec *Record) error
	DeleteRecord(userID, walletID string) error
	TouchLastUsed(userID, walletID string, t time.Time) error
	// RebuildIndex replaces an unreadable index with one listing every
	// decodable record, oldest first. The oldest wallet becomes active.
	RebuildIndex(userID string) (*Index, error)
	Close() error
}

// IndexEntry is the public summary of one wallet.
type IndexEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"createdAt"`
}

// Index lists a user's wallets in creation order.
type Index struct {
	ActiveWalletID string       `json:"activeWalletId"`
	Wallets        []IndexEntry `json:"wallets"`
}

// Find returns the position of walletID, or -1.
func (idx *Index) Find(walletID string) int {
	for i := range idx.Wallets {
		if idx.Wallets[i].ID == walletID {
			return i
		}
	}
	return -1
}

// HasAddress reports whether any listed wallet has addr (case-insensitive).
func (idx *Index) HasAddress(addr string) bool {
	for _, w := range idx.Wallets {
		if strings.EqualFold(w.Address, addr) {
			return true
		}
	}
	return false
}

// indexFromRecords lists recs in creation order. Records keep the name
// they were created with, so renames made after creation are lost.
func indexFromRecords(recs []*Record) *Index {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	idx := &Index{Wallets: make([]IndexEntry, 0, len(recs))}
	for _, rec := range recs {
		name := rec.Name
		if name == "" {
			name = fmt.Sprintf("Wallet %d", len(idx.Wallets)+1)
		}
		idx.Wallets = append(idx.Wallets, IndexEntry{
			ID:        rec.ID,
			Name:      name,
			Address:   rec.Address,
			CreatedAt: rec.CreatedAt,
		})
	}
	if len(idx.Wallets) > 0 {
		idx.ActiveWalletID = idx.Wallets[0].ID
	}
	return idx
}

// Validate checks that a non-empty active id references a listed wallet.
func (idx *Index) Validate() error {
	if idx.ActiveWalletID != "" && idx.Find(idx.ActiveWalletID) < 0 {
		return ErrInvalidIndex
	}
	return nil
}

// Record schedule versions.
const (
	// RecordVersionLegacy records use one derived key for every field.
	RecordVersionLegacy = 0
	// RecordVersionSplitKeys records encrypt each field under its own HKDF sub-key.
	RecordVersionSplitKeys = 2
)

// Record is the persisted form of one wallet. Ciphertexts carry the GCM
// tag appended.
type Record struct {
	ID                  string    `json:"id,omitempty"`
	Name                string    `json:"name,omitempty"`
	Address             string    `json:"address"`
	EncryptedPrivateKey HexBytes  `json:"encryptedPrivateKey"`
	EncryptedMnemonic   HexBytes  `json:"encryptedMnemonic,omitempty"`
	MnemonicIV          HexBytes  `json:"mnemonicIv,omitempty"`
	IV                  HexBytes  `json:"iv"`
	Salt                HexBytes  `json:"salt"`
	CreatedAt           time.Time `json:"createdAt"`
	LastUsed            time.Time `json:"lastUsed"`
	Version             int       `json:"version,omitempty"`
}

// HasMnemonic reports whether the record stores an encrypted recovery phrase.
func (r *Record) HasMnemonic() bool {
	return len(r.EncryptedMnemonic) > 0 && len(r.MnemonicIV) > 0
}

// check verifies the fields every record needs to be decryptable.
func (r *Record) check() error {
	switch {
	case r.Address == "":
		return fmt.Errorf("%w: missing address", ErrCorruptRecord)
	case len(r.EncryptedPrivateKey) == 0:
		return fmt.Errorf("%w: missing private key ciphertext", ErrCorruptRecord)
	case len(r.IV) == 0:
		return fmt.Errorf("%w: missing iv", ErrCorruptRecord)
	case len(r.Salt) == 0:
		return fmt.Errorf("%w: missing salt", ErrCorruptRecord)
	}
	return nil
}

// HexBytes is a byte slice stored as a lowercase hex string.
type HexBytes []byte

// MarshalText implements encoding.TextMarshaler.
func (h HexBytes) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(out, h)
	return out, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HexBytes) UnmarshalText(text []byte) error {
	out := make([]byte, hex.DecodedLen(len(text)))
	if _, err := hex.Decode(out, text); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	*h = out
	return nil
}

// ValidateID checks a user or wallet id against [A-Za-z0-9-].
// Ids end up in file paths, so anything else is rejected.
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength {
		return fmt.Errorf("%w: length must be 1-%d", ErrInvalidID, MaxIDLength)
	}
	for _, r := range id {
		if !isValidIDChar(r) {
			return fmt.Errorf("%w: '%c' is not allowed", ErrInvalidID, r)
		}
	}
	return nil
}

func isValidIDChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-'
}

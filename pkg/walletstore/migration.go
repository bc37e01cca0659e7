package walletstore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
)

// LegacyWalletName is the name given to a migrated single-wallet record.
const LegacyWalletName = "Wallet 1"

// Migrator upgrades the legacy single-wallet layout ({root}/{userId}.wallet.enc)
// into a multi-wallet index plus record held by store.
type Migrator struct {
	store Store
	root  string
	newID func() string
	now   func() time.Time
}

// NewMigrator returns a Migrator reading legacy files under root.
func NewMigrator(store Store, root string) *Migrator {
	return &Migrator{
		store: store,
		root:  root,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Migrate converts the user's legacy wallet if one exists. It reports
// whether a legacy file was found and consumed. A legacy file that cannot
// be decoded is renamed with CorruptSuffix so it no longer blocks the
// user, and the returned error matches ErrLegacyQuarantined.
//
// The record is saved before the index and the legacy file is removed
// last, so a crash at any step is repaired by the next call: if the index
// already lists the legacy address only the stale file is deleted.
func (m *Migrator) Migrate(userID string) (bool, error) {
	path, err := LegacyPath(m.root, userID)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("walletstore: failed to read legacy wallet: %w", err)
	}

	rec, err := decodeRecord(data, "")
	if err != nil {
		aside := path + CorruptSuffix
		if rerr := os.Rename(path, aside); rerr != nil {
			return false, fmt.Errorf("walletstore: legacy wallet: %w", err)
		}
		logx.Errorw("moved unreadable legacy wallet aside",
			logx.Field("user", userID),
			logx.Field("path", aside),
			logx.Field("error", err.Error()))
		return false, fmt.Errorf("%w to %s: %w", ErrLegacyQuarantined, aside, err)
	}

	idx, err := m.store.LoadIndex(userID)
	if err != nil {
		return false, err
	}

	if !idx.HasAddress(rec.Address) {
		rec.ID = m.newID()
		rec.Name = LegacyWalletName
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = m.now().UTC()
		}

		if err := m.store.SaveRecord(userID, rec); err != nil {
			return false, fmt.Errorf("walletstore: failed to save migrated wallet: %w", err)
		}

		idx.Wallets = append(idx.Wallets, IndexEntry{
			ID:        rec.ID,
			Name:      rec.Name,
			Address:   rec.Address,
			CreatedAt: rec.CreatedAt,
		})
		if idx.ActiveWalletID == "" {
			idx.ActiveWalletID = rec.ID
		}
		if err := m.store.SaveIndex(userID, idx); err != nil {
			return false, fmt.Errorf("walletstore: failed to save migrated index: %w", err)
		}

		logx.Infow("migrated legacy wallet",
			logx.Field("user", userID),
			logx.Field("wallet", rec.ID),
			logx.Field("address", rec.Address))
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true, fmt.Errorf("walletstore: failed to remove legacy wallet: %w", err)
	}
	return true, nil
}

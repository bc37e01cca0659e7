package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/crypto"
	"github.com/forest6511/botwallet/pkg/ratelimit"
)

// ExportPrivateKey returns the wallet's private key as 0x-prefixed hex.
// Exports share the export-key rate limit class.
func (m *Manager) ExportPrivateKey(ctx context.Context, userID, walletID string) (string, error) {
	if err := m.allow(ctx, ratelimit.ClassExportKey, audit.OpWalletExportKey, userID, walletID); err != nil {
		return "", err
	}

	unlock := m.lock(userID)
	defer unlock()

	s, err := m.signer(ctx, userID, walletID)
	if err != nil {
		m.record(ctx, audit.OpWalletExportKey, userID, walletID, err)
		return "", err
	}
	defer s.Wipe()

	s.mu.Lock()
	raw := ethcrypto.FromECDSA(s.key)
	s.mu.Unlock()
	defer crypto.SecureWipe(raw)

	m.record(ctx, audit.OpWalletExportKey, userID, s.walletID, nil)
	return hexutil.Encode(raw), nil
}

// ExportMnemonic returns the wallet's recovery phrase. ok is false for
// wallets created before phrases were stored.
func (m *Manager) ExportMnemonic(ctx context.Context, userID, walletID string) (phrase string, ok bool, err error) {
	if err := m.allow(ctx, ratelimit.ClassExportKey, audit.OpWalletExportMnemonic, userID, walletID); err != nil {
		return "", false, err
	}

	unlock := m.lock(userID)
	defer unlock()

	id := walletID
	defer func() {
		m.record(ctx, audit.OpWalletExportMnemonic, userID, id, err)
	}()

	idx, err := m.index(ctx, userID)
	if err != nil {
		return "", false, err
	}
	entry, err := resolve(idx, userID, walletID)
	if err != nil {
		return "", false, err
	}
	id = entry.ID

	rec, err := m.store.LoadRecord(userID, entry.ID)
	if err != nil {
		return "", false, m.storeError(userID, entry.ID, err)
	}
	return m.openMnemonic(ctx, userID, rec)
}

package wallet

import (
	"context"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/walletstore"
)

var integrityPayload = []byte("botwallet integrity check v1")

// IntegrityReport is the result of VerifyWalletIntegrity.
type IntegrityReport struct {
	Valid   bool
	Wallets []WalletIntegrity
}

// WalletIntegrity is the check result for one wallet.
type WalletIntegrity struct {
	ID          string
	Name        string
	Address     string
	OK          bool
	HasMnemonic bool
	Error       string
}

// VerifyWalletIntegrity decrypts every wallet of userID, checks it
// against its stored address and proves it can sign. Nothing is written.
func (m *Manager) VerifyWalletIntegrity(ctx context.Context, userID string) (*IntegrityReport, error) {
	unlock := m.lock(userID)
	defer unlock()

	idx, err := m.index(ctx, userID)
	if err != nil {
		m.record(ctx, audit.OpWalletVerify, userID, "", err)
		return nil, err
	}
	if len(idx.Wallets) == 0 {
		err := noWallet(userID)
		m.record(ctx, audit.OpWalletVerify, userID, "", err)
		return nil, err
	}

	report := &IntegrityReport{Valid: true}
	failed := 0
	for _, entry := range idx.Wallets {
		w := WalletIntegrity{ID: entry.ID, Name: entry.Name, Address: entry.Address}
		hasMnemonic, err := m.checkWallet(ctx, userID, entry)
		w.HasMnemonic = hasMnemonic
		if err != nil {
			w.Error = err.Error()
			report.Valid = false
			failed++
		} else {
			w.OK = true
		}
		report.Wallets = append(report.Wallets, w)
	}

	m.recordFields(ctx, audit.OpWalletVerify, userID, "", nil, map[string]any{
		"wallets": len(idx.Wallets),
		"failed":  failed,
	})
	return report, nil
}

func (m *Manager) checkWallet(ctx context.Context, userID string, entry walletstore.IndexEntry) (bool, error) {
	rec, err := m.store.LoadRecord(userID, entry.ID)
	if err != nil {
		return false, m.storeError(userID, entry.ID, err)
	}
	hasMnemonic := rec.HasMnemonic()

	key, err := m.openPrivateKey(ctx, userID, rec)
	if err != nil {
		return hasMnemonic, err
	}
	s := newSigner(entry.ID, key, m.backend)
	defer s.Wipe()

	if !sameAddress(s.address, entry.Address) {
		return hasMnemonic, &CorruptionError{WalletID: entry.ID, Err: errAddressMismatch}
	}
	if err := s.selfTest(integrityPayload); err != nil {
		return hasMnemonic, &CorruptionError{WalletID: entry.ID, Err: err}
	}

	if !hasMnemonic {
		return false, nil
	}
	if rec.Version != walletstore.RecordVersionSplitKeys {
		// Legacy records may hold a phrase from another derivation path.
		return true, nil
	}
	phrase, _, err := m.openMnemonic(ctx, userID, rec)
	if err != nil {
		return true, err
	}
	derived, err := KeyFromMnemonic(phrase)
	if err != nil {
		return true, &CorruptionError{WalletID: entry.ID, Err: err}
	}
	defer wipeKey(derived)
	if ethcrypto.PubkeyToAddress(derived.PublicKey) != s.address {
		return true, &CorruptionError{WalletID: entry.ID, Err: errors.New("mnemonic does not derive the wallet address")}
	}
	return true, nil
}

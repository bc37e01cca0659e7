package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/chain"
)

// ErrSignerWiped is returned by a Signer after Wipe.
var ErrSignerWiped = errors.New("wallet: signer has been wiped")

// Signer holds one decrypted wallet key bound to a chain backend. Callers
// should Wipe it as soon as the operation that needed it is done.
type Signer struct {
	walletID string
	address  common.Address
	backend  chain.Backend

	mu  sync.Mutex
	key *ecdsa.PrivateKey
}

func newSigner(walletID string, key *ecdsa.PrivateKey, backend chain.Backend) *Signer {
	return &Signer{
		walletID: walletID,
		address:  ethcrypto.PubkeyToAddress(key.PublicKey),
		backend:  backend,
		key:      key,
	}
}

// GetSigner decrypts a wallet and returns a Signer for it. An empty
// walletID selects the active wallet. The record's lastUsed is updated.
func (m *Manager) GetSigner(ctx context.Context, userID, walletID string) (*Signer, error) {
	unlock := m.lock(userID)
	defer unlock()

	s, err := m.signer(ctx, userID, walletID)
	id := walletID
	if s != nil {
		id = s.walletID
	}
	m.record(ctx, audit.OpWalletSigner, userID, id, err)
	return s, err
}

// signer is GetSigner for callers already holding the user lock.
func (m *Manager) signer(ctx context.Context, userID, walletID string) (*Signer, error) {
	idx, err := m.index(ctx, userID)
	if err != nil {
		return nil, err
	}
	entry, err := resolve(idx, userID, walletID)
	if err != nil {
		return nil, err
	}

	rec, err := m.store.LoadRecord(userID, entry.ID)
	if err != nil {
		return nil, m.storeError(userID, entry.ID, err)
	}
	key, err := m.openPrivateKey(ctx, userID, rec)
	if err != nil {
		return nil, err
	}
	if !sameAddress(ethcrypto.PubkeyToAddress(key.PublicKey), entry.Address) {
		wipeKey(key)
		return nil, &CorruptionError{WalletID: entry.ID, Err: errAddressMismatch}
	}

	if err := m.store.TouchLastUsed(userID, entry.ID, m.now().UTC()); err != nil {
		wipeKey(key)
		return nil, m.storeError(userID, entry.ID, err)
	}
	return newSigner(entry.ID, key, m.backend), nil
}

// Address returns the wallet's address.
func (s *Signer) Address() common.Address { return s.address }

// WalletID returns the id of the wallet the key belongs to.
func (s *Signer) WalletID() string { return s.walletID }

// Balance returns the wallet's balance in wei.
func (s *Signer) Balance(ctx context.Context) (*big.Int, error) {
	return s.backend.BalanceAt(ctx, s.address)
}

// SignMessage signs msg with the EIP-191 personal message prefix. The
// recovery id is returned as 27 or 28.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrSignerWiped
	}

	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, err
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Verify reports whether sig is this wallet's signature over msg.
func (s *Signer) Verify(msg, sig []byte) bool {
	return VerifySignature(s.address, msg, sig)
}

// SendTransaction transfers value wei to the given address.
func (s *Signer) SendTransaction(ctx context.Context, to common.Address, value *big.Int) (chain.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrSignerWiped
	}
	return s.backend.SendTransaction(ctx, s.key, to, value)
}

// Call runs a read-only contract call from this wallet's address.
func (s *Signer) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return s.backend.Call(ctx, s.address, to, data)
}

// Wipe zeroes the key. Later signing calls return ErrSignerWiped.
func (s *Signer) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	wipeKey(s.key)
	s.key = nil
}

// selfTest signs and recovers a fixed payload.
func (s *Signer) selfTest(payload []byte) error {
	sig, err := s.SignMessage(payload)
	if err != nil {
		return err
	}
	if !s.Verify(payload, sig) {
		return errors.New("signature does not recover to wallet address")
	}
	return nil
}

// VerifySignature reports whether sig is addr's EIP-191 signature over
// msg. Recovery ids 0/1 and 27/28 are both accepted.
func VerifySignature(addr common.Address, msg, sig []byte) bool {
	if len(sig) != ethcrypto.SignatureLength {
		return false
	}
	s := append([]byte(nil), sig...)
	if s[ethcrypto.RecoveryIDOffset] >= 27 {
		s[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == addr
}

package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/forest6511/botwallet/pkg/crypto"
	"github.com/forest6511/botwallet/pkg/walletstore"
)

// DerivationPath is the BIP-44 path of the first Ethereum account.
const DerivationPath = "m/44'/60'/0'/0/0"

// MnemonicEntropyBits yields a 12-word phrase.
const MnemonicEntropyBits = 128

var bip44Path = []uint32{
	hdkeychain.HardenedKeyStart + 44,
	hdkeychain.HardenedKeyStart + 60,
	hdkeychain.HardenedKeyStart + 0,
	0,
	0,
}

var errAddressMismatch = errors.New("decrypted key does not match stored address")

// newKeyMaterial generates a fresh recovery phrase and the account key it
// derives.
func newKeyMaterial() (string, *ecdsa.PrivateKey, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", nil, fmt.Errorf("wallet: failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	crypto.SecureWipe(entropy)
	if err != nil {
		return "", nil, fmt.Errorf("wallet: failed to generate mnemonic: %w", err)
	}
	key, err := KeyFromMnemonic(mnemonic)
	if err != nil {
		return "", nil, err
	}
	return mnemonic, key, nil
}

// KeyFromMnemonic derives the DerivationPath key of a BIP-39 phrase with
// an empty passphrase.
func KeyFromMnemonic(mnemonic string) (*ecdsa.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(mnemonic), "")
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid mnemonic: %w", err)
	}
	defer crypto.SecureWipe(seed)

	ext, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("wallet: failed to create master key: %w", err)
	}
	for _, i := range bip44Path {
		if ext, err = ext.Derive(i); err != nil {
			return nil, fmt.Errorf("wallet: failed to derive %s: %w", DerivationPath, err)
		}
	}

	priv, err := ext.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: failed to extract private key: %w", err)
	}
	raw := priv.Serialize()
	defer crypto.SecureWipe(raw)
	return ethcrypto.ToECDSA(raw)
}

// fieldKeys returns the keys for the private key and mnemonic fields of
// rec. Legacy records use one key, bound to the user only, for both.
func (m *Manager) fieldKeys(ctx context.Context, userID string, rec *walletstore.Record) (pkKey, mnKey []byte, err error) {
	switch rec.Version {
	case walletstore.RecordVersionLegacy:
		key, err := m.deriver.Derive(ctx, m.master, userID, "", rec.Salt)
		if err != nil {
			return nil, nil, err
		}
		return key, key, nil
	case walletstore.RecordVersionSplitKeys:
		key, err := m.deriver.Derive(ctx, m.master, userID, rec.ID, rec.Salt)
		if err != nil {
			return nil, nil, err
		}
		defer crypto.SecureWipe(key)
		return crypto.SplitKey(key)
	default:
		return nil, nil, &CorruptionError{WalletID: rec.ID, Err: fmt.Errorf("unknown record version %d", rec.Version)}
	}
}

// seal encrypts a new wallet's secrets into a record. The private key and
// the mnemonic get independent sub-keys and nonces.
func (m *Manager) seal(ctx context.Context, userID, walletID string, key *ecdsa.PrivateKey, mnemonic string) (*walletstore.Record, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	rec := &walletstore.Record{
		ID:      walletID,
		Address: ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:    salt,
		Version: walletstore.RecordVersionSplitKeys,
	}

	pkKey, mnKey, err := m.fieldKeys(ctx, userID, rec)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(pkKey)
	defer crypto.SecureWipe(mnKey)

	raw := ethcrypto.FromECDSA(key)
	defer crypto.SecureWipe(raw)
	if rec.EncryptedPrivateKey, rec.IV, err = crypto.Encrypt(pkKey, raw); err != nil {
		return nil, fmt.Errorf("wallet: failed to encrypt private key: %w", err)
	}

	phrase := []byte(mnemonic)
	defer crypto.SecureWipe(phrase)
	if rec.EncryptedMnemonic, rec.MnemonicIV, err = crypto.Encrypt(mnKey, phrase); err != nil {
		return nil, fmt.Errorf("wallet: failed to encrypt mnemonic: %w", err)
	}

	return rec, nil
}

// openPrivateKey decrypts rec's private key and checks it against the
// stored address. Any failure of either check is a CorruptionError.
func (m *Manager) openPrivateKey(ctx context.Context, userID string, rec *walletstore.Record) (*ecdsa.PrivateKey, error) {
	pkKey, mnKey, err := m.fieldKeys(ctx, userID, rec)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(pkKey)
	defer crypto.SecureWipe(mnKey)

	raw, err := crypto.Decrypt(pkKey, rec.EncryptedPrivateKey, rec.IV)
	if err != nil {
		return nil, &CorruptionError{WalletID: rec.ID, Err: err}
	}
	defer crypto.SecureWipe(raw)

	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, &CorruptionError{WalletID: rec.ID, Err: err}
	}
	if !sameAddress(ethcrypto.PubkeyToAddress(key.PublicKey), rec.Address) {
		wipeKey(key)
		return nil, &CorruptionError{WalletID: rec.ID, Err: errAddressMismatch}
	}
	return key, nil
}

// openMnemonic decrypts rec's recovery phrase. ok is false for wallets
// stored before phrases were kept.
func (m *Manager) openMnemonic(ctx context.Context, userID string, rec *walletstore.Record) (phrase string, ok bool, err error) {
	if !rec.HasMnemonic() {
		return "", false, nil
	}
	pkKey, mnKey, err := m.fieldKeys(ctx, userID, rec)
	if err != nil {
		return "", false, err
	}
	defer crypto.SecureWipe(pkKey)
	defer crypto.SecureWipe(mnKey)

	raw, err := crypto.Decrypt(mnKey, rec.EncryptedMnemonic, rec.MnemonicIV)
	if err != nil {
		return "", false, &CorruptionError{WalletID: rec.ID, Err: err}
	}
	defer crypto.SecureWipe(raw)
	if !bip39.IsMnemonicValid(string(raw)) {
		return "", false, &CorruptionError{WalletID: rec.ID, Err: errors.New("stored mnemonic is not a valid BIP-39 phrase")}
	}
	return string(raw), true, nil
}

func sameAddress(addr common.Address, stored string) bool {
	return common.IsHexAddress(stored) && addr == common.HexToAddress(stored)
}

// wipeKey zeroes the scalar of a private key that is no longer needed.
func wipeKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetUint64(0)
	}
}

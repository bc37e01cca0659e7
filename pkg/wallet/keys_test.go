package wallet

import (
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

func TestKeyFromMnemonicVector(t *testing.T) {
	tests := []struct {
		mnemonic string
		address  string
	}{
		{
			mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
			address:  "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
		},
		{
			mnemonic: "test test test test test test test test test test test junk",
			address:  "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			key, err := KeyFromMnemonic(tt.mnemonic)
			if err != nil {
				t.Fatalf("KeyFromMnemonic() error = %v", err)
			}
			if got := ethcrypto.PubkeyToAddress(key.PublicKey).Hex(); got != tt.address {
				t.Errorf("address = %s, want %s", got, tt.address)
			}
		})
	}
}

func TestKeyFromMnemonicInvalid(t *testing.T) {
	for _, m := range []string{"", "not a real phrase", strings.Repeat("abandon ", 12)} {
		if _, err := KeyFromMnemonic(m); err == nil {
			t.Errorf("KeyFromMnemonic(%q) should fail", m)
		}
	}
}

func TestNewKeyMaterial(t *testing.T) {
	phrase, key, err := newKeyMaterial()
	if err != nil {
		t.Fatalf("newKeyMaterial() error = %v", err)
	}
	if !bip39.IsMnemonicValid(phrase) {
		t.Errorf("phrase %q is not valid BIP-39", phrase)
	}
	derived, err := KeyFromMnemonic(phrase)
	if err != nil {
		t.Fatalf("KeyFromMnemonic() error = %v", err)
	}
	if derived.D.Cmp(key.D) != 0 {
		t.Error("key does not match its phrase")
	}

	other, _, err := newKeyMaterial()
	if err != nil {
		t.Fatalf("newKeyMaterial() error = %v", err)
	}
	if other == phrase {
		t.Error("two calls returned the same phrase")
	}
}

func TestWipeKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	wipeKey(key)
	if key.D.Sign() != 0 {
		t.Error("key scalar not zeroed")
	}
	wipeKey(nil)
}

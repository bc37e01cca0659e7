// Package crypto provides the cryptographic primitives for botwallet.
//
// This package implements PBKDF2-HMAC-SHA512 key derivation bound to a
// user and wallet, HKDF sub-key separation, and AES-256-GCM authenticated
// encryption.
//
// # Security Features
//
//   - AES-256-GCM authenticated encryption (tag verified before plaintext is returned)
//   - PBKDF2-HMAC-SHA512 key derivation (100,000 iterations) with a per-wallet salt
//   - HKDF-SHA256 sub-keys so the private key and mnemonic never share a key
//   - Bounded derivation concurrency via Deriver
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	salt, _ := crypto.GenerateSalt()
//	key := crypto.DeriveKey(master, "user-1", walletID, salt)
//	pkKey, mnemonicKey, _ := crypto.SplitKey(key)
//
//	ciphertext, nonce, err := crypto.Encrypt(pkKey, privateKey)
//	plaintext, err := crypto.Decrypt(pkKey, ciphertext, nonce)
//
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Key derivation and cipher parameters.
const (
	// PBKDF2Iterations is the PBKDF2-HMAC-SHA512 iteration count.
	PBKDF2Iterations = 100_000

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of per-wallet salts in bytes.
	SaltLength = 32

	// TagLength is the length of the GCM authentication tag.
	TagLength = 16
)

// HKDF info strings separating the per-field sub-keys.
const (
	hkdfInfoPrivateKey = "botwallet-private-key-v2"
	hkdfInfoMnemonic   = "botwallet-mnemonic-v2"
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrEmptySecret indicates an empty master secret was supplied.
	ErrEmptySecret = errors.New("crypto: master secret must not be empty")
)

// DeriveKey derives a 256-bit wallet key with PBKDF2-HMAC-SHA512.
//
// The user and wallet identifiers are appended to the random salt so the
// same master secret and salt can never produce the same key for two
// different wallets. The result is deterministic for identical inputs.
func DeriveKey(master []byte, userID, walletID string, salt []byte) []byte {
	return pbkdf2.Key(master, contextSalt(salt, userID, walletID), PBKDF2Iterations, KeyLength, sha512.New)
}

func contextSalt(salt []byte, userID, walletID string) []byte {
	buf := make([]byte, 0, len(salt)+len(userID)+len(walletID)+11)
	buf = append(buf, salt...)
	buf = append(buf, "botwallet:"...)
	buf = append(buf, userID...)
	buf = append(buf, ':')
	buf = append(buf, walletID...)
	return buf
}

// SplitKey expands a derived wallet key into two independent sub-keys,
// one for the private key field and one for the mnemonic field.
func SplitKey(key []byte) (privateKeyKey, mnemonicKey []byte, err error) {
	if len(key) != KeyLength {
		return nil, nil, ErrInvalidKeyLength
	}

	privateKeyKey, err = deriveHKDF(key, []byte(hkdfInfoPrivateKey))
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to derive private key sub-key: %w", err)
	}

	mnemonicKey, err = deriveHKDF(key, []byte(hkdfInfoMnemonic))
	if err != nil {
		SecureWipe(privateKeyKey)
		return nil, nil, fmt.Errorf("crypto: failed to derive mnemonic sub-key: %w", err)
	}

	return privateKeyKey, mnemonicKey, nil
}

// deriveHKDF derives a key using HKDF-SHA256.
func deriveHKDF(secret, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt returns SaltLength bytes from crypto/rand.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// A fresh 12-byte nonce is drawn from crypto/rand for every call. The
// authentication tag is appended to the ciphertext.
//
// Returns:
//   - ciphertext: encrypted data with authentication tag
//   - nonce: 12-byte nonce (must be stored with ciphertext for decryption)
//   - err: ErrInvalidKeyLength if key is not 32 bytes
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM authenticated encryption.
//
// The authentication tag is verified before any plaintext is returned. A
// tag mismatch, whether from tampering or from a wrong key, yields
// ErrDecryptionFailed.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive keeps b "in use" after the loop so the stores stay.
	runtime.KeepAlive(b)
}

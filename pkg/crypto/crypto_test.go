package crypto

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

var testMaster = []byte("test-master-secret-0123456789")

func randomBytes(t testing.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("failed to generate random bytes: %v", err)
	}
	return b
}

// TestDeriveKey tests the PBKDF2 key derivation function
func TestDeriveKey(t *testing.T) {
	salt := randomBytes(t, SaltLength)

	key := DeriveKey(testMaster, "alice", "wallet-1", salt)
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	key2 := DeriveKey(testMaster, "alice", "wallet-1", salt)
	if !bytes.Equal(key, key2) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}

	tests := []struct {
		name     string
		master   []byte
		userID   string
		walletID string
		salt     []byte
	}{
		{"different master", []byte("another-master-secret"), "alice", "wallet-1", salt},
		{"different user", testMaster, "bob", "wallet-1", salt},
		{"different wallet", testMaster, "alice", "wallet-2", salt},
		{"different salt", testMaster, "alice", "wallet-1", randomBytes(t, SaltLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := DeriveKey(tt.master, tt.userID, tt.walletID, tt.salt)
			if bytes.Equal(key, other) {
				t.Errorf("DeriveKey() with %s should produce a different key", tt.name)
			}
		})
	}
}

// TestDeriveKeyContextBoundaries makes sure id concatenation cannot collide
func TestDeriveKeyContextBoundaries(t *testing.T) {
	salt := randomBytes(t, SaltLength)
	a := DeriveKey(testMaster, "ab", "c", salt)
	b := DeriveKey(testMaster, "a", "bc", salt)
	if bytes.Equal(a, b) {
		t.Error("DeriveKey() must separate user and wallet ids")
	}
}

func TestDeriveKeyParameters(t *testing.T) {
	if PBKDF2Iterations != 100000 {
		t.Errorf("PBKDF2Iterations = %d, want 100000", PBKDF2Iterations)
	}
	if KeyLength != 32 {
		t.Errorf("KeyLength = %d, want 32 (256-bit)", KeyLength)
	}
	if NonceLength != 12 {
		t.Errorf("NonceLength = %d, want 12 (96-bit GCM standard)", NonceLength)
	}
}

func TestSplitKey(t *testing.T) {
	key := randomBytes(t, KeyLength)

	pkKey, mnKey, err := SplitKey(key)
	if err != nil {
		t.Fatalf("SplitKey() error = %v", err)
	}
	if len(pkKey) != KeyLength || len(mnKey) != KeyLength {
		t.Fatalf("SplitKey() lengths = %d/%d, want %d", len(pkKey), len(mnKey), KeyLength)
	}
	if bytes.Equal(pkKey, mnKey) {
		t.Error("SplitKey() sub-keys must differ")
	}
	if bytes.Equal(pkKey, key) || bytes.Equal(mnKey, key) {
		t.Error("SplitKey() sub-keys must differ from the input key")
	}

	pk2, mn2, err := SplitKey(key)
	if err != nil {
		t.Fatalf("SplitKey() error = %v", err)
	}
	if !bytes.Equal(pkKey, pk2) || !bytes.Equal(mnKey, mn2) {
		t.Error("SplitKey() should be deterministic")
	}

	if _, _, err := SplitKey(key[:16]); err != ErrInvalidKeyLength {
		t.Errorf("SplitKey() short key error = %v, want %v", err, ErrInvalidKeyLength)
	}
}

// TestSubKeyCiphertextNotReplayable checks a ciphertext from one field cannot be opened with the other key
func TestSubKeyCiphertextNotReplayable(t *testing.T) {
	pkKey, mnKey, err := SplitKey(randomBytes(t, KeyLength))
	if err != nil {
		t.Fatalf("SplitKey() error = %v", err)
	}

	ciphertext, nonce, err := Encrypt(pkKey, []byte("private key bytes"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := Decrypt(mnKey, ciphertext, nonce); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with sibling sub-key error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	b, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	if len(a) != SaltLength {
		t.Errorf("GenerateSalt() length = %d, want %d", len(a), SaltLength)
	}
	if bytes.Equal(a, b) {
		t.Error("GenerateSalt() returned identical salts")
	}
}

func TestEncrypt(t *testing.T) {
	key := randomBytes(t, KeyLength)
	plaintext := []byte("secret data to encrypt")

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(nonce) != NonceLength {
		t.Errorf("Encrypt() nonce length = %d, want %d", len(nonce), NonceLength)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("Encrypt() ciphertext should not equal plaintext")
	}
	if len(ciphertext) != len(plaintext)+TagLength {
		t.Errorf("Encrypt() ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+TagLength)
	}
}

func TestEncryptInvalidKeyLength(t *testing.T) {
	tests := []struct {
		name   string
		keyLen int
	}{
		{"too short (16 bytes)", 16},
		{"too short (24 bytes)", 24},
		{"too long (48 bytes)", 48},
		{"empty key", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Encrypt(make([]byte, tt.keyLen), []byte("test data"))
			if err != ErrInvalidKeyLength {
				t.Errorf("Encrypt() error = %v, want %v", err, ErrInvalidKeyLength)
			}
		})
	}
}

func TestDecryptInvalidInputs(t *testing.T) {
	key := randomBytes(t, KeyLength)
	tests := []struct {
		name       string
		key        []byte
		ciphertext []byte
		nonce      []byte
		want       error
	}{
		{"short key", key[:16], make([]byte, 32), make([]byte, NonceLength), ErrInvalidKeyLength},
		{"short nonce", key, make([]byte, 32), make([]byte, 8), ErrInvalidNonceLength},
		{"empty nonce", key, make([]byte, 32), nil, ErrInvalidNonceLength},
		{"ciphertext shorter than tag", key, make([]byte, 10), make([]byte, NonceLength), ErrCiphertextTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.key, tt.ciphertext, tt.nonce); err != tt.want {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	ciphertext, nonce, err := Encrypt(randomBytes(t, KeyLength), []byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := Decrypt(randomBytes(t, KeyLength), ciphertext, nonce); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
}

// TestDecryptEveryBitFlip flips each bit of ciphertext and tag in turn
func TestDecryptEveryBitFlip(t *testing.T) {
	key := randomBytes(t, KeyLength)
	ciphertext, nonce, err := Encrypt(key, []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	for i := 0; i < len(ciphertext)*8; i++ {
		tampered := append([]byte(nil), ciphertext...)
		tampered[i/8] ^= 1 << (i % 8)
		if _, err := Decrypt(key, tampered, nonce); err != ErrDecryptionFailed {
			t.Fatalf("Decrypt() with bit %d flipped error = %v, want %v", i, err, ErrDecryptionFailed)
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := randomBytes(t, KeyLength)

	testCases := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"private key", randomBytes(t, 32)},
		{"mnemonic", []byte("abandon ability able about above absent absorb abstract absurd abuse access accident")},
		{"binary", []byte{0x00, 0xFF, 0x01, 0xFE, 0x02, 0xFD}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, nonce, err := Encrypt(key, tc.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			decrypted, err := Decrypt(key, ciphertext, nonce)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted, tc.plaintext) {
				t.Errorf("Round trip failed: got length %d, want length %d", len(decrypted), len(tc.plaintext))
			}
		})
	}
}

func TestEncryptProducesUniqueNonce(t *testing.T) {
	key := randomBytes(t, KeyLength)
	nonces := make(map[string]bool)

	for i := 0; i < 100; i++ {
		_, nonce, err := Encrypt(key, []byte("test data"))
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if nonces[string(nonce)] {
			t.Errorf("Encrypt() produced duplicate nonce on iteration %d", i)
		}
		nonces[string(nonce)] = true
	}
}

func TestSecureWipe(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte[%d] = %d, want 0", i, b)
		}
	}

	// Should not panic on empty or nil slices
	SecureWipe([]byte{})
	SecureWipe(nil)
}

func TestDeriverMatchesDeriveKey(t *testing.T) {
	d := NewDeriver(1)
	salt := randomBytes(t, SaltLength)

	got, err := d.Derive(context.Background(), testMaster, "alice", "w1", salt)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if want := DeriveKey(testMaster, "alice", "w1", salt); !bytes.Equal(got, want) {
		t.Error("Derive() result differs from DeriveKey()")
	}
}

func TestDeriverEmptySecret(t *testing.T) {
	d := NewDeriver(1)
	if _, err := d.Derive(context.Background(), nil, "alice", "w1", nil); err != ErrEmptySecret {
		t.Errorf("Derive() error = %v, want %v", err, ErrEmptySecret)
	}
}

// TestDeriverHonoursContextWhileWaiting holds the only slot and checks a waiter gives up on cancel
func TestDeriverHonoursContextWhileWaiting(t *testing.T) {
	d := NewDeriver(1)
	if err := d.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer d.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Derive(ctx, testMaster, "alice", "w1", randomBytes(t, SaltLength))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Derive() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

// BenchmarkDeriveKey measures PBKDF2-HMAC-SHA512 at 100k iterations.
func BenchmarkDeriveKey(b *testing.B) {
	salt := randomBytes(b, SaltLength)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DeriveKey(testMaster, "bench-user", "bench-wallet", salt)
	}
}

// BenchmarkEncrypt measures AES-256-GCM encryption of a 32-byte private key.
func BenchmarkEncrypt(b *testing.B) {
	key := randomBytes(b, KeyLength)
	data := randomBytes(b, 32)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := Encrypt(key, data); err != nil {
			b.Fatal(err)
		}
	}
}

package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestSignerSignAndVerify(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	s := newSigner("w1", key, newFakeBackend())
	msg := []byte("hello")

	sig, err := s.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage() error = %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("recovery id = %d, want 27 or 28", v)
	}
	if !s.Verify(msg, sig) {
		t.Error("Verify() rejected own signature")
	}
	if s.Verify([]byte("other"), sig) {
		t.Error("Verify() accepted signature over a different message")
	}

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	if !VerifySignature(s.Address(), msg, raw) {
		t.Error("VerifySignature() rejected 0/1 recovery id")
	}
	if VerifySignature(common.Address{1}, msg, sig) {
		t.Error("VerifySignature() accepted wrong address")
	}
	if VerifySignature(s.Address(), msg, sig[:10]) {
		t.Error("VerifySignature() accepted short signature")
	}
}

func TestSignerWipe(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	s := newSigner("w1", key, newFakeBackend())
	s.Wipe()

	if _, err := s.SignMessage([]byte("x")); !errors.Is(err, ErrSignerWiped) {
		t.Errorf("SignMessage() after Wipe error = %v, want ErrSignerWiped", err)
	}
	if _, err := s.SendTransaction(context.Background(), common.Address{1}, nil); !errors.Is(err, ErrSignerWiped) {
		t.Errorf("SendTransaction() after Wipe error = %v, want ErrSignerWiped", err)
	}
	if s.Address() == (common.Address{}) {
		t.Error("Address() should survive Wipe")
	}
}

func TestSignerCall(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	s := newSigner("w1", key, newFakeBackend())
	out, err := s.Call(context.Background(), common.Address{2}, []byte{0xaa})
	if err != nil || len(out) != 1 {
		t.Errorf("Call() = %x, %v", out, err)
	}
}

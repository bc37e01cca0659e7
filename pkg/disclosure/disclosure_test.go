package disclosure

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type sent struct {
	recipient string
	text      string
	opts      SendOptions
}

type fakeChannel struct {
	mu        sync.Mutex
	sent      []sent
	deleted   []string
	sendErr   error
	deleteErr error
}

func (c *fakeChannel) Send(_ context.Context, recipient, text string, opts SendOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, sent{recipient, text, opts})
	return "msg-" + string(rune('0'+len(c.sent))), nil
}

func (c *fakeChannel) Delete(_ context.Context, _, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deleted = append(c.deleted, messageID)
	return nil
}

// manualClock records requested delays and fires them on demand.
type manualClock struct {
	mu     sync.Mutex
	delays []time.Duration
	fire   chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{fire: make(chan time.Time)}
}

func (c *manualClock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	return c.fire
}

func TestDiscloseSchedulesDeletion(t *testing.T) {
	ch := &fakeChannel{}
	clock := newManualClock()
	d := New(ch)
	d.after = clock.after

	id, err := d.Disclose(context.Background(), "alice", "secret", PrivateKey)
	if err != nil {
		t.Fatalf("Disclose() error = %v", err)
	}
	if len(ch.sent) != 1 || !ch.sent[0].opts.ProtectContent {
		t.Fatalf("sent = %+v, want one protected message", ch.sent)
	}

	clock.fire <- time.Now()
	d.Wait()

	if len(ch.deleted) != 1 || ch.deleted[0] != id {
		t.Errorf("deleted = %v, want [%s]", ch.deleted, id)
	}
	if len(clock.delays) != 1 || clock.delays[0] != 30*time.Second {
		t.Errorf("delays = %v, want [30s]", clock.delays)
	}
}

func TestDiscloseStandardKeepsMessage(t *testing.T) {
	ch := &fakeChannel{}
	d := New(ch)

	if _, err := d.Disclose(context.Background(), "alice", "address", Standard); err != nil {
		t.Fatalf("Disclose() error = %v", err)
	}
	d.Wait()

	if ch.sent[0].opts.ProtectContent {
		t.Error("standard profile should not protect content")
	}
	if len(ch.deleted) != 0 {
		t.Errorf("deleted = %v, want none", ch.deleted)
	}
}

func TestDiscloseDeleteFailureIsLogged(t *testing.T) {
	ch := &fakeChannel{deleteErr: errors.New("message too old")}
	clock := newManualClock()
	d := New(ch)
	d.after = clock.after

	if _, err := d.Disclose(context.Background(), "alice", "phrase", Mnemonic); err != nil {
		t.Fatalf("Disclose() error = %v", err)
	}
	clock.fire <- time.Now()
	d.Wait()
}

func TestDiscloseErrors(t *testing.T) {
	d := New(&fakeChannel{sendErr: errors.New("blocked by user")})

	if _, err := d.Disclose(context.Background(), "", "x", Standard); !errors.Is(err, ErrEmptyRecipient) {
		t.Errorf("Disclose(no recipient) error = %v", err)
	}
	if _, err := d.Disclose(context.Background(), "alice", "x", PrivateKey); err == nil {
		t.Error("Disclose() should return the send error")
	}
	d.Wait()
}

func TestFormatSecret(t *testing.T) {
	tests := []struct {
		profile Profile
		notice  string
	}{
		{PrivateKey, "deleted in 30 seconds"},
		{Mnemonic, "deleted in 1 minute"},
		{Profile{DeleteAfter: 2 * time.Minute}, "deleted in 2 minutes"},
	}
	for _, tt := range tests {
		msg := FormatSecret("Private key", "0xabc", tt.profile)
		if !strings.Contains(msg, "0xabc") || !strings.Contains(msg, "Private key") {
			t.Errorf("FormatSecret() = %q, missing label or secret", msg)
		}
		if !strings.Contains(msg, tt.notice) {
			t.Errorf("FormatSecret() = %q, want %q", msg, tt.notice)
		}
	}

	if msg := FormatSecret("Address", "0x1", Standard); strings.Contains(msg, "deleted") {
		t.Errorf("standard message mentions deletion: %q", msg)
	}
}

func TestAddressQRCode(t *testing.T) {
	png, err := AddressQRCode("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	if err != nil {
		t.Fatalf("AddressQRCode() error = %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}
	if _, err := AddressQRCode(""); err == nil {
		t.Error("AddressQRCode(\"\") should fail")
	}
}

package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/wallet"
	"github.com/forest6511/botwallet/pkg/walletstore"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"d", 0, true},
		{"xd", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseDuration(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDuration(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yes please\n", false},
	}
	for _, tt := range tests {
		if got := confirm(strings.NewReader(tt.input), "Continue?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	exportYes = true
	defer func() { exportYes = false }()
	if !confirm(strings.NewReader(""), "Continue?") {
		t.Error("--yes should skip the prompt")
	}
}

func TestFormatEvent(t *testing.T) {
	e := audit.Event{
		Timestamp: "2026-01-02T03:04:05Z",
		Source:    audit.SourceBot,
		Operation: audit.OpWalletWithdraw,
		Result:    audit.ResultError,
		WalletID:  "w1",
		Error:     &audit.ErrorInfo{Code: wallet.CodeInsufficientBalance},
	}
	want := "2026-01-02T03:04:05Z bot wallet.withdraw error wallet:w1 error:insufficient_balance"
	if got := formatEvent(e); got != want {
		t.Errorf("formatEvent() = %q, want %q", got, want)
	}
}

func TestWalletCompletions(t *testing.T) {
	idx := &walletstore.Index{Wallets: []walletstore.IndexEntry{
		{ID: "0190a1-aaa", Name: "Main"},
		{ID: "0190b2-bbb", Name: "Savings"},
	}}

	got := walletCompletions(idx, "0190a")
	if len(got) != 1 || got[0] != "0190a1-aaa\tMain" {
		t.Errorf("walletCompletions() = %v", got)
	}
	if got := walletCompletions(idx, ""); len(got) != 2 {
		t.Errorf("walletCompletions(\"\") returned %d candidates, want 2", len(got))
	}
}

func TestUserError(t *testing.T) {
	err := userError(&wallet.ValidationError{Field: "amount", Reason: "must be greater than zero"})
	if !errors.Is(err, wallet.ErrValidation) {
		t.Error("userError should keep the wallet error matchable")
	}
	if !strings.HasPrefix(err.Error(), "Invalid amount") {
		t.Errorf("userError() = %q", err.Error())
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"create", "list", "rename", "activate", "verify", "qr",
		"export-key", "export-mnemonic", "withdraw", "audit", "mcp-server", "completion",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, name := range []string{"list", "verify", "prune"} {
		if cmd, _, err := rootCmd.Find([]string{"audit", name}); err != nil || cmd.Name() != name {
			t.Errorf("audit %s not registered", name)
		}
	}
}

func TestRequireUser(t *testing.T) {
	old := userID
	defer func() { userID = old }()

	userID = ""
	if err := requireUser(); err == nil {
		t.Error("expected error without --user")
	}
	userID = "alice"
	if err := requireUser(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

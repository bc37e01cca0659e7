package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/params"

	"github.com/forest6511/botwallet/pkg/chain"
	"github.com/forest6511/botwallet/pkg/ratelimit"
)

const testRecipient = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

func TestWithdraw(t *testing.T) {
	m, _, backend := newTestManager(t, nil)
	ctx := context.Background()
	w := mustCreate(t, m, "alice", "")
	backend.setBalance(w.Address, big.NewInt(params.Ether))

	amount := big.NewInt(params.GWei)
	p, err := m.Withdraw(ctx, "alice", testRecipient, amount)
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if p.From != w.Address {
		t.Errorf("From = %s, want %s", p.From.Hex(), w.Address.Hex())
	}
	wantFee := new(big.Int).Mul(big.NewInt(params.GWei), big.NewInt(int64(params.TxGas)))
	if p.Fee.Cmp(wantFee) != 0 {
		t.Errorf("Fee = %s, want %s", p.Fee, wantFee)
	}
	if len(backend.sent) != 1 || backend.sent[0].value.Cmp(amount) != 0 || backend.sent[0].from != w.Address {
		t.Fatalf("sent = %+v", backend.sent)
	}

	receipt, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if receipt.TxHash != p.Hash {
		t.Errorf("receipt hash = %s, want %s", receipt.TxHash.Hex(), p.Hash.Hex())
	}
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	m, _, backend := newTestManager(t, nil)
	w := mustCreate(t, m, "alice", "")
	backend.setBalance(w.Address, big.NewInt(params.Ether))

	// The full balance leaves nothing for the fee.
	_, err := m.Withdraw(context.Background(), "alice", testRecipient, big.NewInt(params.Ether))
	var ie *InsufficientBalanceError
	if !errors.As(err, &ie) {
		t.Fatalf("Withdraw() error = %v, want InsufficientBalanceError", err)
	}
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Error("errors.Is(ErrInsufficientBalance) = false")
	}
	want := new(big.Int).Add(big.NewInt(params.Ether), backend.fees.TransferCost())
	if ie.Required.Cmp(want) != 0 {
		t.Errorf("Required = %s, want %s", ie.Required, want)
	}
	if len(backend.sent) != 0 {
		t.Error("a transaction was sent despite insufficient balance")
	}
}

func TestWithdrawValidation(t *testing.T) {
	m, _, backend := newTestManager(t, nil)
	mustCreate(t, m, "alice", "")

	tests := []struct {
		name   string
		to     string
		amount *big.Int
	}{
		{"bad address", "0x1234", big.NewInt(1)},
		{"not hex", "alice", big.NewInt(1)},
		{"zero address", "0x0000000000000000000000000000000000000000", big.NewInt(1)},
		{"zero amount", testRecipient, big.NewInt(0)},
		{"negative amount", testRecipient, big.NewInt(-5)},
		{"nil amount", testRecipient, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Withdraw(context.Background(), "alice", tt.to, tt.amount)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Withdraw() error = %v, want ErrValidation", err)
			}
		})
	}
	if len(backend.sent) != 0 {
		t.Error("a transaction was sent for invalid input")
	}
}

func TestWithdrawBackendFailures(t *testing.T) {
	tests := []struct {
		name  string
		breakIt func(b *fakeBackend)
	}{
		{"balance", func(b *fakeBackend) { b.balanceErr = errors.New("rpc down") }},
		{"fees", func(b *fakeBackend) { b.feeErr = chain.ErrNoFeeData }},
		{"send", func(b *fakeBackend) { b.sendErr = errors.New("nonce too low") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, backend := newTestManager(t, nil)
			w := mustCreate(t, m, "alice", "")
			backend.setBalance(w.Address, big.NewInt(params.Ether))
			tt.breakIt(backend)

			_, err := m.Withdraw(context.Background(), "alice", testRecipient, big.NewInt(1))
			if err == nil {
				t.Fatal("Withdraw() should fail")
			}
			if ErrorCode(err) != CodeInternal {
				t.Errorf("ErrorCode() = %s, want %s", ErrorCode(err), CodeInternal)
			}
		})
	}
}

func TestPendingTxWaitTimeout(t *testing.T) {
	m, _, backend := newTestManager(t, func(o *Options) { o.ConfirmTimeout = 5 * time.Second })
	w := mustCreate(t, m, "alice", "")
	backend.setBalance(w.Address, big.NewInt(params.Ether))
	backend.waitErr = chain.ErrWaitTimeout

	p, err := m.Withdraw(context.Background(), "alice", testRecipient, big.NewInt(1))
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	_, err = p.Wait(context.Background())
	var nt *NetworkTimeoutError
	if !errors.As(err, &nt) {
		t.Fatalf("Wait() error = %v, want NetworkTimeoutError", err)
	}
	if nt.TxHash != p.Hash || nt.Timeout != 5*time.Second {
		t.Errorf("NetworkTimeoutError = %+v", nt)
	}
	if !errors.Is(err, chain.ErrWaitTimeout) {
		t.Error("NetworkTimeoutError should unwrap to chain.ErrWaitTimeout")
	}
}

func TestPendingTxWaitReverted(t *testing.T) {
	m, _, backend := newTestManager(t, nil)
	w := mustCreate(t, m, "alice", "")
	backend.setBalance(w.Address, big.NewInt(params.Ether))
	backend.waitErr = chain.ErrReverted

	p, err := m.Withdraw(context.Background(), "alice", testRecipient, big.NewInt(1))
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if _, err := p.Wait(context.Background()); !errors.Is(err, chain.ErrReverted) || errors.Is(err, ErrNetworkTimeout) {
		t.Errorf("Wait() error = %v, want ErrReverted", err)
	}
}

func TestWithdrawRateLimited(t *testing.T) {
	limiter := ratelimit.New(map[string]ratelimit.Rule{
		ratelimit.ClassWithdraw: {MaxAttempts: 1, Window: time.Minute, Cooldown: 10 * time.Minute},
	})
	m, _, backend := newTestManager(t, func(o *Options) { o.Limiter = limiter })
	w := mustCreate(t, m, "alice", "")
	backend.setBalance(w.Address, big.NewInt(params.Ether))

	if _, err := m.Withdraw(context.Background(), "alice", testRecipient, big.NewInt(1)); err != nil {
		t.Fatalf("first Withdraw() error = %v", err)
	}
	_, err := m.Withdraw(context.Background(), "alice", testRecipient, big.NewInt(1))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second Withdraw() error = %v, want ErrRateLimited", err)
	}
	if len(backend.sent) != 1 {
		t.Errorf("sent %d transactions, want 1", len(backend.sent))
	}
}

func TestWithdrawBoundsHungRPC(t *testing.T) {
	m, _, backend := newTestManager(t, func(o *Options) { o.RPCTimeout = 50 * time.Millisecond })
	w := mustCreate(t, m, "alice", "")
	backend.mu.Lock()
	backend.hang = true
	backend.mu.Unlock()

	start := time.Now()
	_, err := m.Withdraw(context.Background(), "alice", testRecipient, big.NewInt(1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Withdraw() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Withdraw() took %s with a hung backend", elapsed)
	}
	if len(backend.sent) != 0 {
		t.Errorf("sent = %+v, want nothing", backend.sent)
	}

	// The user's lock was released.
	if err := m.RenameWallet(context.Background(), "alice", w.ID, "Still usable"); err != nil {
		t.Errorf("RenameWallet() after timeout error = %v", err)
	}
}

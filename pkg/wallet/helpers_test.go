package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/forest6511/botwallet/pkg/chain"
	"github.com/forest6511/botwallet/pkg/walletstore"
)

var testMaster = []byte("test-master-secret-0123456789")

type sentTx struct {
	from  common.Address
	to    common.Address
	value *big.Int
}

// fakeBackend is an in-memory chain.Backend.
type fakeBackend struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	balanceErr error
	fees       *chain.FeeData
	feeErr     error
	sendErr    error
	waitErr    error
	hang       bool // BalanceAt blocks until its context ends
	sent       []sentTx
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balances: make(map[common.Address]*big.Int),
		fees:     &chain.FeeData{GasPrice: big.NewInt(1_000_000_000)},
	}
}

func (b *fakeBackend) setBalance(addr common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = wei
}

func (b *fakeBackend) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	hang := b.hang
	b.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balanceErr != nil {
		return nil, b.balanceErr
	}
	if v, ok := b.balances[addr]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (b *fakeBackend) FeeData(context.Context) (*chain.FeeData, error) {
	if b.feeErr != nil {
		return nil, b.feeErr
	}
	return b.fees, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int) (chain.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	b.sent = append(b.sent, sentTx{from: ethcrypto.PubkeyToAddress(key.PublicKey), to: to, value: value})
	return &fakeTx{hash: common.BigToHash(big.NewInt(int64(len(b.sent)))), err: b.waitErr}, nil
}

func (b *fakeBackend) Call(context.Context, common.Address, common.Address, []byte) ([]byte, error) {
	return []byte{0x01}, nil
}

type fakeTx struct {
	hash common.Hash
	err  error
}

func (t *fakeTx) Hash() common.Hash { return t.hash }

func (t *fakeTx) Wait(context.Context, uint64, time.Duration) (*types.Receipt, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: t.hash}, nil
}

// newTestManager returns a Manager over a FileStore in a temp dir.
func newTestManager(t *testing.T, modify func(*Options)) (*Manager, *walletstore.FileStore, *fakeBackend) {
	t.Helper()

	store, err := walletstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	backend := newFakeBackend()
	opts := Options{
		Store:          store,
		Backend:        backend,
		MasterSecret:   testMaster,
		KDFConcurrency: 2,
	}
	if modify != nil {
		modify(&opts)
	}

	m, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m, store, backend
}

func mustCreate(t *testing.T, m *Manager, userID, name string) *CreatedWallet {
	t.Helper()
	w, err := m.CreateWallet(context.Background(), userID, name)
	if err != nil {
		t.Fatalf("CreateWallet(%q) error = %v", name, err)
	}
	return w
}

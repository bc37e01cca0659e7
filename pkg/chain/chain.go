// Package chain defines the narrow chain capability the wallet manager
// consumes and an Ethereum JSON-RPC implementation of it.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// Errors
var (
	ErrWaitTimeout = errors.New("chain: transaction not confirmed before timeout")
	ErrReverted    = errors.New("chain: transaction reverted")
	ErrNoFeeData   = errors.New("chain: backend returned no fee data")
)

// Backend is every chain operation the wallet layer needs.
type Backend interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	FeeData(ctx context.Context) (*FeeData, error)
	SendTransaction(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int) (Tx, error)
	Call(ctx context.Context, from, to common.Address, data []byte) ([]byte, error)
}

// Tx is a submitted transaction.
type Tx interface {
	Hash() common.Hash
	// Wait blocks until the transaction has the given number of
	// confirmations, returning ErrWaitTimeout if timeout elapses first.
	Wait(ctx context.Context, confirmations uint64, timeout time.Duration) (*types.Receipt, error)
}

// FeeData is the current network fee rate. MaxFeePerGas and
// MaxPriorityFeePerGas are nil on chains without EIP-1559.
type FeeData struct {
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Rate returns the per-gas price a transfer would pay at most.
func (f *FeeData) Rate() *big.Int {
	if f.MaxFeePerGas != nil {
		return f.MaxFeePerGas
	}
	if f.GasPrice != nil {
		return f.GasPrice
	}
	return new(big.Int)
}

// TransferCost returns the fee for a plain value transfer at Rate.
func (f *FeeData) TransferCost() *big.Int {
	return new(big.Int).Mul(f.Rate(), new(big.Int).SetUint64(params.TxGas))
}

package wallet

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/forest6511/botwallet/pkg/ratelimit"
)

// Sentinels for errors.Is. Every typed error below matches exactly one.
var (
	ErrValidation          = errors.New("wallet: invalid input")
	ErrNotFound            = errors.New("wallet: not found")
	ErrCorrupted           = errors.New("wallet: wallet data is corrupted")
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	ErrRateLimited         = ratelimit.ErrRateLimited
	ErrNetworkTimeout      = errors.New("wallet: transaction confirmation timed out")
)

// Messages surfaced for missing wallets.
const (
	msgNoWallet       = "No wallet found for this user"
	msgWalletNotFound = "Wallet not found"
)

// ValidationError reports a malformed id, name, address or amount.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wallet: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Unwrap() error        { return e.Err }

// NotFoundError reports an unknown user or wallet.
type NotFoundError struct {
	UserID   string
	WalletID string
	Message  string
}

func (e *NotFoundError) Error() string        { return e.Message }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func noWallet(userID string) *NotFoundError {
	return &NotFoundError{UserID: userID, Message: msgNoWallet}
}

func walletNotFound(userID, id string) *NotFoundError {
	return &NotFoundError{UserID: userID, WalletID: id, Message: msgWalletNotFound}
}

// CorruptionError reports that a stored wallet failed authenticated
// decryption or no longer matches its address. The stored data is never
// trusted after this error.
type CorruptionError struct {
	WalletID string
	Err      error
}

// CorruptionError.WalletID values for data that is not a single wallet.
const (
	indexWallet  = "index"
	legacyWallet = "legacy"
)

func (e *CorruptionError) Error() string {
	var what string
	switch e.WalletID {
	case "":
		what = "wallet data"
	case indexWallet:
		what = "wallet index"
	case legacyWallet:
		what = "legacy wallet"
	default:
		what = "wallet " + e.WalletID
	}
	return fmt.Sprintf("wallet: %s is corrupted or was encrypted under a different master secret: %v", what, e.Err)
}

func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupted }
func (e *CorruptionError) Unwrap() error        { return e.Err }

// InsufficientBalanceError is returned before any transfer is attempted.
type InsufficientBalanceError struct {
	Balance  *big.Int
	Required *big.Int
	Fee      *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("wallet: insufficient balance: have %s wei, need %s wei including %s wei fee",
		e.Balance, e.Required, e.Fee)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// RateLimitedError carries the wait before the operation may be retried.
type RateLimitedError = ratelimit.LimitError

// NetworkTimeoutError means the transaction was submitted but its
// confirmation was not observed in time. The transaction may still land.
type NetworkTimeoutError struct {
	TxHash  common.Hash
	Timeout time.Duration
	Err     error
}

func (e *NetworkTimeoutError) Error() string {
	return fmt.Sprintf("wallet: transaction %s not confirmed within %s, outcome unknown", e.TxHash.Hex(), e.Timeout)
}

func (e *NetworkTimeoutError) Is(target error) bool { return target == ErrNetworkTimeout }
func (e *NetworkTimeoutError) Unwrap() error        { return e.Err }

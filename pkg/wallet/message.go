package wallet

import (
	"errors"
	"fmt"
	"time"
)

// Audit error codes.
const (
	CodeValidation          = "validation"
	CodeNotFound            = "not_found"
	CodeCorrupted           = "corrupted"
	CodeInsufficientBalance = "insufficient_balance"
	CodeRateLimited         = "rate_limited"
	CodeNetworkTimeout      = "network_timeout"
	CodeInternal            = "internal"
)

// ErrorCode classifies err for audit records and API responses.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrCorrupted):
		return CodeCorrupted
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrNetworkTimeout):
		return CodeNetworkTimeout
	default:
		return CodeInternal
	}
}

// UserMessage renders err as text safe to show a bot user. Internal
// details are never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		validation *ValidationError
		notFound   *NotFoundError
		balance    *InsufficientBalanceError
		limited    *RateLimitedError
		timeout    *NetworkTimeoutError
	)
	switch {
	case errors.As(err, &validation):
		return fmt.Sprintf("Invalid %s: %s.", validation.Field, validation.Reason)
	case errors.As(err, &notFound):
		if notFound.WalletID == "" {
			return notFound.Message + ". Create one with /create."
		}
		return notFound.Message + ". Use /wallets to see your wallets."
	case errors.Is(err, ErrCorrupted):
		return "This wallet's data could not be decrypted and cannot be used. Create a new wallet, and restore funds from your recovery phrase if you saved it."
	case errors.As(err, &balance):
		return fmt.Sprintf("Insufficient balance: you have %s ETH but need %s ETH (including up to %s ETH in fees).",
			FormatEther(balance.Balance), FormatEther(balance.Required), FormatEther(balance.Fee))
	case errors.As(err, &limited):
		return fmt.Sprintf("Too many attempts. Please wait %s and try again.", humanDuration(limited.RetryAfter))
	case errors.As(err, &timeout):
		return fmt.Sprintf("Transaction %s was sent but not confirmed yet. It may still complete; check it on a block explorer before retrying.", timeout.TxHash.Hex())
	default:
		return "Something went wrong. Please try again later."
	}
}

func humanDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= time.Second {
		return "1 second"
	}
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	if seconds == 0 {
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

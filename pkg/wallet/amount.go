package wallet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// EtherDecimals is the number of fractional digits in one ether.
const EtherDecimals = 18

// ParseAmount converts a decimal ether amount such as "0.05" to wei.
// More than 18 fractional digits, signs and exponents are rejected.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, &ValidationError{Field: "amount", Reason: "must not be empty"}
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, &ValidationError{Field: "amount", Reason: fmt.Sprintf("%q is not a decimal number", s)}
	}
	if len(frac) > EtherDecimals {
		return nil, &ValidationError{Field: "amount", Reason: "has more than 18 decimal places"}
	}

	digits := whole + frac + strings.Repeat("0", EtherDecimals-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok || wei.Sign() <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return wei, nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	q, r := new(big.Int).QuoRem(new(big.Int).Abs(wei), big.NewInt(params.Ether), new(big.Int))
	sign := ""
	if wei.Sign() < 0 {
		sign = "-"
	}
	if r.Sign() == 0 {
		return sign + q.String()
	}
	frac := fmt.Sprintf("%018s", r.String())
	return sign + q.String() + "." + strings.TrimRight(frac, "0")
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

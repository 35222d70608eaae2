package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/types"
)

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidateEVMAddress validates a 0x-prefixed EVM address
func ValidateEVMAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !strings.HasPrefix(address, "0x") {
		return fmt.Errorf("EVM address must start with 0x")
	}
	if len(address) != 42 {
		return fmt.Errorf("EVM address must be 42 characters long")
	}
	if !isHexString(address[2:]) {
		return fmt.Errorf("EVM address must be valid hex")
	}

	return nil
}

// ValidateTokenAddress validates token contract addresses
func ValidateTokenAddress(address string) error {
	if address == "" {
		// Native tokens don't have addresses
		return nil
	}

	return ValidateEVMAddress(address)
}

// ValidateMethodType checks if a method type is one the scoring model knows
func ValidateMethodType(t types.MethodType) error {
	switch t {
	case types.MethodUSDC, types.MethodUSDT, types.MethodNative, types.MethodCard, types.MethodX402:
		return nil
	}

	return fmt.Errorf("unsupported method type: %s", t)
}

// ValidateSnapshotAge ensures a market snapshot timestamp is reasonable:
// not stale beyond maxAge and not from the future beyond clock skew.
func ValidateSnapshotAge(timestamp time.Time, maxAge time.Duration) error {
	now := time.Now()

	if timestamp.Before(now.Add(-maxAge)) {
		return fmt.Errorf("market snapshot is too old")
	}

	if timestamp.After(now.Add(10 * time.Minute)) {
		return fmt.Errorf("market snapshot is from the future")
	}

	return nil
}

// Helper function to check if a string is valid hexadecimal
func isHexString(s string) bool {
	match, _ := regexp.MatchString("^[0-9a-fA-F]+$", s)
	return match
}

// ConvertDecimals converts an amount from one decimal precision to another
func ConvertDecimals(amount *big.Int, fromDecimals, toDecimals int) *big.Int {
	if fromDecimals == toDecimals {
		return new(big.Int).Set(amount)
	}

	result := new(big.Int).Set(amount)

	if fromDecimals > toDecimals {
		// Divide by 10^(fromDecimals - toDecimals)
		divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(fromDecimals-toDecimals)), nil)
		result.Div(result, divisor)
	} else {
		// Multiply by 10^(toDecimals - fromDecimals)
		multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toDecimals-fromDecimals)), nil)
		result.Mul(result, multiplier)
	}

	return result
}

// ParseAmountWithDecimals parses a decimal amount string and converts to big.Int with specified decimals
func ParseAmountWithDecimals(amount string, decimals int) (*big.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}

	// Multiply by 10^decimals to get the raw integer amount
	multiplier := decimal.NewFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil), 0)
	result := dec.Mul(multiplier)

	return result.BigInt(), nil
}

// FormatAmountFromBigInt formats a big.Int amount to decimal string with specified decimals
func FormatAmountFromBigInt(amount *big.Int, decimals int) string {
	dec := decimal.NewFromBigInt(amount, -int32(decimals))
	return dec.String()
}

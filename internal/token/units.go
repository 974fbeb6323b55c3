package token

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount bounds balances and supply so they fit a signed 64-bit column.
const MaxAmount uint64 = math.MaxInt64

var errInvalidUnits = errors.New("token: invalid unit amount")

// FormatUnits renders a base-unit amount with the given number of decimals,
// dropping trailing fractional zeros so whole amounts render as integers.
func FormatUnits(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}

// ParseUnits converts a human amount such as "12.5" into base units.
func ParseUnits(value string, decimals uint8) (uint64, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errInvalidUnits, err)
	}
	if parsed.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", errInvalidUnits, value)
	}
	scaled := parsed.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", errInvalidUnits, value, decimals)
	}
	integer := scaled.BigInt()
	if !integer.IsUint64() || integer.Uint64() > MaxAmount {
		return 0, fmt.Errorf("%w: %s exceeds the maximum amount", errInvalidUnits, value)
	}
	return integer.Uint64(), nil
}

func addAmounts(left, right uint64) (uint64, error) {
	if left > MaxAmount || right > MaxAmount-left {
		return 0, ErrAmountOverflow
	}
	return left + right, nil
}

package contracts

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// etherDecimals is the number of wei decimals in one ether.
const etherDecimals = 18

// FormatEther renders a wei amount as an ether decimal string ("1.5", "0").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// ParseEther converts an ether decimal string into wei.
// Amounts with more than 18 fractional digits are rejected rather than truncated.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse ether amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative ether amount %q", s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("ether amount %q has more than %d decimals", s, etherDecimals)
	}
	return wei.BigInt(), nil
}

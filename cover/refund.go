/*
refund.go - Prorated refund arithmetic

PURPOSE:
  Computes how much premium is returned when a policy is cancelled before
  its window closes. This is the single source of rounding in the system.

FORMULA:
  elapsed      = at - start              (0 if at < start)
  total_window = end - start             (> 0, policy invariant)
  remaining    = total_window - elapsed  (> 0, not expired)
  refund       = floor(premium * remaining / total_window)

PRECISION:
  premium * remaining can exceed uint64. The product is formed in
  decimal.Decimal (arbitrary precision) and divided with QuoRem at
  precision 0, which truncates toward zero. Since every operand is
  non-negative, truncation is floor.

EXAMPLES:
  premium 50000, window 0..4320, at 100   -> 50000*4220/4320 = 48842
  premium 50000, window 100..4500, at 2300 -> 50000*2200/4400 = 25000
  at == start                              -> premium
*/
package cover

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Refund returns the prorated refund for a policy cancelled at block `at`.
// Callers must reject expired policies first; at >= end yields ErrPolicyExpired.
func Refund(premium Amount, start, end, at BlockHeight) (Amount, error) {
	if end <= start {
		return 0, ErrInvalidDuration
	}
	if at >= end {
		return 0, ErrPolicyExpired
	}

	window := uint64(end - start)
	var elapsed uint64
	if at > start {
		elapsed = uint64(at - start)
	}
	remaining := window - elapsed

	num := decimalFromUint(uint64(premium)).Mul(decimalFromUint(remaining))
	q, _ := num.QuoRem(decimalFromUint(window), 0)

	// q <= premium, so it always fits.
	return Amount(q.BigInt().Uint64()), nil
}

// RefundFor applies Refund to a stored policy.
func RefundFor(p Policy, at BlockHeight) (Amount, error) {
	return Refund(p.PremiumAmount, p.StartBlock, p.EndBlock, at)
}

func decimalFromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

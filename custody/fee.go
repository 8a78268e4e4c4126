// Package custody owns the fee arithmetic and the two payable balance
// buckets: per-provider pending withdrawals and the operator's accumulated
// platform fees.
package custody

// Platform fee rate, applied to the offer price on top of the amount the
// client pays. Integer arithmetic only; the division truncates.
const (
	FeeRateNumerator   = 2
	FeeRateDenominator = 100
)

// Fee returns the platform fee for a price, rounded down.
func Fee(price int64) int64 {
	return price * FeeRateNumerator / FeeRateDenominator
}

// TotalDue returns the exact payment required to accept an offer.
func TotalDue(price int64) int64 {
	return price + Fee(price)
}

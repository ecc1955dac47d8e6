package money

// Platform fee charged to the winning bidder: 5% of the winning amount plus a
// fixed $1 convenience fee. Losing bidders are refunded in full.
const (
	platformCutBps         = 500
	convenienceFee  Micros = 1 * Dollar
)

// PlatformFee returns the total fee assessed on a winning bid.
func PlatformFee(winning Micros) Micros {
	cut := winning * platformCutBps / 10_000
	return cut + convenienceFee
}

// SellerProceeds returns what the seller receives after fees.
func SellerProceeds(winning Micros) Micros {
	return winning - PlatformFee(winning)
}

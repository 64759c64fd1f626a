package gateway

import "github.com/ethereum/go-ethereum/common/math"

// BasisPointsDenominator is the fee rate that withholds the full amount.
const BasisPointsDenominator = 10_000

// SplitFee divides amount into the platform fee, floor(amount*feeRate/10000),
// and the remainder owed to the merchant. It fails with ErrInvalidAmount
// instead of wrapping when the product overflows or the fee exceeds the
// amount.
func SplitFee(amount, feeRate uint64) (fee, merchantAmount uint64, err error) {
	product, overflow := math.SafeMul(amount, feeRate)
	if overflow {
		return 0, 0, ErrInvalidAmount
	}
	fee = product / BasisPointsDenominator
	merchantAmount, overflow = math.SafeSub(amount, fee)
	if overflow {
		return 0, 0, ErrInvalidAmount
	}
	return fee, merchantAmount, nil
}

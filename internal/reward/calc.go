package reward

import (
	"errors"
	"math"
)

// ErrInvalidAmount is returned for payment amounts that cannot be priced:
// zero, negative, NaN, or infinite.
var ErrInvalidAmount = errors.New("invalid payment amount")

// ErrRewardTooLarge is returned when the reward product leaves float64's
// exact-integer range and truncation can no longer be trusted.
var ErrRewardTooLarge = errors.New("reward amount exceeds exact integer range")

// Products at or above 2^53 may round up during the multiplication, which
// would overpay. Pool ceilings sit below this bound, so a product this
// large is a misconfiguration, not a real reward.
const maxExactProduct = float64(1 << 53)

// Calculate maps a payment amount (decimal-adjusted payment-token units) to
// reward units at a fixed linear rate. Fractional reward units are
// truncated — underpaying a fraction of a unit is acceptable, overpaying is
// not.
func Calculate(amount float64, rate uint64) (uint64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, ErrInvalidAmount
	}

	product := amount * float64(rate)
	if product >= maxExactProduct {
		return 0, ErrRewardTooLarge
	}

	return uint64(math.Floor(product)), nil
}

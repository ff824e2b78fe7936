package storage

import "time"

// User is a registered participant with a fund address (where card payments
// originate) and a reward payout address.
type User struct {
	ID            int64
	Username      string
	FundAddress   string
	RewardAddress string
	CreatedAt     time.Time
}

// ProcessedPayment is the durable record that a ledger payment has been
// rewarded in a given token. (UserID, Token, PaymentTxID) is unique — this
// is the sole mechanism preventing double-reward.
type ProcessedPayment struct {
	UserID        int64
	Token         string
	PaymentTxID   string
	PaymentUnits  uint64  // smallest unit of the payment asset
	PaymentAmount float64 // decimal-adjusted, for reporting
	RewardAmount  uint64  // smallest unit of the reward asset
	RewardTxID    string
	Success       bool
	ProcessedAt   time.Time
}

// PoolState is the cumulative distributed total for one reward token. The
// ceiling lives in configuration, not here.
type PoolState struct {
	Token       string
	Distributed uint64
}

// PendingDisbursement marks a reward submission that may be in flight.
// Written before submission, deleted on definitive success or rejection;
// a surviving marker means the outcome is unknown and must be resolved
// against the ledger before the payment is retried.
type PendingDisbursement struct {
	UserID        int64
	Token         string
	PaymentTxID   string
	PaymentUnits  uint64
	PaymentAmount float64
	RewardAmount  uint64
	Note          []byte
	CreatedAt     time.Time
}

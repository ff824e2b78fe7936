package algoapi

import (
	"errors"
	"fmt"
	"time"
)

// CandidatePayment is a qualifying incoming payment observed on the ledger.
// Reconstructed fresh on every scan; only the tx id is ever persisted.
type CandidatePayment struct {
	TxID      string
	Units     uint64  // smallest unit of the payment asset
	Amount    float64 // decimal-adjusted
	Timestamp time.Time
	InnerTx   bool
}

// ErrConfirmationTimeout means a submitted transaction was not confirmed
// within the bounded round count. The outcome is unknown — the transaction
// may still confirm later.
var ErrConfirmationTimeout = errors.New("confirmation wait timed out")

// ErrSubmitUncertain means a submission attempt failed without proof the
// ledger never received the transaction. Like ErrConfirmationTimeout, the
// outcome is unknown, not failed.
var ErrSubmitUncertain = errors.New("submit outcome uncertain")

// RejectedError means the ledger definitively refused a submitted
// transaction (insufficient balance, receiver not opted in, bad params).
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction rejected: %s", e.Reason)
}

// UnitsToAmount converts smallest-unit asset amounts to a human-readable
// decimal using the asset's decimal count
func UnitsToAmount(units uint64, decimals uint) float64 {
	divisor := 1.0
	for i := uint(0); i < decimals; i++ {
		divisor *= 10
	}
	return float64(units) / divisor
}

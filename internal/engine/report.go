package engine

import (
	"fmt"
	"time"
)

// Status classifies the outcome of one (payment, reward token) pair
type Status string

const (
	StatusRewarded         Status = "rewarded"
	StatusSkippedDuplicate Status = "skipped_duplicate"
	StatusPoolExhausted    Status = "skipped_pool_exhausted"
	StatusNotOptedIn       Status = "skipped_not_opted_in"
	StatusFailed           Status = "failed_disbursement"
	StatusUnknownOutcome   Status = "unknown_outcome"
	StatusRecovered        Status = "recovered"
)

// Outcome records what happened to one candidate payment for one reward
// token during a run
type Outcome struct {
	UserID        int64   `json:"user_id"`
	Token         string  `json:"token"`
	PaymentTxID   string  `json:"payment_tx_id"`
	PaymentAmount float64 `json:"payment_amount"`
	RewardAmount  uint64  `json:"reward_amount,omitempty"`
	RewardTxID    string  `json:"reward_tx_id,omitempty"`
	Status        Status  `json:"status"`
	Reason        string  `json:"reason,omitempty"`
}

// Report is the externally visible result of one reconciliation run
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Count returns the number of outcomes with the given status
func (r *Report) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// RewardedTotal returns the total reward units disbursed for a token in
// this run
func (r *Report) RewardedTotal(token string) uint64 {
	var total uint64
	for _, o := range r.Outcomes {
		if o.Token == token && (o.Status == StatusRewarded || o.Status == StatusRecovered) {
			total += o.RewardAmount
		}
	}
	return total
}

// Summary returns a one-line digest of the run
func (r *Report) Summary() string {
	return fmt.Sprintf(
		"run %s: %d rewarded, %d recovered, %d duplicate, %d pool-exhausted, %d not-opted-in, %d failed, %d unknown (%.1fs)",
		r.RunID,
		r.Count(StatusRewarded),
		r.Count(StatusRecovered),
		r.Count(StatusSkippedDuplicate),
		r.Count(StatusPoolExhausted),
		r.Count(StatusNotOptedIn),
		r.Count(StatusFailed),
		r.Count(StatusUnknownOutcome),
		r.FinishedAt.Sub(r.StartedAt).Seconds(),
	)
}

package reward

import "github.com/socialtag/rewards-reconciler/internal/algoapi"

// FilterNew drops candidates whose ledger tx id is already in the processed
// set. Order-preserving, no side effects.
func FilterNew(candidates []algoapi.CandidatePayment, processed map[string]bool) []algoapi.CandidatePayment {
	var fresh []algoapi.CandidatePayment
	for _, c := range candidates {
		if processed[c.TxID] {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh
}

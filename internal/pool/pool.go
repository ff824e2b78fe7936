package pool

import (
	"fmt"
	"log/slog"

	"github.com/socialtag/rewards-reconciler/internal/config"
	"github.com/socialtag/rewards-reconciler/internal/storage"
)

// Account tracks, per reward token, how much of the fixed pool has been
// distributed. The distributed counter lives in storage and is only ever
// moved by atomic increment; the ceiling comes from configuration.
type Account struct {
	store  *storage.Storage
	totals map[string]uint64
	log    *slog.Logger
}

func New(store *storage.Storage, tokens []config.RewardToken, log *slog.Logger) *Account {
	totals := make(map[string]uint64, len(tokens))
	for _, tok := range tokens {
		totals[tok.Name] = tok.TotalPool
	}

	return &Account{
		store:  store,
		totals: totals,
		log:    log,
	}
}

// Remaining returns how many reward units are left in a token's pool,
// reading the latest persisted distributed total. If the counter exceeds
// the ceiling the pool is treated as empty and flagged for the operator.
func (a *Account) Remaining(token string) (uint64, error) {
	total, ok := a.totals[token]
	if !ok {
		return 0, fmt.Errorf("no pool configured for token %s", token)
	}

	distributed, err := a.store.Distributed(token)
	if err != nil {
		return 0, fmt.Errorf("read distributed total for %s: %w", token, err)
	}

	if distributed > total {
		a.log.Error("pool counter exceeds total pool, treating as exhausted",
			"token", token,
			"distributed", distributed,
			"total_pool", total,
		)
		return 0, nil
	}

	return total - distributed, nil
}

// RecordDistribution atomically adds a confirmed disbursement to the
// token's distributed total
func (a *Account) RecordDistribution(token string, amount uint64) error {
	if _, ok := a.totals[token]; !ok {
		return fmt.Errorf("no pool configured for token %s", token)
	}
	return a.store.AddDistributed(token, amount)
}

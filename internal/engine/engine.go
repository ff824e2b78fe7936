package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/socialtag/rewards-reconciler/internal/algoapi"
	"github.com/socialtag/rewards-reconciler/internal/config"
	"github.com/socialtag/rewards-reconciler/internal/pool"
	"github.com/socialtag/rewards-reconciler/internal/reward"
	"github.com/socialtag/rewards-reconciler/internal/storage"
)

// Ledger is the slice of the Algorand client the engine needs
type Ledger interface {
	ScanIncoming(ctx context.Context, fundAddress string) ([]algoapi.CandidatePayment, error)
	OptedInAssets(ctx context.Context, address string) (map[uint64]bool, error)
	Disburse(ctx context.Context, receiver string, amount uint64, assetID uint64, note []byte) (string, error)
	FindDisbursement(ctx context.Context, note []byte) (string, bool, error)
}

// Engine runs the reconciliation sweep: scan each eligible user's fund
// address for qualifying payments, dedup against processed history, compute
// and disburse rewards within pool capacity, and record outcomes
type Engine struct {
	cfg    *config.Config
	store  *storage.Storage
	ledger Ledger
	pool   *pool.Account
	log    *slog.Logger
}

func New(cfg *config.Config, store *storage.Storage, ledger Ledger, poolAcct *pool.Account, log *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		pool:   poolAcct,
		log:    log,
	}
}

// Start runs a sweep immediately and then on every tick until the context
// is cancelled. Each completed run's report is handed to onReport.
func (e *Engine) Start(ctx context.Context, interval time.Duration, onReport func(*Report)) {
	e.log.Info("reconciliation loop started", "interval", interval)

	e.runAndReport(ctx, onReport)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runAndReport(ctx, onReport)
		}
	}
}

func (e *Engine) runAndReport(ctx context.Context, onReport func(*Report)) {
	report, err := e.Run(ctx)
	if err != nil {
		e.log.Error("reconciliation run aborted", "error", err)
		return
	}
	if onReport != nil {
		onReport(report)
	}
}

// Run performs one full reconciliation sweep. Failures local to one
// candidate or one user are recorded and skipped; only storage failures
// abort the run.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	e.log.Info("reconciliation run started", "run_id", report.RunID)

	e.resolvePending(ctx, report)

	users, err := e.store.EligibleUsers()
	if err != nil {
		return nil, fmt.Errorf("load eligible users: %w", err)
	}

	e.log.Info("processing users", "count", len(users))

	for i := range users {
		e.processUser(ctx, report, &users[i])
	}

	report.FinishedAt = time.Now()
	e.log.Info("reconciliation run finished", "run_id", report.RunID, "summary", report.Summary())

	return report, nil
}

// resolvePending settles markers left by disbursements whose outcome was
// unknown when the previous run ended. A marker whose note is found on the
// ledger is promoted to a processed payment; one with no ledger match is
// cleared so the normal sweep retries the candidate.
func (e *Engine) resolvePending(ctx context.Context, report *Report) {
	pending, err := e.store.PendingDisbursements()
	if err != nil {
		e.log.Error("load pending disbursements", "error", err)
		return
	}

	for _, p := range pending {
		rewardTxID, found, err := e.ledger.FindDisbursement(ctx, p.Note)
		if err != nil {
			// Keep the marker; resolved on a later run.
			e.log.Warn("resolve pending disbursement", "payment_tx_id", p.PaymentTxID, "error", err)
			continue
		}

		if !found {
			if err := e.store.DeletePendingDisbursement(p.UserID, p.Token, p.PaymentTxID); err != nil {
				e.log.Error("clear pending disbursement", "payment_tx_id", p.PaymentTxID, "error", err)
				continue
			}
			e.log.Info("pending disbursement not on ledger, candidate will be retried",
				"user_id", p.UserID,
				"token", p.Token,
				"payment_tx_id", p.PaymentTxID,
			)
			continue
		}

		rec := &storage.ProcessedPayment{
			UserID:        p.UserID,
			Token:         p.Token,
			PaymentTxID:   p.PaymentTxID,
			PaymentUnits:  p.PaymentUnits,
			PaymentAmount: p.PaymentAmount,
			RewardAmount:  p.RewardAmount,
			RewardTxID:    rewardTxID,
			Success:       true,
			ProcessedAt:   time.Now(),
		}

		if err := e.store.CommitDisbursement(rec); err != nil {
			if errors.Is(err, storage.ErrDuplicatePayment) {
				// Already recorded, only the marker cleanup was lost.
				if err := e.store.DeletePendingDisbursement(p.UserID, p.Token, p.PaymentTxID); err != nil {
					e.log.Error("clear pending disbursement", "payment_tx_id", p.PaymentTxID, "error", err)
				}
				continue
			}
			e.log.Error("commit recovered disbursement", "payment_tx_id", p.PaymentTxID, "error", err)
			continue
		}

		e.log.Info("recovered confirmed disbursement from pending marker",
			"user_id", p.UserID,
			"token", p.Token,
			"payment_tx_id", p.PaymentTxID,
			"reward_tx_id", rewardTxID,
		)

		report.add(Outcome{
			UserID:        p.UserID,
			Token:         p.Token,
			PaymentTxID:   p.PaymentTxID,
			PaymentAmount: p.PaymentAmount,
			RewardAmount:  p.RewardAmount,
			RewardTxID:    rewardTxID,
			Status:        StatusRecovered,
		})
	}
}

func (e *Engine) processUser(ctx context.Context, report *Report, user *storage.User) {
	candidates, err := e.ledger.ScanIncoming(ctx, user.FundAddress)
	if err != nil {
		// Recoverable: a failed scan must not abort the run for other users.
		e.log.Warn("scan failed, skipping user",
			"user_id", user.ID,
			"fund_address", user.FundAddress,
			"error", err,
		)
		return
	}

	if len(candidates) == 0 {
		return
	}

	optedIn, err := e.ledger.OptedInAssets(ctx, user.RewardAddress)
	if err != nil {
		e.log.Warn("opted-in asset lookup failed, skipping user",
			"user_id", user.ID,
			"reward_address", user.RewardAddress,
			"error", err,
		)
		return
	}

	for _, tok := range e.cfg.RewardTokens {
		e.processToken(ctx, report, user, tok, candidates, optedIn[tok.AssetID])
	}
}

func (e *Engine) processToken(ctx context.Context, report *Report, user *storage.User, tok config.RewardToken, candidates []algoapi.CandidatePayment, optedIn bool) {
	processed, err := e.store.ProcessedPaymentIDs(user.ID, tok.Name)
	if err != nil {
		e.log.Error("load processed payments", "user_id", user.ID, "token", tok.Name, "error", err)
		return
	}

	for _, cand := range candidates {
		if processed[cand.TxID] {
			report.add(Outcome{
				UserID:        user.ID,
				Token:         tok.Name,
				PaymentTxID:   cand.TxID,
				PaymentAmount: cand.Amount,
				Status:        StatusSkippedDuplicate,
			})
		}
	}

	fresh := reward.FilterNew(candidates, processed)
	if len(fresh) == 0 {
		return
	}

	if !optedIn {
		for _, cand := range fresh {
			report.add(Outcome{
				UserID:        user.ID,
				Token:         tok.Name,
				PaymentTxID:   cand.TxID,
				PaymentAmount: cand.Amount,
				Status:        StatusNotOptedIn,
			})
		}
		e.log.Debug("reward address not opted into asset",
			"user_id", user.ID,
			"token", tok.Name,
			"asset_id", tok.AssetID,
		)
		return
	}

	exhausted := false
	for _, cand := range fresh {
		if exhausted {
			report.add(Outcome{
				UserID:        user.ID,
				Token:         tok.Name,
				PaymentTxID:   cand.TxID,
				PaymentAmount: cand.Amount,
				Status:        StatusPoolExhausted,
			})
			continue
		}

		amount, err := reward.Calculate(cand.Amount, tok.Rate)
		if err != nil {
			report.add(Outcome{
				UserID:        user.ID,
				Token:         tok.Name,
				PaymentTxID:   cand.TxID,
				PaymentAmount: cand.Amount,
				Status:        StatusFailed,
				Reason:        err.Error(),
			})
			continue
		}

		remaining, err := e.pool.Remaining(tok.Name)
		if err != nil {
			// Storage trouble: stop disbursing for this token scope.
			e.log.Error("read pool remaining, aborting token scope",
				"user_id", user.ID,
				"token", tok.Name,
				"error", err,
			)
			return
		}

		if amount > remaining {
			// Stop rather than partially reward later candidates.
			exhausted = true
			e.log.Warn("pool exhausted",
				"token", tok.Name,
				"remaining", remaining,
				"needed", amount,
			)
			report.add(Outcome{
				UserID:        user.ID,
				Token:         tok.Name,
				PaymentTxID:   cand.TxID,
				PaymentAmount: cand.Amount,
				RewardAmount:  amount,
				Status:        StatusPoolExhausted,
			})
			continue
		}

		if err := e.disburseCandidate(ctx, report, user, tok, cand, amount); err != nil {
			// Invariant violation: no further disbursement in this scope.
			e.log.Error("aborting token scope", "user_id", user.ID, "token", tok.Name, "error", err)
			return
		}
	}
}

// disburseCandidate submits one reward transfer and records its outcome.
// A non-nil return signals an invariant violation that must stop the
// (user, token) scope; ordinary disbursement failures are absorbed into
// the report.
func (e *Engine) disburseCandidate(ctx context.Context, report *Report, user *storage.User, tok config.RewardToken, cand algoapi.CandidatePayment, amount uint64) error {
	note := DisbursementNote(tok.Memo, cand.TxID)

	marker := &storage.PendingDisbursement{
		UserID:        user.ID,
		Token:         tok.Name,
		PaymentTxID:   cand.TxID,
		PaymentUnits:  cand.Units,
		PaymentAmount: cand.Amount,
		RewardAmount:  amount,
		Note:          note,
		CreatedAt:     time.Now(),
	}
	if err := e.store.AddPendingDisbursement(marker); err != nil {
		return fmt.Errorf("write pending marker: %w", err)
	}

	rewardTxID, err := e.ledger.Disburse(ctx, user.RewardAddress, amount, tok.AssetID, note)
	if err != nil {
		var rejected *algoapi.RejectedError
		switch {
		case errors.As(err, &rejected):
			// Definitive refusal: no bookkeeping, safe to retry next run.
			if err := e.store.DeletePendingDisbursement(user.ID, tok.Name, cand.TxID); err != nil {
				e.log.Error("clear pending disbursement", "payment_tx_id", cand.TxID, "error", err)
			}
			e.log.Warn("disbursement rejected",
				"user_id", user.ID,
				"token", tok.Name,
				"payment_tx_id", cand.TxID,
				"reason", rejected.Reason,
			)
			report.add(Outcome{
				UserID:        user.ID,
				Token:         tok.Name,
				PaymentTxID:   cand.TxID,
				PaymentAmount: cand.Amount,
				RewardAmount:  amount,
				Status:        StatusFailed,
				Reason:        rejected.Reason,
			})
		case errors.Is(err, algoapi.ErrConfirmationTimeout) || errors.Is(err, algoapi.ErrSubmitUncertain):
			// Unknown outcome: the marker stays and is resolved against
			// the ledger at the start of the next run.
			e.log.Warn("disbursement outcome unknown",
				"user_id", user.ID,
				"token", tok.Name,
				"payment_tx_id", cand.TxID,
				"error", err,
			)
			report.add(Outcome{
				UserID:        user.ID,
				Token:         tok.Name,
				PaymentTxID:   cand.TxID,
				PaymentAmount: cand.Amount,
				RewardAmount:  amount,
				Status:        StatusUnknownOutcome,
				Reason:        err.Error(),
			})
		default:
			// Failures before submission; the ledger never saw the transfer.
			if err := e.store.DeletePendingDisbursement(user.ID, tok.Name, cand.TxID); err != nil {
				e.log.Error("clear pending disbursement", "payment_tx_id", cand.TxID, "error", err)
			}
			e.log.Error("disbursement failed",
				"user_id", user.ID,
				"token", tok.Name,
				"payment_tx_id", cand.TxID,
				"error", err,
			)
			report.add(Outcome{
				UserID:        user.ID,
				Token:         tok.Name,
				PaymentTxID:   cand.TxID,
				PaymentAmount: cand.Amount,
				RewardAmount:  amount,
				Status:        StatusFailed,
				Reason:        err.Error(),
			})
		}
		return nil
	}

	rec := &storage.ProcessedPayment{
		UserID:        user.ID,
		Token:         tok.Name,
		PaymentTxID:   cand.TxID,
		PaymentUnits:  cand.Units,
		PaymentAmount: cand.Amount,
		RewardAmount:  amount,
		RewardTxID:    rewardTxID,
		Success:       true,
		ProcessedAt:   time.Now(),
	}

	if err := e.store.CommitDisbursement(rec); err != nil {
		if errors.Is(err, storage.ErrDuplicatePayment) {
			return fmt.Errorf("payment %s already recorded for token %s: %w", cand.TxID, tok.Name, err)
		}
		return fmt.Errorf("commit disbursement %s: %w", cand.TxID, err)
	}

	e.log.Info("payment rewarded",
		"user_id", user.ID,
		"token", tok.Name,
		"payment_tx_id", cand.TxID,
		"payment_amount", cand.Amount,
		"reward_amount", amount,
		"reward_tx_id", rewardTxID,
	)

	report.add(Outcome{
		UserID:        user.ID,
		Token:         tok.Name,
		PaymentTxID:   cand.TxID,
		PaymentAmount: cand.Amount,
		RewardAmount:  amount,
		RewardTxID:    rewardTxID,
		Status:        StatusRewarded,
	})

	return nil
}

// DisbursementNote builds the transfer note: the pool memo plus the source
// payment tx id, making the note a checkable side-channel for markers whose
// confirmation wait timed out.
func DisbursementNote(memo, paymentTxID string) []byte {
	if memo == "" {
		return []byte(paymentTxID)
	}
	return []byte(memo + "|" + paymentTxID)
}

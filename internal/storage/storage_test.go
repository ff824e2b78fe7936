package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestAddAndListUsers(t *testing.T) {
	s := newTestStorage(t)

	u, err := s.AddUser("alice", "FUND_A", "REWARD_A")
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	_, err = s.AddUser("bob", "FUND_B", "REWARD_B")
	require.NoError(t, err)

	// Missing addresses make a user ineligible.
	_, err = s.AddUser("carol", "", "")
	require.NoError(t, err)

	users, err := s.EligibleUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "alice", users[0].Username)
	require.Equal(t, "FUND_A", users[0].FundAddress)

	got, err := s.GetUser(u.ID)
	require.NoError(t, err)
	require.Equal(t, "REWARD_A", got.RewardAddress)

	_, err = s.GetUser(9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordProcessedPaymentDedup(t *testing.T) {
	s := newTestStorage(t)

	p := &ProcessedPayment{
		UserID:        1,
		Token:         "SOCIALS",
		PaymentTxID:   "T1",
		PaymentUnits:  10_000_000,
		PaymentAmount: 10,
		RewardAmount:  10_000_000_000,
		RewardTxID:    "R1",
		Success:       true,
		ProcessedAt:   time.Now(),
	}

	require.NoError(t, s.RecordProcessedPayment(p))

	// Same key again is an invariant violation, not an overwrite.
	err := s.RecordProcessedPayment(p)
	require.ErrorIs(t, err, ErrDuplicatePayment)

	// Same tx id under a different token is a distinct record.
	p2 := *p
	p2.Token = "MEEP"
	require.NoError(t, s.RecordProcessedPayment(&p2))

	ids, err := s.ProcessedPaymentIDs(1, "SOCIALS")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"T1": true}, ids)

	payments, err := s.ListProcessedPayments(1)
	require.NoError(t, err)
	require.Len(t, payments, 2)
}

func TestPoolStatsIncrement(t *testing.T) {
	s := newTestStorage(t)

	d, err := s.Distributed("SOCIALS")
	require.NoError(t, err)
	require.Zero(t, d)

	require.NoError(t, s.AddDistributed("SOCIALS", 100))
	require.NoError(t, s.AddDistributed("SOCIALS", 250))

	d, err = s.Distributed("SOCIALS")
	require.NoError(t, err)
	require.Equal(t, uint64(350), d)

	// Counters are per token.
	d, err = s.Distributed("MEEP")
	require.NoError(t, err)
	require.Zero(t, d)
}

func TestPendingDisbursementLifecycle(t *testing.T) {
	s := newTestStorage(t)

	marker := &PendingDisbursement{
		UserID:        1,
		Token:         "SOCIALS",
		PaymentTxID:   "T1",
		PaymentUnits:  5_000_000,
		PaymentAmount: 5,
		RewardAmount:  5_000_000,
		Note:          []byte("SocialTag rewards|T1"),
		CreatedAt:     time.Now(),
	}

	require.NoError(t, s.AddPendingDisbursement(marker))

	pending, err := s.PendingDisbursements()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "T1", pending[0].PaymentTxID)
	require.Equal(t, []byte("SocialTag rewards|T1"), pending[0].Note)

	require.NoError(t, s.DeletePendingDisbursement(1, "SOCIALS", "T1"))

	pending, err = s.PendingDisbursements()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestCommitDisbursement(t *testing.T) {
	s := newTestStorage(t)

	marker := &PendingDisbursement{
		UserID: 1, Token: "SOCIALS", PaymentTxID: "T1",
		PaymentUnits: 10_000_000, PaymentAmount: 10, RewardAmount: 10_000_000,
		Note: []byte("n|T1"), CreatedAt: time.Now(),
	}
	require.NoError(t, s.AddPendingDisbursement(marker))

	rec := &ProcessedPayment{
		UserID: 1, Token: "SOCIALS", PaymentTxID: "T1",
		PaymentUnits: 10_000_000, PaymentAmount: 10, RewardAmount: 10_000_000,
		RewardTxID: "R1", Success: true, ProcessedAt: time.Now(),
	}
	require.NoError(t, s.CommitDisbursement(rec))

	// All three effects landed together.
	ids, err := s.ProcessedPaymentIDs(1, "SOCIALS")
	require.NoError(t, err)
	require.True(t, ids["T1"])

	d, err := s.Distributed("SOCIALS")
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), d)

	pending, err := s.PendingDisbursements()
	require.NoError(t, err)
	require.Empty(t, pending)

	// A duplicate commit rolls back entirely: no second increment.
	err = s.CommitDisbursement(rec)
	require.ErrorIs(t, err, ErrDuplicatePayment)

	d, err = s.Distributed("SOCIALS")
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), d)
}

func TestSumRewardsMatchesDistributed(t *testing.T) {
	s := newTestStorage(t)

	for i, tx := range []string{"T1", "T2", "T3"} {
		rec := &ProcessedPayment{
			UserID: int64(i%2 + 1), Token: "SOCIALS", PaymentTxID: tx,
			PaymentUnits: 1_000_000, PaymentAmount: 1, RewardAmount: 1_000_000,
			RewardTxID: "R" + tx, Success: true, ProcessedAt: time.Now(),
		}
		require.NoError(t, s.CommitDisbursement(rec))
	}

	sum, err := s.SumRewards("SOCIALS")
	require.NoError(t, err)

	d, err := s.Distributed("SOCIALS")
	require.NoError(t, err)

	require.Equal(t, uint64(3_000_000), sum)
	require.Equal(t, sum, d)
}

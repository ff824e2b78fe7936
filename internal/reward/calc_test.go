package reward

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/socialtag/rewards-reconciler/internal/algoapi"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		rate   uint64
		want   uint64
	}{
		{"one usdc at 1M", 1, 1_000_000, 1_000_000},
		{"2.5 usdc at 1B", 2.5, 1_000_000_000, 2_500_000_000},
		{"10 usdc at 1B", 10, 1_000_000_000, 10_000_000_000},
		{"fraction truncates to zero", 0.0000001, 1, 0},
		{"fraction truncates down", 1.9, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.amount, tt.rate)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateInvalidAmounts(t *testing.T) {
	for _, amount := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Calculate(amount, 1_000_000)
		require.ErrorIs(t, err, ErrInvalidAmount, "amount %v", amount)
	}
}

func TestCalculateRefusesInexactProducts(t *testing.T) {
	// 1e10 USDC at 1B per unit is 1e19 reward units, far past 2^53 where
	// the float64 product can round up and overpay.
	_, err := Calculate(1e10, 1_000_000_000)
	require.ErrorIs(t, err, ErrRewardTooLarge)

	// 4e15 is still exact.
	got, err := Calculate(4_000_000_000, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(4_000_000_000_000_000), got)
}

func TestFilterNew(t *testing.T) {
	candidates := []algoapi.CandidatePayment{
		{TxID: "T1", Amount: 1},
		{TxID: "T2", Amount: 2},
		{TxID: "T3", Amount: 3},
		{TxID: "T4", Amount: 4},
	}

	fresh := FilterNew(candidates, map[string]bool{"T2": true, "T4": true})

	require.Len(t, fresh, 2)
	require.Equal(t, "T1", fresh[0].TxID)
	require.Equal(t, "T3", fresh[1].TxID)
}

func TestFilterNewEmptyProcessedSet(t *testing.T) {
	candidates := []algoapi.CandidatePayment{{TxID: "T1"}, {TxID: "T2"}}

	fresh := FilterNew(candidates, map[string]bool{})
	require.Equal(t, candidates, fresh)

	fresh = FilterNew(candidates, nil)
	require.Equal(t, candidates, fresh)
}

func TestFilterNewAllProcessed(t *testing.T) {
	candidates := []algoapi.CandidatePayment{{TxID: "T1"}, {TxID: "T2"}}

	fresh := FilterNew(candidates, map[string]bool{"T1": true, "T2": true})
	require.Empty(t, fresh)
}

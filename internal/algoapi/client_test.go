package algoapi

import (
	"errors"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/stretchr/testify/require"
)

const master = "UAKUGWMTFQJLUWMY4DYLVVAC67NOLUGGW6MIVAIPUU2APLTAKWSCQAJIEM"

func newTestClient() *Client {
	return &Client{
		masterCollector: master,
		paymentAssetID:  31566704,
		paymentDecimals: 6,
	}
}

func axfer(id string, assetID uint64, receiver string, amount uint64) models.Transaction {
	return models.Transaction{
		Id:        id,
		Type:      "axfer",
		RoundTime: 1700000000,
		AssetTransferTransaction: models.TransactionAssetTransfer{
			AssetId:  assetID,
			Receiver: receiver,
			Amount:   amount,
		},
	}
}

func TestCollectTransfersFiltersByAssetAndReceiver(t *testing.T) {
	c := newTestClient()

	txs := []models.Transaction{
		axfer("T1", 31566704, master, 10_000_000), // qualifying: 10 USDC to master
		axfer("T2", 999, master, 5_000_000),       // wrong asset
		axfer("T3", 31566704, "SOMEONE_ELSE", 1),  // wrong receiver
		{Id: "T4", Type: "pay", RoundTime: 1700000000}, // not a transfer
	}

	var out []CandidatePayment
	for _, tx := range txs {
		c.collectTransfers(tx, tx.Id, &out)
	}

	require.Len(t, out, 1)
	require.Equal(t, "T1", out[0].TxID)
	require.Equal(t, uint64(10_000_000), out[0].Units)
	require.Equal(t, 10.0, out[0].Amount)
	require.False(t, out[0].InnerTx)
}

func TestCollectTransfersFlattensInnerTransactions(t *testing.T) {
	c := newTestClient()

	// App call routing the card payment through inner transfers, the way
	// the master contract settles: the inner axfer has no id of its own.
	app := models.Transaction{
		Id:        "APP1",
		Type:      "appl",
		RoundTime: 1700000000,
		InnerTxns: []models.Transaction{
			{
				Type:      "axfer",
				RoundTime: 1700000000,
				AssetTransferTransaction: models.TransactionAssetTransfer{
					AssetId:  31566704,
					Receiver: master,
					Amount:   2_500_000,
				},
			},
			axfer("", 999, master, 7), // inner, wrong asset
		},
	}

	var out []CandidatePayment
	c.collectTransfers(app, app.Id, &out)

	require.Len(t, out, 1)
	require.Equal(t, "APP1/inner/0", out[0].TxID)
	require.Equal(t, 2.5, out[0].Amount)
	require.True(t, out[0].InnerTx)
}

func TestCollectTransfersDistinctInnerIDs(t *testing.T) {
	c := newTestClient()

	inner := models.Transaction{
		Type: "axfer",
		AssetTransferTransaction: models.TransactionAssetTransfer{
			AssetId: 31566704, Receiver: master, Amount: 1_000_000,
		},
	}
	app := models.Transaction{
		Id:        "APP2",
		Type:      "appl",
		InnerTxns: []models.Transaction{inner, inner},
	}

	var out []CandidatePayment
	c.collectTransfers(app, app.Id, &out)

	require.Len(t, out, 2)
	require.NotEqual(t, out[0].TxID, out[1].TxID)
}

func TestUnitsToAmount(t *testing.T) {
	require.Equal(t, 10.0, UnitsToAmount(10_000_000, 6))
	require.Equal(t, 2.5, UnitsToAmount(2_500_000, 6))
	require.Equal(t, 7.0, UnitsToAmount(7, 0))
}

func TestMatchDisbursementRequiresExactNote(t *testing.T) {
	noteOne := []byte("SocialTag rewards|APP1/inner/1")
	noteTen := []byte("SocialTag rewards|APP1/inner/10")

	txs := []models.Transaction{
		{Id: "R10", Type: "axfer", Sender: "SENDER", Note: noteTen},
	}

	// The indexer's note-prefix query returns this transfer for noteOne
	// as well; only an exact note match may settle the marker.
	_, ok := matchDisbursement(txs, "SENDER", noteOne)
	require.False(t, ok)

	id, ok := matchDisbursement(txs, "SENDER", noteTen)
	require.True(t, ok)
	require.Equal(t, "R10", id)
}

func TestMatchDisbursementChecksSenderAndType(t *testing.T) {
	note := []byte("SocialTag rewards|T1")

	txs := []models.Transaction{
		{Id: "X1", Type: "axfer", Sender: "SOMEONE_ELSE", Note: note},
		{Id: "X2", Type: "pay", Sender: "SENDER", Note: note},
		{Id: "X3", Type: "axfer", Sender: "SENDER", Note: note},
	}

	id, ok := matchDisbursement(txs, "SENDER", note)
	require.True(t, ok)
	require.Equal(t, "X3", id)
}

func TestIsDefinitiveRejection(t *testing.T) {
	rejections := []string{
		"HTTP 400 Bad Request: TransactionPool.Remember: overspend",
		"transaction rejected by network",
		"asset 2607097066 missing from account",
	}
	for _, msg := range rejections {
		require.True(t, isDefinitiveRejection(errors.New(msg)), msg)
	}

	ambiguous := []string{
		"Post \"https://mainnet-api.algonode.cloud\": context deadline exceeded",
		"unexpected EOF",
		"connection reset by peer",
	}
	for _, msg := range ambiguous {
		require.False(t, isDefinitiveRejection(errors.New(msg)), msg)
	}
}

func TestRejectedError(t *testing.T) {
	err := &RejectedError{Reason: "asset 2607097066 missing from account"}
	require.Contains(t, err.Error(), "rejected")
	require.Contains(t, err.Error(), "missing from account")
}

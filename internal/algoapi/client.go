package algoapi

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/indexer"
	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/transaction"

	"github.com/socialtag/rewards-reconciler/internal/config"
)

// Client wraps the Algorand algod and indexer APIs for scanning incoming
// payments and disbursing reward asset transfers
type Client struct {
	algod   *algod.Client
	indexer *indexer.Client
	account crypto.Account
	log     *slog.Logger

	masterCollector    string
	paymentAssetID     uint64
	paymentDecimals    uint
	confirmationRounds uint64
	pageLimit          uint64

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient creates a ledger client holding the reward wallet credential.
// The private key lives only in process memory for the lifetime of the
// client.
func NewClient(cfg *config.Config, log *slog.Logger) (*Client, error) {
	algodClient, err := algod.MakeClient(cfg.AlgodURL, cfg.AlgodToken)
	if err != nil {
		return nil, fmt.Errorf("create algod client: %w", err)
	}

	indexerClient, err := indexer.MakeClient(cfg.IndexerURL, cfg.IndexerToken)
	if err != nil {
		return nil, fmt.Errorf("create indexer client: %w", err)
	}

	sk, err := mnemonic.ToPrivateKey(cfg.RewardWalletMnemonic)
	if err != nil {
		return nil, fmt.Errorf("derive key from mnemonic: %w", err)
	}

	account, err := crypto.AccountFromPrivateKey(sk)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}

	return &Client{
		algod:              algodClient,
		indexer:            indexerClient,
		account:            account,
		log:                log,
		masterCollector:    cfg.MasterCollectorAddr,
		paymentAssetID:     cfg.PaymentAssetID,
		paymentDecimals:    cfg.PaymentAssetDecimals,
		confirmationRounds: cfg.ConfirmationRounds,
		pageLimit:          cfg.ScanPageLimit,
		minDelay:           250 * time.Millisecond, // ~4 RPS
	}, nil
}

// SenderAddress returns the reward wallet address
func (c *Client) SenderAddress() string {
	return c.account.Address.String()
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.minDelay {
		time.Sleep(c.minDelay - elapsed)
	}
	c.lastCall = time.Now()
}

// ScanIncoming returns all payments of the configured payment asset sent to
// the master collector that appear in the fund address's transaction
// history, inner transactions included. Every call re-queries the full
// visible history; deduplication against processed payments is the caller's
// responsibility.
func (c *Client) ScanIncoming(ctx context.Context, fundAddress string) ([]CandidatePayment, error) {
	var candidates []CandidatePayment

	next := ""
	for {
		c.throttle()

		query := c.indexer.LookupAccountTransactions(fundAddress).Limit(c.pageLimit)
		if next != "" {
			query = query.NextToken(next)
		}

		resp, err := query.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup transactions for %s: %w", fundAddress, err)
		}

		for _, tx := range resp.Transactions {
			c.collectTransfers(tx, tx.Id, &candidates)
		}

		if resp.NextToken == "" || len(resp.Transactions) == 0 {
			break
		}
		next = resp.NextToken
	}

	return candidates, nil
}

// collectTransfers flattens a transaction and its inner transactions into
// qualifying candidate payments. Inner transactions carry no id of their
// own on the indexer, so they are keyed by parent id and position.
func (c *Client) collectTransfers(tx models.Transaction, parentID string, out *[]CandidatePayment) {
	if c.qualifies(tx) {
		id := tx.Id
		inner := false
		if id == "" {
			id = parentID
			inner = true
		}
		*out = append(*out, CandidatePayment{
			TxID:      id,
			Units:     tx.AssetTransferTransaction.Amount,
			Amount:    UnitsToAmount(tx.AssetTransferTransaction.Amount, c.paymentDecimals),
			Timestamp: time.Unix(int64(tx.RoundTime), 0),
			InnerTx:   inner,
		})
	}

	for i, innerTx := range tx.InnerTxns {
		childID := innerTx.Id
		if childID == "" {
			childID = fmt.Sprintf("%s/inner/%d", parentID, i)
		}
		c.collectTransfers(innerTx, childID, out)
	}
}

func (c *Client) qualifies(tx models.Transaction) bool {
	if tx.Type != "axfer" {
		return false
	}
	atx := tx.AssetTransferTransaction
	return atx.AssetId == c.paymentAssetID &&
		atx.Receiver == c.masterCollector &&
		atx.Amount > 0
}

// OptedInAssets returns the set of asset ids an address holds
func (c *Client) OptedInAssets(ctx context.Context, address string) (map[uint64]bool, error) {
	c.throttle()

	_, acct, err := c.indexer.LookupAccountByID(address).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup account %s: %w", address, err)
	}

	assets := make(map[uint64]bool, len(acct.Assets))
	for _, holding := range acct.Assets {
		assets[holding.AssetId] = true
	}

	return assets, nil
}

// Disburse builds, signs, and submits a single asset transfer from the
// reward wallet, then blocks until the ledger confirms it or the bounded
// round wait elapses. A RejectedError is definitive; ErrSubmitUncertain and
// ErrConfirmationTimeout mean the outcome is unknown.
func (c *Client) Disburse(ctx context.Context, receiver string, amount uint64, assetID uint64, note []byte) (string, error) {
	c.throttle()

	params, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return "", fmt.Errorf("suggested params: %w", err)
	}

	txn, err := transaction.MakeAssetTransferTxn(
		c.account.Address.String(), receiver, amount, note, params, "", assetID,
	)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}

	txID, signed, err := crypto.SignTransaction(c.account.PrivateKey, txn)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}

	if _, err := c.algod.SendRawTransaction(signed).Do(ctx); err != nil {
		if isDefinitiveRejection(err) {
			return "", &RejectedError{Reason: err.Error()}
		}
		// The request may have been delivered even though the response
		// was lost; only the ledger can say.
		return "", fmt.Errorf("%w: submit: %v", ErrSubmitUncertain, err)
	}

	confirmed, err := transaction.WaitForConfirmation(c.algod, txID, c.confirmationRounds, ctx)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "rejected") {
			return "", &RejectedError{Reason: err.Error()}
		}
		return "", fmt.Errorf("%w: %v", ErrConfirmationTimeout, err)
	}

	c.log.Info("disbursement confirmed",
		"tx_id", txID,
		"round", confirmed.ConfirmedRound,
		"receiver", receiver,
		"asset_id", assetID,
		"amount", amount,
	)

	return txID, nil
}

// FindDisbursement looks for a confirmed asset transfer from the reward
// wallet carrying the given note. Used to resolve disbursements whose
// confirmation wait timed out.
func (c *Client) FindDisbursement(ctx context.Context, note []byte) (string, bool, error) {
	c.throttle()

	resp, err := c.indexer.LookupAccountTransactions(c.account.Address.String()).
		NotePrefix(note).
		TxType("axfer").
		Do(ctx)
	if err != nil {
		return "", false, fmt.Errorf("lookup by note: %w", err)
	}

	if txID, ok := matchDisbursement(resp.Transactions, c.account.Address.String(), note); ok {
		return txID, true, nil
	}

	return "", false, nil
}

// matchDisbursement picks the transfer carrying exactly the marker's note.
// The indexer query is a prefix match, and synthetic inner-tx ids make one
// note a strict prefix of another, so equality must be re-checked here.
func matchDisbursement(txs []models.Transaction, sender string, note []byte) (string, bool) {
	for _, tx := range txs {
		if tx.Sender == sender && tx.Type == "axfer" && bytes.Equal(tx.Note, note) {
			return tx.Id, true
		}
	}
	return "", false
}

// Messages algod returns when it has seen and refused a transaction.
// Anything else on submit leaves delivery uncertain: the transaction may
// still reach the pool.
var rejectionMarkers = []string{
	"transactionpool.remember",
	"rejected",
	"overspend",
	"malformed",
	"below min",
	"missing from",
	"http 400",
}

func isDefinitiveRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

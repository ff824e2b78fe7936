package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePayment means a processed payment with the same
	// (user, token, ledger tx id) already exists. The caller must treat
	// this as an invariant violation, never overwrite.
	ErrDuplicatePayment = errors.New("payment already processed")
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			fund_address TEXT NOT NULL,
			reward_address TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_fund_address ON users(fund_address)`,

		`CREATE TABLE IF NOT EXISTS processed_payments (
			user_id INTEGER NOT NULL,
			token TEXT NOT NULL,
			payment_tx_id TEXT NOT NULL,
			payment_units INTEGER NOT NULL,
			payment_amount REAL NOT NULL,
			reward_amount INTEGER NOT NULL,
			reward_tx_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			processed_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, token, payment_tx_id)
		)`,

		`CREATE TABLE IF NOT EXISTS pool_stats (
			token TEXT PRIMARY KEY,
			distributed INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS pending_disbursements (
			user_id INTEGER NOT NULL,
			token TEXT NOT NULL,
			payment_tx_id TEXT NOT NULL,
			payment_units INTEGER NOT NULL,
			payment_amount REAL NOT NULL,
			reward_amount INTEGER NOT NULL,
			note BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, token, payment_tx_id)
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Users ---

// AddUser registers a user with their fund and reward addresses
func (s *Storage) AddUser(username, fundAddress, rewardAddress string) (*User, error) {
	now := time.Now().Unix()
	result, err := s.db.Exec(
		`INSERT INTO users (username, fund_address, reward_address, created_at)
		 VALUES (?, ?, ?, ?)`,
		username, fundAddress, rewardAddress, now,
	)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &User{
		ID:            id,
		Username:      username,
		FundAddress:   fundAddress,
		RewardAddress: rewardAddress,
		CreatedAt:     time.Unix(now, 0),
	}, nil
}

// GetUser returns a user by ID
func (s *Storage) GetUser(userID int64) (*User, error) {
	var u User
	var createdAt int64

	err := s.db.QueryRow(
		`SELECT id, username, fund_address, reward_address, created_at
		 FROM users WHERE id = ?`,
		userID,
	).Scan(&u.ID, &u.Username, &u.FundAddress, &u.RewardAddress, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

// EligibleUsers returns all users with both a fund and a reward address set
func (s *Storage) EligibleUsers() ([]User, error) {
	rows, err := s.db.Query(
		`SELECT id, username, fund_address, reward_address, created_at
		 FROM users WHERE fund_address != '' AND reward_address != ''
		 ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var createdAt int64

		if err := rows.Scan(&u.ID, &u.Username, &u.FundAddress, &u.RewardAddress, &createdAt); err != nil {
			return nil, err
		}

		u.CreatedAt = time.Unix(createdAt, 0)
		users = append(users, u)
	}

	return users, rows.Err()
}

// --- Processed Payments ---

// ProcessedPaymentIDs returns the set of ledger tx ids already rewarded for
// a user in a given token
func (s *Storage) ProcessedPaymentIDs(userID int64, token string) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT payment_tx_id FROM processed_payments
		 WHERE user_id = ? AND token = ?`,
		userID, token,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}

	return ids, rows.Err()
}

// RecordProcessedPayment appends a processed payment to the user's history.
// Returns ErrDuplicatePayment if the (user, token, tx id) key already
// exists; the existing record is never touched.
func (s *Storage) RecordProcessedPayment(p *ProcessedPayment) error {
	success := 0
	if p.Success {
		success = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO processed_payments
		 (user_id, token, payment_tx_id, payment_units, payment_amount,
		  reward_amount, reward_tx_id, success, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Token, p.PaymentTxID, int64(p.PaymentUnits), p.PaymentAmount,
		int64(p.RewardAmount), p.RewardTxID, success, p.ProcessedAt.Unix(),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return ErrDuplicatePayment
		}
		return err
	}

	return nil
}

// CommitDisbursement durably records a confirmed disbursement: appends the
// processed payment, increments the pool counter, and clears the pending
// marker in a single transaction. Returns ErrDuplicatePayment (and writes
// nothing) if the payment is already recorded.
func (s *Storage) CommitDisbursement(p *ProcessedPayment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	success := 0
	if p.Success {
		success = 1
	}

	_, err = tx.Exec(
		`INSERT INTO processed_payments
		 (user_id, token, payment_tx_id, payment_units, payment_amount,
		  reward_amount, reward_tx_id, success, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Token, p.PaymentTxID, int64(p.PaymentUnits), p.PaymentAmount,
		int64(p.RewardAmount), p.RewardTxID, success, p.ProcessedAt.Unix(),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return ErrDuplicatePayment
		}
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO pool_stats (token, distributed) VALUES (?, ?)
		 ON CONFLICT(token) DO UPDATE SET distributed = distributed + excluded.distributed`,
		p.Token, int64(p.RewardAmount),
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		`DELETE FROM pending_disbursements
		 WHERE user_id = ? AND token = ? AND payment_tx_id = ?`,
		p.UserID, p.Token, p.PaymentTxID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ListProcessedPayments returns a user's processed payments in processing order
func (s *Storage) ListProcessedPayments(userID int64) ([]ProcessedPayment, error) {
	rows, err := s.db.Query(
		`SELECT user_id, token, payment_tx_id, payment_units, payment_amount,
		        reward_amount, reward_tx_id, success, processed_at
		 FROM processed_payments WHERE user_id = ?
		 ORDER BY processed_at, payment_tx_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []ProcessedPayment
	for rows.Next() {
		var p ProcessedPayment
		var units, reward, processedAt int64
		var success int

		err := rows.Scan(&p.UserID, &p.Token, &p.PaymentTxID, &units, &p.PaymentAmount,
			&reward, &p.RewardTxID, &success, &processedAt)
		if err != nil {
			return nil, err
		}

		p.PaymentUnits = uint64(units)
		p.RewardAmount = uint64(reward)
		p.Success = success != 0
		p.ProcessedAt = time.Unix(processedAt, 0)
		payments = append(payments, p)
	}

	return payments, rows.Err()
}

// SumRewards returns the sum of reward amounts recorded for a token across
// all users
func (s *Storage) SumRewards(token string) (uint64, error) {
	var sum sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(reward_amount) FROM processed_payments WHERE token = ? AND success = 1`,
		token,
	).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return uint64(sum.Int64), nil
}

// --- Pool Stats ---

// Distributed returns the cumulative distributed total for a token
func (s *Storage) Distributed(token string) (uint64, error) {
	var distributed int64
	err := s.db.QueryRow(
		`SELECT distributed FROM pool_stats WHERE token = ?`,
		token,
	).Scan(&distributed)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return uint64(distributed), nil
}

// AddDistributed atomically increments the distributed total for a token.
// Single statement at the storage layer — never read-modify-write.
func (s *Storage) AddDistributed(token string, amount uint64) error {
	_, err := s.db.Exec(
		`INSERT INTO pool_stats (token, distributed) VALUES (?, ?)
		 ON CONFLICT(token) DO UPDATE SET distributed = distributed + excluded.distributed`,
		token, int64(amount),
	)
	return err
}

// --- Pending Disbursements ---

// AddPendingDisbursement writes an in-flight marker before submission
func (s *Storage) AddPendingDisbursement(p *PendingDisbursement) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO pending_disbursements
		 (user_id, token, payment_tx_id, payment_units, payment_amount,
		  reward_amount, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Token, p.PaymentTxID, int64(p.PaymentUnits), p.PaymentAmount,
		int64(p.RewardAmount), p.Note, p.CreatedAt.Unix(),
	)
	return err
}

// DeletePendingDisbursement removes an in-flight marker
func (s *Storage) DeletePendingDisbursement(userID int64, token, paymentTxID string) error {
	_, err := s.db.Exec(
		`DELETE FROM pending_disbursements
		 WHERE user_id = ? AND token = ? AND payment_tx_id = ?`,
		userID, token, paymentTxID,
	)
	return err
}

// PendingDisbursements returns all in-flight markers, oldest first
func (s *Storage) PendingDisbursements() ([]PendingDisbursement, error) {
	rows, err := s.db.Query(
		`SELECT user_id, token, payment_tx_id, payment_units, payment_amount,
		        reward_amount, note, created_at
		 FROM pending_disbursements ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingDisbursement
	for rows.Next() {
		var p PendingDisbursement
		var units, reward, createdAt int64

		err := rows.Scan(&p.UserID, &p.Token, &p.PaymentTxID, &units, &p.PaymentAmount,
			&reward, &p.Note, &createdAt)
		if err != nil {
			return nil, err
		}

		p.PaymentUnits = uint64(units)
		p.RewardAmount = uint64(reward)
		p.CreatedAt = time.Unix(createdAt, 0)
		pending = append(pending, p)
	}

	return pending, rows.Err()
}

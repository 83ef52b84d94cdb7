package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

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
	// single writer; sqlite serializes anyway and this keeps read-your-writes trivial
	db.SetMaxOpenConns(1)

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
			chat_id INTEGER NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			wallet TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_chat_id ON users(chat_id)`,

		`CREATE TABLE IF NOT EXISTS deposits (
			signature TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			amount_nano INTEGER NOT NULL,
			observed_at INTEGER NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_pending ON deposits(processed, source, amount_nano)`,

		`CREATE TABLE IF NOT EXISTS sent_rewards (
			transfer_signature TEXT PRIMARY KEY,
			deposit_signature TEXT NOT NULL UNIQUE,
			destination TEXT NOT NULL,
			amount TEXT NOT NULL,
			sent_at INTEGER NOT NULL,
			chat_id INTEGER,
			username TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sent_rewards_dest ON sent_rewards(destination, amount)`,

		`CREATE TABLE IF NOT EXISTS contest_participants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			wallet TEXT NOT NULL,
			total_spent TEXT NOT NULL DEFAULT '0',
			contest_rank INTEGER NOT NULL DEFAULT 0,
			joined_at INTEGER NOT NULL,
			UNIQUE(chat_id, wallet)
		)`,

		`CREATE TABLE IF NOT EXISTS deposit_traces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			signature TEXT NOT NULL,
			step TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deposit_traces_sig ON deposit_traces(signature)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Users ---

// AddTrackedUser links a chat to a wallet, returns true if it was new.
// A wallet already linked to any chat is left untouched.
func (s *Storage) AddTrackedUser(chatID int64, username, wallet string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO users (chat_id, username, wallet, created_at)
		 VALUES (?, ?, ?, ?)`,
		chatID, username, wallet, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// TrackedUserByWallet returns the chat linked to a wallet
func (s *Storage) TrackedUserByWallet(wallet string) (*TrackedUser, error) {
	var u TrackedUser
	var createdAt int64

	err := s.db.QueryRow(
		`SELECT chat_id, username, wallet, created_at FROM users WHERE wallet = ?`,
		wallet,
	).Scan(&u.ChatID, &u.Username, &u.Wallet, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

// --- Deposits ---

// InsertDeposit records a deposit as unprocessed, returns true if it was new.
// A second insert with the same signature is a no-op.
func (s *Storage) InsertDeposit(d Deposit) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO deposits (signature, source, amount_nano, observed_at, processed)
		 VALUES (?, ?, ?, ?, 0)`,
		d.Signature, d.Source, d.AmountNano, d.ObservedAt.Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetDeposit returns a deposit by signature
func (s *Storage) GetDeposit(signature string) (*Deposit, error) {
	row := s.db.QueryRow(
		`SELECT signature, source, amount_nano, observed_at, processed
		 FROM deposits WHERE signature = ?`,
		signature,
	)

	d, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// DepositsBySource returns all deposits from a source address
func (s *Storage) DepositsBySource(source string) ([]Deposit, error) {
	return s.queryDeposits(
		`SELECT signature, source, amount_nano, observed_at, processed
		 FROM deposits WHERE source = ? ORDER BY observed_at, signature`,
		source,
	)
}

// PendingDeposits returns all unprocessed deposits, oldest first
func (s *Storage) PendingDeposits() ([]Deposit, error) {
	return s.queryDeposits(
		`SELECT signature, source, amount_nano, observed_at, processed
		 FROM deposits WHERE processed = 0 ORDER BY observed_at, signature`,
	)
}

// MarkDepositProcessed flags a deposit as processed
func (s *Storage) MarkDepositProcessed(signature string) error {
	result, err := s.db.Exec(
		"UPDATE deposits SET processed = 1 WHERE signature = ?",
		signature,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// HasPendingTwin reports whether another unprocessed deposit exists
// with the same source and amount.
func (s *Storage) HasPendingTwin(d Deposit) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM deposits
		 WHERE source = ? AND amount_nano = ? AND processed = 0 AND signature != ?`,
		d.Source, d.AmountNano, d.Signature,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Storage) queryDeposits(query string, args ...any) ([]Deposit, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *d)
	}

	return deposits, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeposit(sc scanner) (*Deposit, error) {
	var d Deposit
	var observedAt int64
	var processed int

	if err := sc.Scan(&d.Signature, &d.Source, &d.AmountNano, &observedAt, &processed); err != nil {
		return nil, err
	}

	d.ObservedAt = time.Unix(observedAt, 0).UTC()
	d.Processed = processed != 0
	return &d, nil
}

// --- Sent rewards ---

// InsertSentReward records a confirmed transfer, returns true if it was new
func (s *Storage) InsertSentReward(r SentReward) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO sent_rewards
			(transfer_signature, deposit_signature, destination, amount, sent_at, chat_id, username)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TransferSignature, r.DepositSignature, r.Destination, r.Amount,
		r.SentAt.Unix(), r.ChatID, r.Username,
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// IsDepositRewarded reports whether a reward was sent for a deposit signature
func (s *Storage) IsDepositRewarded(depositSignature string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM sent_rewards WHERE deposit_signature = ?",
		depositSignature,
	).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasRewardFor reports whether any reward of exactly amount was sent to destination
func (s *Storage) HasRewardFor(destination, amount string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sent_rewards WHERE destination = ? AND amount = ?",
		destination, amount,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SentRewardByDeposit returns the reward recorded for a deposit signature
func (s *Storage) SentRewardByDeposit(depositSignature string) (*SentReward, error) {
	var r SentReward
	var sentAt int64
	var chatID sql.NullInt64
	var username sql.NullString

	err := s.db.QueryRow(
		`SELECT transfer_signature, deposit_signature, destination, amount, sent_at, chat_id, username
		 FROM sent_rewards WHERE deposit_signature = ?`,
		depositSignature,
	).Scan(&r.TransferSignature, &r.DepositSignature, &r.Destination, &r.Amount, &sentAt, &chatID, &username)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.SentAt = time.Unix(sentAt, 0).UTC()
	r.ChatID = chatID.Int64
	r.Username = username.String
	return &r, nil
}

// CountSentRewards returns the number of recorded transfers
func (s *Storage) CountSentRewards() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sent_rewards").Scan(&count)
	return count, err
}

// --- Traces ---

// AppendTrace adds a lifecycle step for a deposit
func (s *Storage) AppendTrace(signature, step, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO deposit_traces (signature, step, detail, at) VALUES (?, ?, ?, ?)`,
		signature, step, detail, time.Now().Unix(),
	)
	return err
}

// Traces returns the lifecycle steps of a deposit in insertion order
func (s *Storage) Traces(signature string) ([]TraceStep, error) {
	rows, err := s.db.Query(
		`SELECT signature, step, detail, at FROM deposit_traces
		 WHERE signature = ? ORDER BY id`,
		signature,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []TraceStep
	for rows.Next() {
		var st TraceStep
		var at int64
		if err := rows.Scan(&st.Signature, &st.Step, &st.Detail, &at); err != nil {
			return nil, err
		}
		st.At = time.Unix(at, 0).UTC()
		steps = append(steps, st)
	}

	return steps, rows.Err()
}

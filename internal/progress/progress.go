package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BigSpender is a single deposit at or above the big spender threshold
type BigSpender struct {
	Wallet string          `json:"wallet"`
	Amount decimal.Decimal `json:"amount"`
	TS     int64           `json:"ts"`
}

// State is the whole content of the progress file
type State struct {
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalReward    decimal.Decimal `json:"total_reward"`
	BigSpenders    []BigSpender    `json:"big_spenders"`
}

// Purchase is one credited deposit as seen by the ledger
type Purchase struct {
	Wallet    string
	Deposit   decimal.Decimal // TON
	Reward    decimal.Decimal // token units
	Timestamp time.Time       // on-chain time of the deposit
}

// Rules decide which purchases enter the big spender list
type Rules struct {
	Threshold  decimal.Decimal
	ContestEnd time.Time // zero means no cutoff
}

// Ledger keeps running totals in a JSON file. The file is informational:
// it is rewritten whole on every update and is not used for idempotency.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// Open returns a ledger for path, creating an empty file when missing.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := l.write(State{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return l, nil
}

// AddPurchase adds p to the totals and returns the updated state
func (l *Ledger) AddPurchase(p Purchase, rules Rules) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.read()
	if err != nil {
		return State{}, err
	}

	st.TotalDeposited = st.TotalDeposited.Add(p.Deposit)
	st.TotalReward = st.TotalReward.Add(p.Reward)

	beforeEnd := rules.ContestEnd.IsZero() || p.Timestamp.Before(rules.ContestEnd)
	if p.Deposit.GreaterThanOrEqual(rules.Threshold) && beforeEnd {
		st.BigSpenders = append(st.BigSpenders, BigSpender{
			Wallet: p.Wallet,
			Amount: p.Deposit,
			TS:     p.Timestamp.Unix(),
		})
	}

	if err := l.write(st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Snapshot returns the current file content
func (l *Ledger) Snapshot() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// Export renders the big spender list, one "wallet, amount TON, time" per line
func (l *Ledger) Export() (string, error) {
	st, err := l.Snapshot()
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(st.BigSpenders))
	for _, b := range st.BigSpenders {
		lines = append(lines, fmt.Sprintf("%s, %s TON, %s",
			b.Wallet, b.Amount.String(), time.Unix(b.TS, 0).UTC().Format(time.RFC3339)))
	}
	return strings.Join(lines, "\n"), nil
}

// Archive moves the current file aside as contest_<unix>.json next to it
// and starts a fresh one. Returns the archive path.
func (l *Ledger) Archive(now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	archive := filepath.Join(filepath.Dir(l.path), fmt.Sprintf("contest_%d.json", now.Unix()))
	if err := os.Rename(l.path, archive); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("archive progress: %w", err)
	}

	if err := l.write(State{}); err != nil {
		return "", err
	}
	return archive, nil
}

func (l *Ledger) read() (State, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read progress: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode progress: %w", err)
	}
	return st, nil
}

func (l *Ledger) write(st State) error {
	if st.BigSpenders == nil {
		st.BigSpenders = []BigSpender{}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return os.Rename(tmp, l.path)
}

package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// JoinContest registers a (chat, wallet) pair, returns true if it was new
func (s *Storage) JoinContest(chatID int64, username, wallet string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO contest_participants (chat_id, username, wallet, joined_at)
		 VALUES (?, ?, ?, ?)`,
		chatID, username, wallet, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ContestParticipantByChat returns the first contest entry of a chat
func (s *Storage) ContestParticipantByChat(chatID int64) (*ContestParticipant, error) {
	row := s.db.QueryRow(
		`SELECT id, chat_id, username, wallet, total_spent, contest_rank, joined_at
		 FROM contest_participants WHERE chat_id = ? ORDER BY id LIMIT 1`,
		chatID,
	)

	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AddContestSpend adds amount to every entry of wallet and re-ranks all participants.
// Returns the number of entries that were credited.
func (s *Storage) AddContestSpend(wallet string, amount decimal.Decimal) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	all, err := participantsInTx(tx)
	if err != nil {
		return 0, err
	}

	credited := 0
	for i := range all {
		if all[i].Wallet != wallet {
			continue
		}
		total, err := decimal.NewFromString(all[i].TotalSpent)
		if err != nil {
			return 0, fmt.Errorf("participant %d total: %w", all[i].ID, err)
		}
		all[i].TotalSpent = total.Add(amount).String()
		if _, err := tx.Exec(
			"UPDATE contest_participants SET total_spent = ? WHERE id = ?",
			all[i].TotalSpent, all[i].ID,
		); err != nil {
			return 0, err
		}
		credited++
	}

	if credited == 0 {
		return 0, nil
	}

	rankParticipants(all)
	for _, p := range all {
		if _, err := tx.Exec(
			"UPDATE contest_participants SET contest_rank = ? WHERE id = ?",
			p.Rank, p.ID,
		); err != nil {
			return 0, err
		}
	}

	return credited, tx.Commit()
}

// Leaderboard returns the top participants by total spent
func (s *Storage) Leaderboard(limit int) ([]ContestParticipant, error) {
	rows, err := s.db.Query(
		`SELECT id, chat_id, username, wallet, total_spent, contest_rank, joined_at
		 FROM contest_participants ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []ContestParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rankParticipants(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func participantsInTx(tx *sql.Tx) ([]ContestParticipant, error) {
	rows, err := tx.Query(
		`SELECT id, chat_id, username, wallet, total_spent, contest_rank, joined_at
		 FROM contest_participants ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []ContestParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, *p)
	}
	return all, rows.Err()
}

// rankParticipants sorts by total spent descending and assigns 1-based ranks.
// Equal totals keep id (join) order.
func rankParticipants(all []ContestParticipant) {
	sort.SliceStable(all, func(i, j int) bool {
		a, _ := decimal.NewFromString(all[i].TotalSpent)
		b, _ := decimal.NewFromString(all[j].TotalSpent)
		return a.GreaterThan(b)
	})
	for i := range all {
		all[i].Rank = i + 1
	}
}

func scanParticipant(sc scanner) (*ContestParticipant, error) {
	var p ContestParticipant
	var joinedAt int64

	err := sc.Scan(&p.ID, &p.ChatID, &p.Username, &p.Wallet, &p.TotalSpent, &p.Rank, &joinedAt)
	if err != nil {
		return nil, err
	}

	p.JoinedAt = time.Unix(joinedAt, 0).UTC()
	return &p, nil
}

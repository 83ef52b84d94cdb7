package storage

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContestSpendAndRanking(t *testing.T) {
	s := newTestStorage(t)

	for _, p := range []struct {
		chat   int64
		name   string
		wallet string
	}{
		{1, "alice", walletA},
		{2, "bob", walletB},
		{3, "carol", walletA},
	} {
		added, err := s.JoinContest(p.chat, p.name, p.wallet)
		require.NoError(t, err)
		assert.True(t, added)
	}

	added, err := s.JoinContest(1, "alice", walletA)
	require.NoError(t, err)
	assert.False(t, added)

	n, err := s.AddContestSpend(walletB, decimal.RequireFromString("3"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// both entries on walletA are credited
	n, err = s.AddContestSpend(walletA, decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.AddContestSpend("0:unknown", decimal.RequireFromString("100"))
	require.NoError(t, err)
	assert.Zero(t, n)

	top, err := s.Leaderboard(10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "bob", top[0].Username)
	assert.Equal(t, "3", top[0].TotalSpent)
	// equal totals keep join order
	assert.Equal(t, "alice", top[1].Username)
	assert.Equal(t, "carol", top[2].Username)
	assert.Equal(t, 3, top[2].Rank)

	p, err := s.ContestParticipantByChat(3)
	require.NoError(t, err)
	assert.Equal(t, "1.5", p.TotalSpent)
	assert.Equal(t, 3, p.Rank)

	_, err = s.ContestParticipantByChat(99)
	assert.ErrorIs(t, err, ErrNotFound)

	top, err = s.Leaderboard(1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestRankParticipants(t *testing.T) {
	all := []ContestParticipant{
		{ID: 1, TotalSpent: "0.5"},
		{ID: 2, TotalSpent: "10"},
		{ID: 3, TotalSpent: "2"},
		{ID: 4, TotalSpent: "10"},
	}

	rankParticipants(all)

	var ids []int64
	for i, p := range all {
		ids = append(ids, p.ID)
		assert.Equal(t, i+1, p.Rank)
	}
	assert.Equal(t, []int64{2, 4, 3, 1}, ids)
}

func TestAddContestSpendRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &Storage{db: db}

	rows := sqlmock.NewRows([]string{"id", "chat_id", "username", "wallet", "total_spent", "contest_rank", "joined_at"}).
		AddRow(1, 10, "alice", walletA, "1", 1, 1700000000)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, chat_id").WillReturnRows(rows)
	mock.ExpectExec("UPDATE contest_participants SET total_spent").
		WithArgs("3", int64(1)).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err = s.AddContestSpend(walletA, decimal.RequireFromString("2"))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package telegram

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/ton-airdrop/internal/config"
	"github.com/suspectuso/ton-airdrop/internal/storage"
)

const rawAddr = "0:a3935861f79daf59a13d6d182e1640210c02f98e3df18fda74b8f5ab141abf18"

func TestCommandArgs(t *testing.T) {
	assert.Nil(t, commandArgs(""))
	assert.Empty(t, commandArgs("/contest"))
	assert.Equal(t, []string{"EQabc"}, commandArgs("/contest   EQabc "))
	assert.Equal(t, []string{"01/10/2025", "7", "50"}, commandArgs("/newcontest 01/10/2025 7 50"))
}

func TestExtractAddress(t *testing.T) {
	friendly := "UQ" + strings.Repeat("A", 46)

	tests := []struct {
		name string
		text string
		want string
	}{
		{"raw", "my wallet " + rawAddr, rawAddr},
		{"friendly", "here: " + friendly + " thanks", friendly},
		{"link", "https://tonviewer.com/" + friendly, friendly},
		{"nothing", "hello there", ""},
		{"too short", "UQ" + strings.Repeat("A", 10), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractAddress(tt.text))
		})
	}
}

func TestParseContestStart(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		raw     string
		want    time.Time
		wantErr bool
	}{
		{raw: "05/10/2025", want: time.Date(2025, 10, 5, 0, 0, 0, 0, time.UTC)},
		{raw: "1759622400", want: time.Unix(1759622400, 0).UTC()},
		{raw: "2:45", want: now.Add(2*time.Hour + 45*time.Minute)},
		{raw: "0:05", want: now.Add(5 * time.Minute)},
		{raw: "2:75", wantErr: true},
		{raw: "x:10", wantErr: true},
		{raw: "tomorrow", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseContestStart(tt.raw, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseDaysAndCap(t *testing.T) {
	d, err := parseDays(" 7 ")
	require.NoError(t, err)
	assert.Equal(t, 7, d)

	_, err = parseDays("0")
	assert.Error(t, err)
	_, err = parseDays("seven")
	assert.Error(t, err)

	c, err := parseCap("150.5")
	require.NoError(t, err)
	assert.True(t, c.Equal(decimal.RequireFromString("150.5")))

	_, err = parseCap("-1")
	assert.Error(t, err)
}

func TestSplitSetArgs(t *testing.T) {
	key, value, ok := splitSetArgs("/set Rate 7000")
	require.True(t, ok)
	assert.Equal(t, "rate", key)
	assert.Equal(t, "7000", value)

	key, value, ok = splitSetArgs("/set wallet_mnemonic word1 word2  word3")
	require.True(t, ok)
	assert.Equal(t, "wallet_mnemonic", key)
	assert.Equal(t, "word1 word2  word3", value)

	_, _, ok = splitSetArgs("/set rate")
	assert.False(t, ok)

	_, _, ok = splitSetArgs("/set")
	assert.False(t, ok)
}

func TestClearMnemonicFromChat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := config.NewStore(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	words := strings.TrimSpace(strings.Repeat("abandon ", 24))
	require.NoError(t, store.Set(config.KeyWalletMnemonic, words))
	require.NotEmpty(t, store.Snapshot().WalletMnemonic)

	key, value, ok := splitSetArgs("/set wallet_mnemonic " + clearToken)
	require.True(t, ok)
	require.NoError(t, store.Set(key, settingValue(value)))

	assert.Empty(t, store.Snapshot().WalletMnemonic)
	assert.Equal(t, "7000", settingValue("7000"))
}

func TestLeaderboardText(t *testing.T) {
	end := time.Date(2025, 10, 8, 0, 0, 0, 0, time.UTC)
	top := []storage.ContestParticipant{
		{Username: "alice", TotalSpent: "12.5"},
		{Username: "", TotalSpent: "8"},
		{Username: "b<o>b", TotalSpent: "3"},
		{Username: "dave", TotalSpent: "1"},
	}

	text := leaderboardText(top, end)

	assert.Contains(t, text, "🥇 @alice\n   💰 12.5 TON")
	assert.Contains(t, text, "🥈 Anonymous")
	assert.Contains(t, text, "🥉 @b&lt;o&gt;b")
	assert.Contains(t, text, "4. @dave")
	assert.Contains(t, text, "Contest ends: <b>08/10/2025</b>")
}

func TestParticipantText(t *testing.T) {
	p := &storage.ContestParticipant{
		TotalSpent: "4.2",
		JoinedAt:   time.Date(2025, 9, 30, 10, 0, 0, 0, time.UTC),
	}
	assert.Contains(t, participantText(p), "Not ranked yet")
	assert.Contains(t, participantText(p), "30/09/2025")

	p.Rank = 3
	assert.Contains(t, participantText(p), "<b>#3</b>")
	assert.Contains(t, participantText(p), "4.2 TON")
}

func TestWelcomeText(t *testing.T) {
	s := config.Settings{
		MonitoredWallet: rawAddr,
		Rate:            decimal.NewFromInt(7000),
		MinDeposit:      decimal.RequireFromString("0.1"),
		TokenSymbol:     "GOAL",
	}

	text := welcomeText(s)

	assert.Contains(t, text, "$GOAL Airdrop Bot")
	assert.Contains(t, text, "7000 $GOAL per 1 TON")
	assert.Contains(t, text, "0.1 TON")
	assert.NotContains(t, text, rawAddr)
}

func TestStateManager(t *testing.T) {
	sm := NewStateManager()
	assert.Nil(t, sm.Get(1))

	sm.Set(1, StateWaitTrackWallet, nil)
	st := sm.Get(1)
	require.NotNil(t, st)
	assert.Equal(t, StateWaitTrackWallet, st.State)
	assert.NotNil(t, st.Data)

	start := time.Date(2025, 10, 5, 0, 0, 0, 0, time.UTC)
	sm.Set(1, StateWaitContestDays, map[string]any{"draft": contestDraft{Start: start}})
	d := draftFrom(sm.Get(1))
	assert.True(t, start.Equal(d.Start))
	assert.Zero(t, d.Days)

	sm.Clear(1)
	assert.Nil(t, sm.Get(1))
}

func TestDraftFromEmptyState(t *testing.T) {
	d := draftFrom(&UserState{State: StateWaitContestStart, Data: map[string]any{}})
	assert.True(t, d.Start.IsZero())
}

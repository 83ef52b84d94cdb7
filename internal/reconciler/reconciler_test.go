package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/ton-airdrop/internal/config"
	"github.com/suspectuso/ton-airdrop/internal/disburser"
	"github.com/suspectuso/ton-airdrop/internal/metrics"
	"github.com/suspectuso/ton-airdrop/internal/storage"
	"github.com/suspectuso/ton-airdrop/internal/tonapi"
)

const (
	monitored = "0:monitored"
	alice     = "0:alice"
	bob       = "0:bob"
)

var saleStart = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

type fakeFeed struct {
	mu    sync.Mutex
	txs   []tonapi.Transaction
	err   error
	calls int
}

func (f *fakeFeed) FetchRecentTransfers(ctx context.Context, address string, limit int) ([]tonapi.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.txs, nil
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeBackend fails the first failures transfers, then succeeds
type fakeBackend struct {
	failures  int
	transfers []string
	attempts  int
}

func (b *fakeBackend) Decimals(ctx context.Context, master string) (int32, error) {
	return 9, nil
}

func (b *fakeBackend) Transfer(ctx context.Context, funding disburser.Funding, destination string, units *big.Int) (string, error) {
	b.attempts++
	if b.attempts <= b.failures {
		return "", errors.New("rpc unavailable")
	}
	sig := fmt.Sprintf("transfer-%d", len(b.transfers)+1)
	b.transfers = append(b.transfers, destination)
	return sig, nil
}

type fakeNotifier struct {
	users     []Credit
	groups    []Credit
	notifyErr error
}

func (n *fakeNotifier) NotifyUser(ctx context.Context, chatID int64, c Credit) error {
	n.users = append(n.users, c)
	return n.notifyErr
}

func (n *fakeNotifier) AnnounceGroup(ctx context.Context, c Credit) error {
	n.groups = append(n.groups, c)
	return nil
}

type staticSettings struct {
	s config.Settings
}

func (s *staticSettings) Snapshot() config.Settings {
	return s.s
}

type harness struct {
	store    *storage.Storage
	feed     *fakeFeed
	backend  *fakeBackend
	notifier *fakeNotifier
	settings *staticSettings
	rec      *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "airdrop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:    store,
		feed:     &fakeFeed{},
		backend:  &fakeBackend{},
		notifier: &fakeNotifier{},
		settings: &staticSettings{s: config.Settings{
			MonitoredWallet: monitored,
			MinDeposit:      decimal.RequireFromString("0.1"),
			Rate:            decimal.NewFromInt(7000),
			PresaleStart:    saleStart,
			LoopInterval:    time.Hour,
			WalletMnemonic:  "seed words",
			WalletVersion:   "V4R2",
			TokenMaster:     "0:master",
		}},
	}

	d := disburser.New(h.backend, store, log)
	h.rec = New(store, h.feed, d, h.notifier, h.settings, metrics.New(prometheus.NewRegistry()), log, Options{
		RetryAttempts: 5,
		RetryDelay:    0,
		FeedLimit:     100,
	})
	return h
}

func nano(ton string) int64 {
	return decimal.RequireFromString(ton).Shift(9).IntPart()
}

func deposit(sig, from, ton string, at time.Time) tonapi.Transaction {
	return tonapi.Transaction{
		Signature: sig,
		Timestamp: at,
		Transfers: []tonapi.NativeTransfer{{From: from, To: monitored, Amount: nano(ton)}},
	}
}

func (h *harness) pending(t *testing.T) []storage.Deposit {
	t.Helper()
	p, err := h.store.PendingDeposits()
	require.NoError(t, err)
	return p
}

func TestTickRewardsDeposit(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.AddTrackedUser(42, "alice", alice)
	require.NoError(t, err)

	h.feed.txs = []tonapi.Transaction{deposit("sig-1", alice, "2.5", saleStart.Add(time.Hour))}

	require.NoError(t, h.rec.Tick(context.Background()))

	reward, err := h.store.SentRewardByDeposit("sig-1")
	require.NoError(t, err)
	assert.Equal(t, "17500", reward.Amount)
	assert.Equal(t, alice, reward.Destination)
	assert.Equal(t, int64(42), reward.ChatID)

	d, err := h.store.GetDeposit("sig-1")
	require.NoError(t, err)
	assert.True(t, d.Processed)

	require.Len(t, h.notifier.users, 1)
	assert.Equal(t, "17500", h.notifier.users[0].Reward.String())
	assert.Equal(t, "2.5", h.notifier.users[0].Deposit.String())
	assert.Equal(t, "transfer-1", h.notifier.users[0].TransferSignature)

	require.Len(t, h.notifier.groups, 1)
	assert.Equal(t, alice, h.notifier.groups[0].Wallet)
}

func TestIngestIsIdempotent(t *testing.T) {
	h := newHarness(t)
	tx := deposit("sig-1", alice, "1", saleStart.Add(time.Minute))
	h.feed.txs = []tonapi.Transaction{tx, tx}

	require.NoError(t, h.rec.Tick(context.Background()))
	require.NoError(t, h.rec.Tick(context.Background()))

	deposits, err := h.store.DepositsBySource(alice)
	require.NoError(t, err)
	assert.Len(t, deposits, 1)
	assert.Len(t, h.backend.transfers, 1)
}

func TestIngestFilters(t *testing.T) {
	h := newHarness(t)
	h.feed.txs = []tonapi.Transaction{
		deposit("below-min", alice, "0.05", saleStart.Add(time.Minute)),
		deposit("pre-window", alice, "3", saleStart.Add(-time.Minute)),
		{
			Signature: "outgoing",
			Timestamp: saleStart.Add(time.Minute),
			Transfers: []tonapi.NativeTransfer{{From: monitored, To: bob, Amount: nano("5")}},
		},
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, h.rec.Tick(context.Background()))
	}

	for _, sig := range []string{"below-min", "pre-window", "outgoing"} {
		_, err := h.store.GetDeposit(sig)
		assert.ErrorIs(t, err, storage.ErrNotFound, sig)
	}
	assert.Zero(t, h.backend.attempts)
}

func TestPreWindowDepositClosedWithoutReward(t *testing.T) {
	h := newHarness(t)
	// recorded under an earlier sale start, then the start moved later
	_, err := h.store.InsertDeposit(storage.Deposit{
		Signature:  "early",
		Source:     alice,
		AmountNano: nano("2"),
		ObservedAt: saleStart.Add(-time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, h.rec.Tick(context.Background()))

	d, err := h.store.GetDeposit("early")
	require.NoError(t, err)
	assert.True(t, d.Processed)
	assert.Zero(t, h.backend.attempts)
	assert.Empty(t, h.notifier.users)
	assert.Empty(t, h.notifier.groups)

	steps, err := h.store.Traces("early")
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, StepPreWindow, steps[0].Step)
}

func TestAlreadyRewardedAfterCrash(t *testing.T) {
	h := newHarness(t)
	at := saleStart.Add(time.Hour)

	// transfer confirmed and recorded, process died before the processed flag
	_, err := h.store.InsertDeposit(storage.Deposit{Signature: "sig-1", Source: alice, AmountNano: nano("1"), ObservedAt: at})
	require.NoError(t, err)
	_, err = h.store.InsertSentReward(storage.SentReward{
		TransferSignature: "transfer-before-crash",
		DepositSignature:  "sig-1",
		Destination:       alice,
		Amount:            "7000",
		SentAt:            at,
	})
	require.NoError(t, err)

	h.feed.txs = []tonapi.Transaction{deposit("sig-1", alice, "1", at)}
	require.NoError(t, h.rec.Tick(context.Background()))

	assert.Zero(t, h.backend.attempts)
	count, err := h.store.CountSentRewards()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, h.pending(t))
}

func TestRecoverMarksRewardedDeposits(t *testing.T) {
	h := newHarness(t)
	at := saleStart.Add(time.Hour)

	for _, sig := range []string{"paid", "unpaid"} {
		_, err := h.store.InsertDeposit(storage.Deposit{Signature: sig, Source: alice, AmountNano: nano("1"), ObservedAt: at})
		require.NoError(t, err)
	}
	_, err := h.store.InsertSentReward(storage.SentReward{
		TransferSignature: "t1",
		DepositSignature:  "paid",
		Destination:       alice,
		Amount:            "7000",
		SentAt:            at,
	})
	require.NoError(t, err)

	require.NoError(t, h.rec.Recover())

	pending := h.pending(t)
	require.Len(t, pending, 1)
	assert.Equal(t, "unpaid", pending[0].Signature)
}

func TestDuplicateAmountCollision(t *testing.T) {
	h := newHarness(t)
	at := saleStart.Add(time.Hour)
	h.feed.txs = []tonapi.Transaction{
		deposit("sig-a", alice, "1.5", at),
		deposit("sig-b", alice, "1.5", at.Add(time.Second)),
	}

	require.NoError(t, h.rec.Tick(context.Background()))

	assert.Len(t, h.backend.transfers, 1)
	assert.Empty(t, h.pending(t))

	count, err := h.store.CountSentRewards()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDuplicateRewardGuard(t *testing.T) {
	h := newHarness(t)
	at := saleStart.Add(time.Hour)

	h.feed.txs = []tonapi.Transaction{deposit("sig-a", alice, "1", at)}
	require.NoError(t, h.rec.Tick(context.Background()))

	// same wallet, same reward, new signature
	h.feed.txs = []tonapi.Transaction{deposit("sig-b", alice, "1", at.Add(time.Minute))}
	require.NoError(t, h.rec.Tick(context.Background()))

	assert.Len(t, h.backend.transfers, 1)
	steps, err := h.store.Traces("sig-b")
	require.NoError(t, err)
	var names []string
	for _, st := range steps {
		names = append(names, st.Step)
	}
	assert.Contains(t, names, StepDuplicate)
}

func TestRetryThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.backend.failures = 4
	h.feed.txs = []tonapi.Transaction{deposit("sig-1", alice, "1", saleStart.Add(time.Hour))}

	require.NoError(t, h.rec.Tick(context.Background()))

	assert.Equal(t, 5, h.backend.attempts)
	assert.Len(t, h.backend.transfers, 1)
	assert.Empty(t, h.pending(t))
}

func TestRetryExhaustionAbortsTick(t *testing.T) {
	h := newHarness(t)
	h.backend.failures = 100
	at := saleStart.Add(time.Hour)
	h.feed.txs = []tonapi.Transaction{
		deposit("sig-1", alice, "1", at),
		deposit("sig-2", bob, "2", at.Add(time.Second)),
	}

	err := h.rec.Tick(context.Background())
	require.Error(t, err)

	// only the first deposit was attempted, both stay pending
	assert.Equal(t, 5, h.backend.attempts)
	assert.Len(t, h.pending(t), 2)
	assert.Empty(t, h.notifier.groups)

	// next tick succeeds once the backend recovers
	h.backend.failures = 0
	h.backend.attempts = 0
	require.NoError(t, h.rec.Tick(context.Background()))
	assert.Len(t, h.backend.transfers, 2)
	assert.Empty(t, h.pending(t))
}

func TestNoWalletConfigured(t *testing.T) {
	h := newHarness(t)
	h.settings.s.WalletMnemonic = ""
	_, err := h.store.AddTrackedUser(42, "alice", alice)
	require.NoError(t, err)
	h.feed.txs = []tonapi.Transaction{deposit("sig-1", alice, "1", saleStart.Add(time.Hour))}

	require.NoError(t, h.rec.Tick(context.Background()))

	assert.Zero(t, h.backend.attempts)
	assert.Empty(t, h.pending(t))
	assert.Empty(t, h.notifier.users)
	require.Len(t, h.notifier.groups, 1)
	assert.Equal(t, NoWalletSentinel, h.notifier.groups[0].TransferSignature)

	_, err = h.store.SentRewardByDeposit("sig-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNotificationFailureKeepsDepositProcessed(t *testing.T) {
	h := newHarness(t)
	h.notifier.notifyErr = errors.New("bot blocked")
	_, err := h.store.AddTrackedUser(42, "alice", alice)
	require.NoError(t, err)
	h.feed.txs = []tonapi.Transaction{deposit("sig-1", alice, "1", saleStart.Add(time.Hour))}

	require.NoError(t, h.rec.Tick(context.Background()))
	require.NoError(t, h.rec.Tick(context.Background()))

	assert.Len(t, h.backend.transfers, 1)
	assert.Empty(t, h.pending(t))
	assert.Len(t, h.notifier.groups, 1)
}

func TestFeedErrorStillReconciles(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.InsertDeposit(storage.Deposit{
		Signature:  "sig-1",
		Source:     alice,
		AmountNano: nano("1"),
		ObservedAt: saleStart.Add(time.Hour),
	})
	require.NoError(t, err)
	h.feed.err = errors.New("tonapi down")

	require.NoError(t, h.rec.Tick(context.Background()))
	assert.Len(t, h.backend.transfers, 1)
}

func TestRunNudgeAndShutdown(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.rec.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.feed.callCount() == 1 }, time.Second, 10*time.Millisecond)

	h.rec.Nudge()
	require.Eventually(t, func() bool { return h.feed.callCount() == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}

// hangingBackend never confirms a transfer; it returns only when ctx ends
type hangingBackend struct {
	attempts int
}

func (b *hangingBackend) Decimals(ctx context.Context, master string) (int32, error) {
	return 9, nil
}

func (b *hangingBackend) Transfer(ctx context.Context, funding disburser.Funding, destination string, units *big.Int) (string, error) {
	b.attempts++
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSendTimeoutBoundsHungTransfer(t *testing.T) {
	h := newHarness(t)
	h.feed.txs = []tonapi.Transaction{deposit("sig-1", alice, "1", saleStart.Add(time.Hour))}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := &hangingBackend{}
	rec := New(h.store, h.feed, disburser.New(backend, h.store, log), h.notifier, h.settings,
		metrics.New(prometheus.NewRegistry()), log, Options{
			RetryAttempts: 3,
			RetryDelay:    0,
			SendTimeout:   50 * time.Millisecond,
			FeedLimit:     100,
		})

	start := time.Now()
	err := rec.Tick(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, backend.attempts)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, h.pending(t), 1)
	assert.Empty(t, h.notifier.groups)
}

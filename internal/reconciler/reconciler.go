package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/ton-airdrop/internal/config"
	"github.com/suspectuso/ton-airdrop/internal/disburser"
	"github.com/suspectuso/ton-airdrop/internal/metrics"
	"github.com/suspectuso/ton-airdrop/internal/storage"
	"github.com/suspectuso/ton-airdrop/internal/tonapi"
)

// NoWalletSentinel stands in for a transfer signature when no funding wallet is set
const NoWalletSentinel = "NO_WALLET_CONFIGURED"

// Trace steps
const (
	StepIngested        = "ingested"
	StepPreWindow       = "skip_pre_window"
	StepAlreadyRewarded = "skip_already_rewarded"
	StepDuplicate       = "skip_duplicate_reward"
	StepPendingTwin     = "skip_pending_twin"
	StepSendFail        = "send_fail"
	StepSendSuccess     = "send_success"
	StepNoWallet        = "no_wallet"
	StepProcessed       = "db_processed"
	StepUserNotified    = "user_notified"
	StepGroupAnnounced  = "group_announced"
	StepRecovered       = "recovered"
)

// Store is the durable ledger as used by the loop
type Store interface {
	InsertDeposit(d storage.Deposit) (bool, error)
	PendingDeposits() ([]storage.Deposit, error)
	MarkDepositProcessed(signature string) error
	IsDepositRewarded(depositSignature string) (bool, error)
	HasRewardFor(destination, amount string) (bool, error)
	HasPendingTwin(d storage.Deposit) (bool, error)
	TrackedUserByWallet(wallet string) (*storage.TrackedUser, error)
	AppendTrace(signature, step, detail string) error
}

// Feed lists recent native transfers of an address
type Feed interface {
	FetchRecentTransfers(ctx context.Context, address string, limit int) ([]tonapi.Transaction, error)
}

// Disburser pays one reward
type Disburser interface {
	Disburse(ctx context.Context, funding disburser.Funding, req disburser.Request) (string, error)
}

// Notifier receives credited deposits. Both calls are best effort.
type Notifier interface {
	NotifyUser(ctx context.Context, chatID int64, c Credit) error
	AnnounceGroup(ctx context.Context, c Credit) error
}

// SettingsSource yields the current runtime settings
type SettingsSource interface {
	Snapshot() config.Settings
}

// Credit describes a processed deposit for notification
type Credit struct {
	DepositSignature  string
	Wallet            string // raw
	Deposit           decimal.Decimal
	Reward            decimal.Decimal
	TransferSignature string // NoWalletSentinel when nothing was sent
	DepositTime       time.Time
	User              *storage.TrackedUser // nil for untracked wallets
	Settings          config.Settings
}

// Options tune retry and polling behaviour
type Options struct {
	RetryAttempts int
	RetryDelay    time.Duration
	SendTimeout   time.Duration
	FeedLimit     int
}

// Reconciler turns deposits into rewards, one tick at a time
type Reconciler struct {
	store     Store
	feed      Feed
	disburser Disburser
	notifier  Notifier
	settings  SettingsSource
	metrics   *metrics.Metrics
	log       *slog.Logger
	opts      Options

	nudge chan struct{}
}

func New(
	store Store,
	feed Feed,
	d Disburser,
	n Notifier,
	settings SettingsSource,
	m *metrics.Metrics,
	log *slog.Logger,
	opts Options,
) *Reconciler {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 5
	}
	if opts.FeedLimit <= 0 {
		opts.FeedLimit = 100
	}

	return &Reconciler{
		store:     store,
		feed:      feed,
		disburser: d,
		notifier:  n,
		settings:  settings,
		metrics:   m,
		log:       log,
		opts:      opts,
		nudge:     make(chan struct{}, 1),
	}
}

// Nudge asks the loop to start the next tick early. It never interrupts a tick.
func (r *Reconciler) Nudge() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Run executes ticks until ctx is cancelled. The next tick is scheduled only
// after the previous one returns; a tick in flight at cancellation runs to completion.
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("reconciler started")

	for {
		start := time.Now()
		err := r.Tick(context.WithoutCancel(ctx))
		r.metrics.ObserveTick(start, err)
		if err != nil {
			r.log.Error("tick failed", "error", err)
		}

		interval := r.settings.Snapshot().LoopInterval
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("reconciler stopped")
			return
		case <-r.nudge:
			timer.Stop()
			r.log.Debug("tick nudged")
		case <-timer.C:
		}
	}
}

// Recover marks processed every pending deposit that already has a reward,
// covering a crash between the transfer and the processed flag.
func (r *Reconciler) Recover() error {
	pending, err := r.store.PendingDeposits()
	if err != nil {
		return fmt.Errorf("pending deposits: %w", err)
	}

	recovered := 0
	for _, d := range pending {
		rewarded, err := r.store.IsDepositRewarded(d.Signature)
		if err != nil {
			return fmt.Errorf("check %s: %w", d.Signature, err)
		}
		if !rewarded {
			continue
		}
		if err := r.store.MarkDepositProcessed(d.Signature); err != nil {
			return fmt.Errorf("mark %s: %w", d.Signature, err)
		}
		r.trace(d.Signature, StepRecovered, "reward found at startup")
		recovered++
	}

	r.log.Info("startup recovery complete", "pending", len(pending), "recovered", recovered)
	return nil
}

// Tick runs one ingest pass followed by one reconcile pass
func (r *Reconciler) Tick(ctx context.Context) error {
	s := r.settings.Snapshot()
	log := r.log.With("tick", uuid.NewString())

	if s.MonitoredWallet == "" {
		log.Warn("monitored wallet not set, skipping tick")
		return nil
	}

	if err := r.ingest(ctx, s, log); err != nil {
		// feed errors are transient, pending deposits are still worked
		log.Warn("ingest failed", "error", err)
	}

	return r.reconcile(ctx, s, log)
}

func (r *Reconciler) ingest(ctx context.Context, s config.Settings, log *slog.Logger) error {
	txs, err := r.feed.FetchRecentTransfers(ctx, s.MonitoredWallet, r.opts.FeedLimit)
	if err != nil {
		return fmt.Errorf("fetch transfers: %w", err)
	}

	added := 0
	for _, tx := range txs {
		if tx.Timestamp.Before(s.PresaleStart) {
			continue
		}
		for _, tr := range tx.Transfers {
			if tr.To != s.MonitoredWallet {
				continue
			}
			if tonapi.NanoToTON(tr.Amount).LessThan(s.MinDeposit) {
				continue
			}

			inserted, err := r.store.InsertDeposit(storage.Deposit{
				Signature:  tx.Signature,
				Source:     tr.From,
				AmountNano: tr.Amount,
				ObservedAt: tx.Timestamp,
			})
			if err != nil {
				log.Error("insert deposit", "signature", tx.Signature, "error", err)
				continue
			}
			if inserted {
				added++
				r.metrics.DepositsIngested.Inc()
				r.trace(tx.Signature, StepIngested, fmt.Sprintf("%s TON from %s", tonapi.NanoToTON(tr.Amount), tr.From))
			}
		}
	}

	if added > 0 {
		log.Info("deposits ingested", "count", added, "fetched", len(txs))
	}
	return nil
}

func (r *Reconciler) reconcile(ctx context.Context, s config.Settings, log *slog.Logger) error {
	pending, err := r.store.PendingDeposits()
	if err != nil {
		return fmt.Errorf("pending deposits: %w", err)
	}
	r.metrics.PendingDeposits.Set(float64(len(pending)))

	for _, d := range pending {
		if err := r.process(ctx, s, d, log); err != nil {
			return err
		}
	}
	return nil
}

// process runs the guards and pays one deposit. A returned error aborts the tick.
func (r *Reconciler) process(ctx context.Context, s config.Settings, d storage.Deposit, log *slog.Logger) error {
	log = log.With("signature", d.Signature, "source", d.Source)

	deposit := tonapi.NanoToTON(d.AmountNano)
	reward := deposit.Mul(s.Rate)

	skip, err := r.guard(s, d, reward)
	if err != nil {
		return err
	}
	if skip != "" {
		log.Info("deposit skipped", "guard", skip)
		r.metrics.GuardSkips.WithLabelValues(skip).Inc()
		r.trace(d.Signature, skip, "")
		return r.markProcessed(d.Signature)
	}

	user, err := r.store.TrackedUserByWallet(d.Source)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("tracked user: %w", err)
	}

	req := disburser.Request{
		Destination:      d.Source,
		Amount:           reward,
		DepositSignature: d.Signature,
	}
	if user != nil {
		req.ChatID = user.ChatID
		req.Username = user.Username
	}

	sig, err := r.sendWithRetry(ctx, s, req, log)
	switch {
	case errors.Is(err, disburser.ErrNoWalletConfigured):
		log.Warn("no funding wallet configured, deposit closed without reward")
		r.trace(d.Signature, StepNoWallet, "")
		sig = NoWalletSentinel
	case err != nil:
		return fmt.Errorf("disburse %s: %w", d.Signature, err)
	default:
		r.metrics.RewardsSent.Inc()
		r.trace(d.Signature, StepSendSuccess, sig)
	}

	if err := r.markProcessed(d.Signature); err != nil {
		return err
	}

	credit := Credit{
		DepositSignature:  d.Signature,
		Wallet:            d.Source,
		Deposit:           deposit,
		Reward:            reward,
		TransferSignature: sig,
		DepositTime:       d.ObservedAt,
		User:              user,
		Settings:          s,
	}

	if user != nil && sig != NoWalletSentinel {
		if err := r.notifier.NotifyUser(ctx, user.ChatID, credit); err != nil {
			log.Warn("notify user", "chat_id", user.ChatID, "error", err)
		} else {
			r.trace(d.Signature, StepUserNotified, fmt.Sprint(user.ChatID))
		}
	}

	if err := r.notifier.AnnounceGroup(ctx, credit); err != nil {
		log.Warn("announce group", "error", err)
	} else {
		r.trace(d.Signature, StepGroupAnnounced, "")
	}

	log.Info("deposit processed", "deposit", deposit.String(), "reward", reward.String(), "transfer", sig)
	return nil
}

// guard returns the name of the first guard that closes d, or "" to pay it
func (r *Reconciler) guard(s config.Settings, d storage.Deposit, reward decimal.Decimal) (string, error) {
	if d.ObservedAt.Before(s.PresaleStart) {
		return StepPreWindow, nil
	}

	rewarded, err := r.store.IsDepositRewarded(d.Signature)
	if err != nil {
		return "", fmt.Errorf("already rewarded check: %w", err)
	}
	if rewarded {
		return StepAlreadyRewarded, nil
	}

	dup, err := r.store.HasRewardFor(d.Source, reward.String())
	if err != nil {
		return "", fmt.Errorf("duplicate reward check: %w", err)
	}
	if dup {
		return StepDuplicate, nil
	}

	twin, err := r.store.HasPendingTwin(d)
	if err != nil {
		return "", fmt.Errorf("pending twin check: %w", err)
	}
	if twin {
		return StepPendingTwin, nil
	}

	return "", nil
}

// sendWithRetry makes up to RetryAttempts disbursement attempts with a constant
// delay between them. A missing wallet or a zero amount is not retried.
func (r *Reconciler) sendWithRetry(ctx context.Context, s config.Settings, req disburser.Request, log *slog.Logger) (string, error) {
	funding := disburser.Funding{
		Mnemonic:    s.WalletMnemonic,
		Version:     s.WalletVersion,
		TokenMaster: s.TokenMaster,
	}

	attempt := 0
	var sig string
	op := func() error {
		attempt++
		r.trace(req.DepositSignature, fmt.Sprintf("send_attempt_%d", attempt), req.Amount.String())

		attemptCtx := ctx
		if r.opts.SendTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.opts.SendTimeout)
			defer cancel()
		}

		var err error
		sig, err = r.disburser.Disburse(attemptCtx, funding, req)
		switch {
		case err == nil:
			r.metrics.DisburseAttempts.WithLabelValues("ok").Inc()
			return nil
		case errors.Is(err, disburser.ErrNoWalletConfigured), errors.Is(err, disburser.ErrZeroAmount):
			r.metrics.DisburseAttempts.WithLabelValues("permanent").Inc()
			return backoff.Permanent(err)
		default:
			r.metrics.DisburseAttempts.WithLabelValues("error").Inc()
			r.trace(req.DepositSignature, StepSendFail, err.Error())
			return err
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.RetryDelay), uint64(r.opts.RetryAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		log.Warn("disburse attempt failed", "attempt", attempt, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return sig, nil
}

func (r *Reconciler) markProcessed(signature string) error {
	if err := r.store.MarkDepositProcessed(signature); err != nil {
		return fmt.Errorf("mark processed %s: %w", signature, err)
	}
	r.trace(signature, StepProcessed, "")
	return nil
}

// trace records a lifecycle step. Failures are logged only.
func (r *Reconciler) trace(signature, step, detail string) {
	if err := r.store.AppendTrace(signature, step, detail); err != nil {
		r.log.Warn("append trace", "signature", signature, "step", step, "error", err)
	}
}

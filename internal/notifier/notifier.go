package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/ton-airdrop/internal/progress"
	"github.com/suspectuso/ton-airdrop/internal/reconciler"
)

// Sender delivers a chat message
type Sender interface {
	SendNotification(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) error
}

// ContestStore credits contest participants
type ContestStore interface {
	AddContestSpend(wallet string, amount decimal.Decimal) (int, error)
}

// Notifier tells depositors about their reward and announces buys in the group
type Notifier struct {
	sender   Sender
	contest  ContestStore
	progress *progress.Ledger
	log      *slog.Logger
	now      func() time.Time
}

// New creates a new Notifier
func New(sender Sender, contest ContestStore, ledger *progress.Ledger, log *slog.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		contest:  contest,
		progress: ledger,
		log:      log,
		now:      time.Now,
	}
}

// NotifyUser sends the credit message to the depositor's chat
func (n *Notifier) NotifyUser(ctx context.Context, chatID int64, c reconciler.Credit) error {
	text := creditedMessage(c.Deposit, c.Reward, c.Settings.TokenSymbol, c.TransferSignature)
	if err := n.sender.SendNotification(ctx, chatID, text, TransactionKeyboard(c.TransferSignature)); err != nil {
		return fmt.Errorf("send credit: %w", err)
	}
	return nil
}

// AnnounceGroup updates the progress ledger and contest standings, then posts
// the buy to the group. Bookkeeping happens even when the post is suppressed
// because no group is set or the presale window is closed.
func (n *Notifier) AnnounceGroup(ctx context.Context, c reconciler.Credit) error {
	s := c.Settings
	now := n.now()

	st, progressErr := n.progress.AddPurchase(progress.Purchase{
		Wallet:    c.Wallet,
		Deposit:   c.Deposit,
		Reward:    c.Reward,
		Timestamp: c.DepositTime,
	}, progress.Rules{
		Threshold:  s.BigSpenderThreshold,
		ContestEnd: s.ContestEnd,
	})
	if progressErr != nil {
		n.log.Error("update progress", "wallet", c.Wallet, "error", progressErr)
	}

	if s.ContestActive(c.DepositTime) {
		credited, err := n.contest.AddContestSpend(c.Wallet, c.Deposit)
		if err != nil {
			n.log.Error("update contest", "wallet", c.Wallet, "error", err)
		} else if credited > 0 {
			n.log.Info("contest spend added", "wallet", c.Wallet, "amount", c.Deposit.String(), "entries", credited)
		}
	}

	if s.GroupID == 0 {
		return nil
	}
	if !s.PresaleOpen(now) {
		n.log.Debug("presale closed, group announcement suppressed")
		return nil
	}

	txHash := c.TransferSignature
	if txHash == reconciler.NoWalletSentinel {
		txHash = ""
	}

	text := buyMessage(c.Deposit, c.Reward, s.TokenSymbol, txHash, c.Wallet)
	if progressErr == nil && s.ContestActive(now) {
		text += "\n\n" + ContestBlock(st, s, now)
	}

	if err := n.sender.SendNotification(ctx, s.GroupID, text, nil); err != nil {
		return fmt.Errorf("send announcement: %w", err)
	}
	n.log.Info("announced in group", "group_id", s.GroupID)
	return nil
}

// TransactionKeyboard links a reward transaction on the explorer
func TransactionKeyboard(txHash string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🔎 View transaction", URL: TxURL(txHash)},
			},
		},
	}
}

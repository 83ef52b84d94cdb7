package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/ton-airdrop/internal/config"
	"github.com/suspectuso/ton-airdrop/internal/progress"
	"github.com/suspectuso/ton-airdrop/internal/tonapi"
)

const explorer = "https://tonviewer.com"

// TxURL links a transaction hash on the explorer
func TxURL(hash string) string {
	return explorer + "/transaction/" + hash
}

// AccountURL links an account on the explorer, in user-friendly form
func AccountURL(raw string) string {
	return explorer + "/" + tonapi.RawToFriendly(raw)
}

// Amount renders d with at most 4 decimals, truncated
func Amount(d decimal.Decimal) string {
	return d.Truncate(4).String()
}

// Compact renders large numbers as 1.2K, 3.4M, 5B
func Compact(d decimal.Decimal) string {
	abs := d.Abs()
	switch {
	case abs.GreaterThanOrEqual(decimal.New(1, 9)):
		return d.Shift(-9).StringFixed(1) + "B"
	case abs.GreaterThanOrEqual(decimal.New(1, 6)):
		return d.Shift(-6).StringFixed(1) + "M"
	case abs.GreaterThanOrEqual(decimal.New(1, 3)):
		return d.Shift(-3).StringFixed(1) + "K"
	default:
		return Amount(d)
	}
}

// Emojis scales a row of ⚽️ with the deposit size
func Emojis(deposit decimal.Decimal) string {
	n := 2
	switch {
	case deposit.GreaterThanOrEqual(decimal.NewFromInt(10)):
		n = 10
	case deposit.GreaterThanOrEqual(decimal.NewFromInt(5)):
		n = 8
	case deposit.GreaterThanOrEqual(decimal.NewFromInt(2)):
		n = 6
	case deposit.GreaterThanOrEqual(decimal.NewFromInt(1)):
		n = 4
	case deposit.GreaterThanOrEqual(decimal.RequireFromString("0.5")):
		n = 3
	}
	return strings.Repeat("⚽️", n)
}

// ProgressBar draws a 10-segment bar for pct in [0, 100]
func ProgressBar(pct decimal.Decimal) string {
	filled := int(pct.Div(decimal.NewFromInt(10)).Floor().IntPart())
	filled = max(0, min(10, filled))
	return strings.Repeat("🟧", filled) + strings.Repeat("◻️", 10-filled)
}

// TimeLeft renders the time until end as "1d 2h 3m 4s"
func TimeLeft(end, now time.Time) string {
	left := end.Sub(now)
	if left <= 0 {
		return "0d 0h 0m 0s"
	}
	d := left / (24 * time.Hour)
	left -= d * 24 * time.Hour
	h := left / time.Hour
	left -= h * time.Hour
	m := left / time.Minute
	left -= m * time.Minute
	s := left / time.Second
	return fmt.Sprintf("%dd %dh %dm %ds", d, h, m, s)
}

// ContestBlock renders the contest progress section
func ContestBlock(st progress.State, s config.Settings, now time.Time) string {
	pct := decimal.NewFromInt(100)
	if s.ProgressCap.IsPositive() {
		pct = decimal.Min(st.TotalDeposited.Div(s.ProgressCap).Mul(decimal.NewFromInt(100)), pct)
	}

	return fmt.Sprintf(
		"🏆 <b>Contest Progress</b>\n"+
			"• Total Spent: <b>%s / %s TON</b>\n"+
			"• %s %s%%\n"+
			"• ⏳ Time left: %s\n"+
			"• 📅 Contest ends: <b>%s</b>",
		st.TotalDeposited.StringFixed(4), s.ProgressCap.String(),
		ProgressBar(pct), pct.StringFixed(2),
		TimeLeft(s.ContestEnd, now),
		s.ContestEnd.UTC().Format("02/01/2006"),
	)
}

func creditedMessage(deposit, reward decimal.Decimal, symbol, txHash string) string {
	e := Emojis(deposit)
	return fmt.Sprintf(
		"%s <b>$%s Tokens Received!</b> %s\n\n"+
			"💰 Deposited: <b>%s TON</b>\n"+
			"🎁 Received: <b>%s $%s</b>\n"+
			"🔗 Transaction: <a href='%s'>View on Tonviewer</a>\n\n"+
			"✅ Your tokens have been sent to your wallet!",
		e, symbol, e,
		Amount(deposit),
		Amount(reward), symbol,
		TxURL(txHash),
	)
}

func buyMessage(deposit, reward decimal.Decimal, symbol, txHash, wallet string) string {
	links := fmt.Sprintf("👛 <a href='%s'>Wallet</a>", AccountURL(wallet))
	if txHash != "" {
		links = fmt.Sprintf("🔗 <a href='%s'>Transaction</a> | ", TxURL(txHash)) + links
	}

	return fmt.Sprintf(
		"🐐 <b>New $%s Buy</b>\n\n"+
			"%s\n\n"+
			"• 💰 Spent: %s TON\n"+
			"• 🎁 Bought: %s $%s\n"+
			"• %s",
		symbol,
		Emojis(deposit),
		Amount(deposit),
		Amount(reward), symbol,
		links,
	)
}

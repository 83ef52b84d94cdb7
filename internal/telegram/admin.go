package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/ton-airdrop/internal/config"
	"github.com/suspectuso/ton-airdrop/internal/notifier"
)

// adminOnly drops updates from anyone not listed in admin_ids
func (b *Bot) adminOnly(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
		if update.Message == nil {
			return
		}
		if !b.settings.Snapshot().IsAdmin(senderID(update.Message)) {
			b.log.Debug("admin command from non-admin", "user_id", senderID(update.Message))
			return
		}
		next(ctx, tgBot, update)
	}
}

func (b *Bot) adminHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	var sb strings.Builder
	sb.WriteString("🛠 <b>Admin panel</b>\n\n<pre>")
	for _, line := range b.settings.Public() {
		sb.WriteString(html.EscapeString(line))
		sb.WriteByte('\n')
	}
	sb.WriteString("</pre>")

	if st, err := b.progress.Snapshot(); err == nil {
		fmt.Fprintf(&sb, "\n💰 Deposited: <b>%s TON</b>\n🎁 Issued: <b>%s</b>\n🐋 Big spenders: <b>%d</b>",
			notifier.Amount(st.TotalDeposited), notifier.Compact(st.TotalReward), len(st.BigSpenders))
	}

	sent, err := b.storage.CountSentRewards()
	if err == nil {
		fmt.Fprintf(&sb, "\n📤 Rewards sent: <b>%d</b>", sent)
	}

	sb.WriteString("\n\nEdit with <code>/set &lt;key&gt; &lt;value&gt;</code>")
	b.sendMessage(ctx, chatID, sb.String(), AdminKeyboard())
}

func (b *Bot) setHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	key, value, ok := splitSetArgs(update.Message.Text)
	if !ok {
		b.sendMessage(ctx, chatID, "Usage: <code>/set &lt;key&gt; &lt;value&gt;</code>\n"+
			"Send <code>"+clearToken+"</code> as the value to clear wallet_mnemonic.\n"+
			"Keys: "+strings.Join(config.Keys, ", "), nil)
		return
	}
	value = settingValue(value)

	if err := b.settings.Set(key, value); err != nil {
		switch {
		case errors.Is(err, config.ErrUnknownKey), errors.Is(err, config.ErrInvalidValue):
			b.sendMessage(ctx, chatID, "❌ "+html.EscapeString(err.Error()), nil)
		default:
			b.log.Error("set setting", "key", key, "error", err)
			b.sendMessage(ctx, chatID, "❌ Could not save settings.", nil)
		}
		return
	}

	shown := value
	switch {
	case key == config.KeyWalletMnemonic && value == "":
		shown = "(cleared, rewards paused)"
	case key == config.KeyWalletMnemonic:
		shown = "(hidden)"
	}
	b.log.Info("setting changed by admin", "user_id", senderID(update.Message), "key", key)
	b.sendMessage(ctx, chatID, fmt.Sprintf("✅ <b>%s</b> updated to <code>%s</code>", key, html.EscapeString(shown)), nil)
}

func (b *Bot) reloadHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.reload(ctx, update.Message.Chat.ID)
}

func (b *Bot) reload(ctx context.Context, chatID int64) {
	if err := b.settings.Reload(); err != nil {
		b.log.Error("reload settings", "error", err)
		b.sendMessage(ctx, chatID, "❌ Reload failed: "+html.EscapeString(err.Error()), nil)
		return
	}
	b.sendMessage(ctx, chatID, "🔄 Settings reloaded.", nil)
}

func (b *Bot) eligibleHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.sendEligible(ctx, update.Message.Chat.ID)
}

func (b *Bot) sendEligible(ctx context.Context, chatID int64) {
	list, err := b.progress.Export()
	if err != nil {
		b.log.Error("export big spenders", "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not read the progress file.", nil)
		return
	}
	if list == "" {
		b.sendMessage(ctx, chatID, "❌ No eligible wallets yet.", nil)
		return
	}

	_, err = b.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: "eligible.txt",
			Data:     bytes.NewReader([]byte(list)),
		},
	})
	if err != nil {
		b.log.Error("send eligible list", "error", err)
	}
}

func (b *Bot) traceHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	args := commandArgs(update.Message.Text)
	if len(args) == 0 {
		b.sendMessage(ctx, chatID, "Usage: <code>/trace &lt;deposit signature&gt;</code>", nil)
		return
	}

	steps, err := b.storage.Traces(args[0])
	if err != nil {
		b.log.Error("load traces", "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not load the trace.", nil)
		return
	}
	if len(steps) == 0 {
		b.sendMessage(ctx, chatID, "No trace for this signature.", nil)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🧾 <b>Trace</b> <code>%s</code>\n\n", html.EscapeString(args[0]))
	for _, st := range steps {
		fmt.Fprintf(&sb, "%s  <b>%s</b>", st.At.UTC().Format("02/01 15:04:05"), st.Step)
		if st.Detail != "" {
			fmt.Fprintf(&sb, " %s", html.EscapeString(st.Detail))
		}
		sb.WriteByte('\n')
	}
	b.sendMessage(ctx, chatID, sb.String(), nil)
}

func (b *Bot) handleAdminAction(ctx context.Context, chatID, userID int64, action string) {
	switch action {
	case "reload":
		b.reload(ctx, chatID)
	case "eligible":
		b.sendEligible(ctx, chatID)
	case "newcontest":
		b.promptContestStart(ctx, chatID, userID)
	default:
		b.log.Warn("unknown admin action", "action", action)
	}
}

// --- New contest ---

func (b *Bot) newContestHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	args := commandArgs(msg.Text)
	if len(args) == 0 {
		b.promptContestStart(ctx, msg.Chat.ID, senderID(msg))
		return
	}

	if len(args) != 3 {
		b.sendMessage(ctx, msg.Chat.ID, "Usage: <code>/newcontest &lt;DD/MM/YYYY&gt; &lt;days&gt; &lt;cap TON&gt;</code>", nil)
		return
	}

	start, err := parseContestStart(args[0], b.now())
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, "❌ "+html.EscapeString(err.Error()), nil)
		return
	}
	days, err := parseDays(args[1])
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, "❌ "+html.EscapeString(err.Error()), nil)
		return
	}
	capTON, err := parseCap(args[2])
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, "❌ "+html.EscapeString(err.Error()), nil)
		return
	}

	b.scheduleContest(ctx, msg.Chat.ID, start, days, capTON)
}

func (b *Bot) promptContestStart(ctx context.Context, chatID, userID int64) {
	b.states.Set(userID, StateWaitContestStart, nil)
	b.sendMessage(ctx, chatID,
		"⏱️ When does the new contest start?\n"+
			"Send a date <code>DD/MM/YYYY</code> or a delay <code>H:MM</code> from now.",
		CancelKeyboard(),
	)
}

func (b *Bot) handleContestStep(ctx context.Context, msg *models.Message, text string, state *UserState) {
	userID := senderID(msg)
	draft := draftFrom(state)

	switch state.State {
	case StateWaitContestStart:
		start, err := parseContestStart(text, b.now())
		if err != nil {
			b.sendMessage(ctx, msg.Chat.ID, "❌ Use DD/MM/YYYY or H:MM (example 2:45).", CancelKeyboard())
			return
		}
		draft.Start = start
		b.states.Set(userID, StateWaitContestDays, map[string]any{"draft": draft})
		b.sendMessage(ctx, msg.Chat.ID, "📆 <b>How many days</b> will the contest last?", CancelKeyboard())

	case StateWaitContestDays:
		days, err := parseDays(text)
		if err != nil {
			b.sendMessage(ctx, msg.Chat.ID, "❌ Enter a positive number of days.", CancelKeyboard())
			return
		}
		draft.Days = days
		b.states.Set(userID, StateWaitContestCap, map[string]any{"draft": draft})
		b.sendMessage(ctx, msg.Chat.ID, "💰 Total TON <b>cap</b> for this contest?", CancelKeyboard())

	case StateWaitContestCap:
		capTON, err := parseCap(text)
		if err != nil {
			b.sendMessage(ctx, msg.Chat.ID, "❌ Enter a positive number.", CancelKeyboard())
			return
		}
		b.states.Clear(userID)
		b.scheduleContest(ctx, msg.Chat.ID, draft.Start, draft.Days, capTON)
	}
}

// scheduleContest archives the progress file and writes the new contest window
func (b *Bot) scheduleContest(ctx context.Context, chatID int64, start time.Time, days int, capTON decimal.Decimal) {
	archive, err := b.progress.Archive(b.now())
	if err != nil {
		b.log.Error("archive progress", "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not archive the current contest.", nil)
		return
	}

	end := start.Add(time.Duration(days) * 24 * time.Hour)
	err = b.settings.SetAll(map[string]string{
		config.KeyContestStart: strconv.FormatInt(start.Unix(), 10),
		config.KeyContestEnd:   strconv.FormatInt(end.Unix(), 10),
		config.KeyProgressCap:  capTON.String(),
	})
	if err != nil {
		b.log.Error("save contest settings", "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not save contest settings.", nil)
		return
	}

	b.log.Info("new contest scheduled", "start", start, "days", days, "cap", capTON.String(), "archive", archive)
	b.sendMessage(ctx, chatID, fmt.Sprintf(
		"✅ New contest scheduled!\n"+
			"• Starts: <b>%s UTC</b>\n"+
			"• Duration: <b>%d day(s)</b>\n"+
			"• Cap: <b>%s TON</b>",
		start.UTC().Format("02/01/2006 15:04"), days, capTON.String(),
	), nil)
}

// parseContestStart accepts DD/MM/YYYY, unix seconds, or an H:MM delay from now
func parseContestStart(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if h, m, ok := strings.Cut(raw, ":"); ok && !strings.Contains(raw, "/") {
		hours, errH := strconv.Atoi(h)
		minutes, errM := strconv.Atoi(m)
		if errH != nil || errM != nil || hours < 0 || minutes < 0 || minutes > 59 {
			return time.Time{}, errors.New("use H:MM, for example 2:45")
		}
		return now.Add(time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute).Truncate(time.Second), nil
	}
	return config.ParseDate(raw)
}

func parseDays(raw string) (int, error) {
	days, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || days <= 0 {
		return 0, errors.New("days must be a positive number")
	}
	return days, nil
}

func parseCap(raw string) (decimal.Decimal, error) {
	c, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !c.IsPositive() {
		return decimal.Decimal{}, errors.New("cap must be a positive number")
	}
	return c, nil
}

// clearToken stands for an empty value in /set
const clearToken = "-"

func settingValue(raw string) string {
	if raw == clearToken {
		return ""
	}
	return raw
}

// splitSetArgs parses "/set key value with spaces"
func splitSetArgs(text string) (string, string, bool) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return "", "", false
	}
	key := strings.ToLower(fields[1])
	rest := strings.TrimSpace(text[strings.Index(text, fields[1])+len(fields[1]):])
	return key, rest, rest != ""
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/ton-airdrop/internal/config"
	"github.com/suspectuso/ton-airdrop/internal/notifier"
	"github.com/suspectuso/ton-airdrop/internal/progress"
	"github.com/suspectuso/ton-airdrop/internal/storage"
	"github.com/suspectuso/ton-airdrop/internal/tonapi"
)

var addrRegex = regexp.MustCompile(`(-?[0-9]:[0-9A-Fa-f]{64}|[UEk0]Q[0-9A-Za-z_+/-]{46})`)

const leaderboardSize = 10

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot      *bot.Bot
	cfg      *config.Config
	settings *config.Store
	storage  *storage.Storage
	progress *progress.Ledger
	states   *StateManager
	log      *slog.Logger
	now      func() time.Time
}

// New creates a new telegram bot
func New(cfg *config.Config, settings *config.Store, store *storage.Storage, ledger *progress.Ledger, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:      cfg,
		settings: settings,
		storage:  store,
		progress: ledger,
		states:   NewStateManager(),
		log:      log,
		now:      time.Now,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	// User commands
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/track", bot.MatchTypePrefix, b.trackHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/contest", bot.MatchTypePrefix, b.contestHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/leaderboard", bot.MatchTypePrefix, b.leaderboardHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypePrefix, b.cancelHandler)

	// Admin commands
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/admin", bot.MatchTypePrefix, b.adminOnly(b.adminHandler))
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/set", bot.MatchTypePrefix, b.adminOnly(b.setHandler))
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/reload", bot.MatchTypePrefix, b.adminOnly(b.reloadHandler))
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/eligible", bot.MatchTypePrefix, b.adminOnly(b.eligibleHandler))
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/newcontest", bot.MatchTypePrefix, b.adminOnly(b.newContestHandler))
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/trace", bot.MatchTypePrefix, b.adminOnly(b.traceHandler))

	return b, nil
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	s := b.settings.Snapshot()
	b.states.Clear(senderID(update.Message))

	if s.MonitoredWallet == "" {
		b.sendMessage(ctx, update.Message.Chat.ID, "⏳ The presale is not open yet. Check back soon!", nil)
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID, welcomeText(s), DepositKeyboard(s.MonitoredWallet))
}

func (b *Bot) trackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	if args := commandArgs(msg.Text); len(args) > 0 {
		b.trackWallet(ctx, msg, args[0])
		return
	}

	b.states.Set(senderID(msg), StateWaitTrackWallet, nil)
	b.sendMessage(ctx, msg.Chat.ID, askWalletText, CancelKeyboard())
}

func (b *Bot) contestHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	b.showContest(ctx, msg.Chat.ID, senderID(msg), username(msg), commandArgs(msg.Text))
}

func (b *Bot) leaderboardHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.showLeaderboard(ctx, update.Message.Chat.ID)
}

func (b *Bot) cancelHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.states.Clear(senderID(update.Message))
	b.sendMessage(ctx, update.Message.Chat.ID, "Cancelled.", MainKeyboard())
}

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}

	text := strings.TrimSpace(msg.Text)
	state := b.states.Get(senderID(msg))
	if state == nil {
		return
	}

	switch state.State {
	case StateWaitTrackWallet:
		b.trackWallet(ctx, msg, text)
	case StateWaitContestWallet:
		b.joinContest(ctx, msg, text)
	case StateWaitContestStart, StateWaitContestDays, StateWaitContestCap:
		if !b.settings.Snapshot().IsAdmin(senderID(msg)) {
			b.states.Clear(senderID(msg))
			return
		}
		b.handleContestStep(ctx, msg, text, state)
	}
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	userID := cb.From.ID
	data := cb.Data

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	chatID := userID
	if cb.Message.Message != nil {
		chatID = cb.Message.Message.Chat.ID
	}

	switch {
	case data == "track":
		b.states.Set(userID, StateWaitTrackWallet, nil)
		b.sendMessage(ctx, chatID, askWalletText, CancelKeyboard())
	case data == "contest":
		b.showContest(ctx, chatID, userID, cb.From.Username, nil)
	case data == "leaderboard":
		b.showLeaderboard(ctx, chatID)
	case data == "cancel":
		b.states.Clear(userID)
		b.sendMessage(ctx, chatID, "Cancelled.", MainKeyboard())
	case strings.HasPrefix(data, "admin:"):
		if !b.settings.Snapshot().IsAdmin(userID) {
			return
		}
		b.handleAdminAction(ctx, chatID, userID, strings.TrimPrefix(data, "admin:"))
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", userID)
	}
}

// --- Tracking ---

func (b *Bot) trackWallet(ctx context.Context, msg *models.Message, text string) {
	addr := extractAddress(text)
	raw, err := tonapi.ParseAddress(addr)
	if addr == "" || err != nil {
		b.sendMessage(ctx, msg.Chat.ID, "❌ That doesn't look like a TON address. Try again.", CancelKeyboard())
		return
	}

	userID := senderID(msg)
	added, err := b.storage.AddTrackedUser(userID, username(msg), raw)
	if err != nil {
		b.log.Error("add tracked user", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "❌ Something went wrong, try again later.", nil)
		return
	}
	b.states.Clear(userID)

	if !added {
		existing, err := b.storage.TrackedUserByWallet(raw)
		if err == nil && existing.ChatID != userID {
			b.sendMessage(ctx, msg.Chat.ID, "⚠️ This wallet is already tracked by another account.", MainKeyboard())
			return
		}
	}

	b.log.Info("wallet tracked", "user_id", userID, "wallet", raw)
	b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf(
		"✅ Tracking <code>%s</code>\n\nYou'll get a message here when your tokens are sent.",
		tonapi.RawToFriendly(raw),
	), MainKeyboard())
}

// --- Contest ---

func (b *Bot) showContest(ctx context.Context, chatID, userID int64, name string, args []string) {
	s := b.settings.Snapshot()
	now := b.now()
	if !s.ContestActive(now) {
		b.sendMessage(ctx, chatID, "⏰ <b>Contest has ended.</b>", nil)
		return
	}

	p, err := b.storage.ContestParticipantByChat(userID)
	switch {
	case err == nil:
		st, err := b.progress.Snapshot()
		if err != nil {
			b.log.Error("progress snapshot", "error", err)
		}
		text := participantText(p) + "\n\n" + notifier.ContestBlock(st, s, now)
		b.sendMessage(ctx, chatID, text, nil)
		return
	case !errors.Is(err, storage.ErrNotFound):
		b.log.Error("contest participant", "error", err)
		b.sendMessage(ctx, chatID, "❌ Error loading contest. Try again later.", nil)
		return
	}

	if len(args) > 0 {
		b.joinContestAs(ctx, chatID, userID, name, args[0])
		return
	}

	b.states.Set(userID, StateWaitContestWallet, nil)
	b.sendMessage(ctx, chatID, fmt.Sprintf(
		"🏆 <b>Join the Contest!</b>\n\n"+
			"💰 <b>How it works:</b>\n"+
			"• Send TON to participate\n"+
			"• Higher spending = better rank\n"+
			"• Contest ends: <b>%s</b>\n\n"+
			"📝 <b>Send your TON wallet address to join:</b>",
		s.ContestEnd.UTC().Format("02/01/2006"),
	), CancelKeyboard())
}

func (b *Bot) joinContest(ctx context.Context, msg *models.Message, text string) {
	b.joinContestAs(ctx, msg.Chat.ID, senderID(msg), username(msg), text)
}

func (b *Bot) joinContestAs(ctx context.Context, chatID, userID int64, name, text string) {
	raw, err := tonapi.ParseAddress(extractAddress(text))
	if err != nil {
		b.sendMessage(ctx, chatID, "❌ Invalid TON address, try again.", CancelKeyboard())
		return
	}

	if _, err := b.storage.JoinContest(userID, name, raw); err != nil {
		b.log.Error("join contest", "error", err)
		b.sendMessage(ctx, chatID, "❌ Something went wrong, try again later.", nil)
		return
	}
	b.states.Clear(userID)

	b.log.Info("contest joined", "user_id", userID, "wallet", raw)
	b.sendMessage(ctx, chatID, fmt.Sprintf(
		"🎉 <b>Welcome to the Contest!</b>\n\n"+
			"✅ Wallet registered: <code>%s</code>\n"+
			"💰 Start sending TON to compete!\n"+
			"🏆 Use /contest to check your rank",
		tonapi.RawToFriendly(raw),
	), nil)
}

func (b *Bot) showLeaderboard(ctx context.Context, chatID int64) {
	s := b.settings.Snapshot()
	if !s.ContestActive(b.now()) {
		b.sendMessage(ctx, chatID, "⏰ <b>Contest has ended.</b>", nil)
		return
	}

	top, err := b.storage.Leaderboard(leaderboardSize)
	if err != nil {
		b.log.Error("leaderboard", "error", err)
		b.sendMessage(ctx, chatID, "❌ Error loading leaderboard. Try again later.", nil)
		return
	}

	if len(top) == 0 {
		b.sendMessage(ctx, chatID, "🏆 <b>No participants yet!</b>\n\nUse /contest to join!", nil)
		return
	}

	b.sendMessage(ctx, chatID, leaderboardText(top, s.ContestEnd), nil)
}

// --- Helpers ---

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

// SendNotification sends a message on behalf of the reward notifier
func (b *Bot) SendNotification(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) error {
	disablePreview := true
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	return err
}

const askWalletText = "📝 <b>Track Your Wallet</b>\n\n" +
	"Send the TON wallet address you deposit from to get a message when your tokens are sent."

func welcomeText(s config.Settings) string {
	return fmt.Sprintf(
		"⚽️ <b>Welcome to the $%s Airdrop Bot!</b>\n\n"+
			"💰 <b>How it works:</b>\n"+
			"• Send TON to the wallet address below\n"+
			"• Get $%s tokens automatically\n"+
			"• Rate: <b>%s $%s per 1 TON</b>\n"+
			"• Minimum deposit: <b>%s TON</b>\n\n"+
			"💳 <code>%s</code>\n\n"+
			"⚠️ Only send TON to this address!",
		s.TokenSymbol, s.TokenSymbol,
		s.Rate.String(), s.TokenSymbol,
		s.MinDeposit.String(),
		tonapi.RawToFriendly(s.MonitoredWallet),
	)
}

func participantText(p *storage.ContestParticipant) string {
	rank := "Not ranked yet"
	if p.Rank > 0 {
		rank = fmt.Sprintf("#%d", p.Rank)
	}
	return fmt.Sprintf(
		"🏆 <b>Your Contest Stats</b>\n"+
			"• 💰 Total Spent: <b>%s TON</b>\n"+
			"• 🎯 Rank: <b>%s</b>\n"+
			"• 📅 Joined: <b>%s</b>",
		p.TotalSpent, rank, p.JoinedAt.UTC().Format("02/01/2006"),
	)
}

func leaderboardText(top []storage.ContestParticipant, end time.Time) string {
	var sb strings.Builder
	sb.WriteString("🏆 <b>Contest Leaderboard</b>\n\n")

	for i, p := range top {
		name := "Anonymous"
		if p.Username != "" {
			name = "@" + html.EscapeString(p.Username)
		}

		medal := fmt.Sprintf("%d.", i+1)
		switch i {
		case 0:
			medal = "🥇"
		case 1:
			medal = "🥈"
		case 2:
			medal = "🥉"
		}

		fmt.Fprintf(&sb, "%s %s\n   💰 %s TON\n\n", medal, name, p.TotalSpent)
	}

	fmt.Fprintf(&sb, "📅 Contest ends: <b>%s</b>\n", end.UTC().Format("02/01/2006"))
	sb.WriteString("🎯 Use /contest to join or check your rank!")
	return sb.String()
}

// commandArgs returns the words after the command
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return fields[1:]
}

func senderID(msg *models.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}

func username(msg *models.Message) string {
	if msg.From != nil {
		return msg.From.Username
	}
	return ""
}

func extractAddress(text string) string {
	matches := addrRegex.FindStringSubmatch(text)
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

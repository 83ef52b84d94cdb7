package telegram

import (
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/ton-airdrop/internal/notifier"
)

// MainKeyboard returns the main menu keyboard
func MainKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "👛 Track wallet", CallbackData: "track"},
			},
			{
				{Text: "🏆 Contest", CallbackData: "contest"},
				{Text: "📊 Leaderboard", CallbackData: "leaderboard"},
			},
		},
	}
}

// DepositKeyboard links the deposit wallet on the explorer
func DepositKeyboard(wallet string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🔎 Deposit wallet", URL: notifier.AccountURL(wallet)},
			},
			{
				{Text: "👛 Track wallet", CallbackData: "track"},
			},
		},
	}
}

// AdminKeyboard returns the admin panel actions
func AdminKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🔄 Reload settings", CallbackData: "admin:reload"},
				{Text: "📄 Eligible list", CallbackData: "admin:eligible"},
			},
			{
				{Text: "🏁 New contest", CallbackData: "admin:newcontest"},
			},
		},
	}
}

// CancelKeyboard aborts the current prompt
func CancelKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✖️ Cancel", CallbackData: "cancel"},
			},
		},
	}
}

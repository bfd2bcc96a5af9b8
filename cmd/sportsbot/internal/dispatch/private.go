// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package dispatch

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/sender"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/telegram"
	"go.astrophena.name/sportsbot/internal/tgmarkup"
)

const dialogFeedback = "feedback"

func dialogKey(userID int64) string { return "dialog:" + strconv.FormatInt(userID, 10) }
func secretKey(userID int64) string { return "secret:" + strconv.FormatInt(userID, 10) }

func (d *Dispatcher) handlePrivate(ctx context.Context, m *telegram.Message) {
	if m.From == nil {
		return
	}
	user := m.From
	if err := d.journal.TouchUser(ctx, journalUser(user)); err != nil {
		d.slog.Error("saving user stats", "user", user.ID, "error", err)
	}

	text := strings.TrimSpace(m.Text)

	dialog, err := d.state.Get(ctx, dialogKey(user.ID))
	if err != nil {
		d.slog.Error("loading dialog state", "user", user.ID, "error", err)
	}
	if string(dialog) == dialogFeedback {
		d.processFeedback(ctx, m, text)
		return
	}

	if cmd, args := parseCommand(text); cmd != "" {
		switch cmd {
		case "/start":
			d.reply(ctx, m.Chat.ID, welcomeText, mainKeyboard)
			d.logAction(ctx, user.ID, "start", "")
			d.slog.Info("user started chat", "user", user.ID)
		case "/help":
			d.reply(ctx, m.Chat.ID, helpText, nil)
		case "/stats":
			d.sendStats(ctx, m)
		case "/guess":
			d.privateGuess(ctx, m, args)
		default:
			d.reply(ctx, m.Chat.ID, chooseActionText, mainKeyboard)
		}
		return
	}

	switch text {
	case btnStats:
		d.sendStats(ctx, m)
	case btnFeedback:
		d.startFeedback(ctx, m)
	case btnHelp:
		d.reply(ctx, m.Chat.ID, helpText, nil)
	case btnChannel:
		d.send(ctx, sender.Message{
			ChatID:         strconv.FormatInt(m.Chat.ID, 10),
			Body:           channelText,
			InlineKeyboard: d.channelKeyboard(),
		})
	case btnGames:
		d.reply(ctx, m.Chat.ID, gamesText, gamesKeyboard)
	case btnGuessGame:
		secret := 1 + d.rand(100)
		if err := setInt(ctx, d.state, secretKey(user.ID), secret, gameTTL); err != nil {
			d.slog.Error("saving secret number", "user", user.ID, "error", err)
			return
		}
		d.reply(ctx, m.Chat.ID, guessStartText, nil)
		d.logAction(ctx, user.ID, "guess_game", "")
	case btnRandomNumber:
		n := 1 + d.rand(1000)
		var b tgmarkup.Builder
		b.Text("🎲 Ваше случайное число: ").Styled(tgmarkup.Bold, strconv.Itoa(n))
		d.reply(ctx, m.Chat.ID, b.Message(), nil)
	case btnSettings:
		d.reply(ctx, m.Chat.ID, settingsText, settingsKeyboard)
	case btnNotifications:
		d.sendInline(ctx, m.Chat.ID, notificationsText, notificationsKeyboard)
	case btnLanguage:
		d.sendInline(ctx, m.Chat.ID, languageText, languageKeyboard)
	case btnBack:
		d.reply(ctx, m.Chat.ID, mainMenuText, mainKeyboard)
	default:
		d.reply(ctx, m.Chat.ID, chooseActionText, mainKeyboard)
	}
}

func (d *Dispatcher) sendInline(ctx context.Context, chatID int64, body tgmarkup.Message, kb sender.InlineKeyboard) {
	d.send(ctx, sender.Message{
		ChatID:         strconv.FormatInt(chatID, 10),
		Body:           body,
		InlineKeyboard: kb,
	})
}

func (d *Dispatcher) sendStats(ctx context.Context, m *telegram.Message) {
	if !d.isAdmin(m.From.ID) {
		d.reply(ctx, m.Chat.ID, statsDeniedText, nil)
		return
	}
	totals, err := d.journal.Totals(ctx)
	if err != nil {
		d.slog.Error("getting stats", "error", err)
		d.reply(ctx, m.Chat.ID, statsErrorText, nil)
		return
	}
	d.reply(ctx, m.Chat.ID, tgmarkup.FromMarkdown(fmt.Sprintf(
		"📊 **Статистика бота:**\n\n👥 Пользователей: %d\n💬 Сообщений: %d\n📝 Отзывов: %d\n🕒 Время: %s",
		totals.Users, totals.Messages, totals.Feedback, d.now().Format("15:04:05"),
	)), nil)
}

func (d *Dispatcher) startFeedback(ctx context.Context, m *telegram.Message) {
	if err := d.state.Set(ctx, dialogKey(m.From.ID), []byte(dialogFeedback), dialogTTL); err != nil {
		d.slog.Error("saving dialog state", "user", m.From.ID, "error", err)
		return
	}
	d.reply(ctx, m.Chat.ID, feedbackAskText, backKeyboard)

	kb := sender.InlineKeyboard{
		{{Text: "⭐ Оценить бота", CallbackData: cbRateBot}},
	}
	if d.supportURL != "" {
		kb = slices.Insert(kb, 0, []sender.InlineKeyboardButton{{Text: "📞 Связаться с поддержкой", URL: d.supportURL}})
	}
	d.sendInline(ctx, m.Chat.ID, feedbackQuickText, kb)
}

func (d *Dispatcher) processFeedback(ctx context.Context, m *telegram.Message, text string) {
	user := m.From
	if text == btnBack {
		d.clearDialog(ctx, user.ID)
		d.reply(ctx, m.Chat.ID, mainMenuText, mainKeyboard)
		return
	}
	if text == "" {
		d.reply(ctx, m.Chat.ID, feedbackTextOnly, backKeyboard)
		return
	}

	ticket, err := d.journal.AddFeedback(ctx, user.ID, text)
	if err != nil {
		d.slog.Error("saving feedback", "user", user.ID, "error", err)
		d.reply(ctx, m.Chat.ID, feedbackErrorText, backKeyboard)
		return
	}
	d.clearDialog(ctx, user.ID)

	name := user.FirstName
	if user.Username != "" {
		name = "@" + user.Username
	}
	relay := plain(fmt.Sprintf("📩 Новый фидбек #%s от %s (ID: %d):\n\n%s", ticket, name, user.ID, text))
	for _, admin := range d.admins.ToSortedSlice() {
		d.send(ctx, sender.Message{
			ChatID:             strconv.FormatInt(admin, 10),
			Body:               relay,
			DisableLinkPreview: true,
		})
	}

	var b tgmarkup.Builder
	b.Text("✅ Спасибо за ваш отзыв! Мы его рассмотрим.\n\nНомер обращения: ").Styled(tgmarkup.Code, ticket)
	d.reply(ctx, m.Chat.ID, b.Message(), mainKeyboard)
	d.slog.Info("feedback received", "user", user.ID, "ticket", ticket)
}

func (d *Dispatcher) clearDialog(ctx context.Context, userID int64) {
	if err := d.state.Delete(ctx, dialogKey(userID)); err != nil {
		d.slog.Error("clearing dialog state", "user", userID, "error", err)
	}
}

func (d *Dispatcher) privateGuess(ctx context.Context, m *telegram.Message, args string) {
	guess, ok := parseGuess(args)
	if !ok {
		d.reply(ctx, m.Chat.ID, privateGuessUsage, nil)
		return
	}
	if guess < 1 || guess > 100 {
		d.reply(ctx, m.Chat.ID, guessOutOfRange, nil)
		return
	}

	key := secretKey(m.From.ID)
	secret, ok, err := getInt(ctx, d.state, key)
	if err != nil {
		d.slog.Error("loading secret number", "user", m.From.ID, "error", err)
		return
	}
	if !ok {
		d.reply(ctx, m.Chat.ID, privateNoGame, nil)
		return
	}

	switch {
	case guess < secret:
		d.reply(ctx, m.Chat.ID, plain(fmt.Sprintf("🔺 Мое число больше, чем %d! Попробуй еще!", guess)), nil)
	case guess > secret:
		d.reply(ctx, m.Chat.ID, plain(fmt.Sprintf("🔻 Мое число меньше, чем %d! Попробуй еще!", guess)), nil)
	default:
		if err := d.state.Delete(ctx, key); err != nil {
			d.slog.Error("clearing secret number", "user", m.From.ID, "error", err)
		}
		d.reply(ctx, m.Chat.ID, plain(fmt.Sprintf("🎉 Угадал! Это действительно %d!", secret)), nil)
		d.logAction(ctx, m.From.ID, "guess_won", strconv.Itoa(secret))
	}
}

// channelKeyboard links to the channel when it has a public username.
func (d *Dispatcher) channelKeyboard() sender.InlineKeyboard {
	var kb sender.InlineKeyboard
	if name, ok := strings.CutPrefix(d.channelID, "@"); ok && name != "" {
		kb = append(kb, []sender.InlineKeyboardButton{{Text: "📢 Подписаться на канал", URL: "https://t.me/" + name}})
	}
	return append(kb, []sender.InlineKeyboardButton{{Text: "✅ Проверить подписку", CallbackData: cbCheckSubscription}})
}

func (d *Dispatcher) logAction(ctx context.Context, userID int64, action, details string) {
	if err := d.journal.LogAction(ctx, userID, action, details); err != nil {
		d.slog.Error("logging user action", "user", userID, "action", action, "error", err)
	}
}

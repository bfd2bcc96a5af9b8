// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/telegram"
	"go.astrophena.name/sportsbot/internal/set"
	"go.astrophena.name/sportsbot/internal/tgmarkup"
)

func gameKey(chatID int64) string { return "game:" + strconv.FormatInt(chatID, 10) }

func (d *Dispatcher) handleGroup(ctx context.Context, m *telegram.Message) {
	cmd, args := parseCommand(m.Text)
	switch cmd {
	case "":
		d.moderate(ctx, m)
	case "/start_game":
		d.startGame(ctx, m)
	case "/guess":
		d.groupGuess(ctx, m, args)
	case "/game_status":
		if _, ok, _ := getInt(ctx, d.state, gameKey(m.Chat.ID)); ok {
			d.reply(ctx, m.Chat.ID, gameStatusActive, nil)
		} else {
			d.reply(ctx, m.Chat.ID, gameStatusInactive, nil)
		}
	case "/badwords":
		var sb strings.Builder
		sb.WriteString("📋 Список запрещенных слов:\n")
		for _, w := range d.badWords {
			sb.WriteString("• " + w + "\n")
		}
		sb.WriteString("\n❌ Использование этих слов приведет к удалению сообщения!")
		d.reply(ctx, m.Chat.ID, plain(sb.String()), nil)
	}
}

// moderate deletes messages with bad words and warns their authors.
func (d *Dispatcher) moderate(ctx context.Context, m *telegram.Message) {
	found := findBadWords(m.Text, d.badWords)
	if len(found) == 0 {
		return
	}

	if err := d.api.DeleteMessage(ctx, m.Chat.ID, m.MessageID); err != nil {
		d.slog.Error("deleting message", "chat", m.Chat.ID, "message", m.MessageID, "error", err)
	} else {
		d.slog.Info("deleted message with bad words", "chat", m.Chat.ID, "words", found)
	}

	if m.From != nil {
		if err := d.journal.AddWarning(ctx, journalUser(m.From)); err != nil {
			d.slog.Error("saving warning", "user", m.From.ID, "error", err)
		}
	}
	d.reply(ctx, m.Chat.ID, plain(fmt.Sprintf(
		"⚠️ %s, пожалуйста, не используйте ненормативную лексику!\nОбнаружены запрещенные слова: %s",
		firstName(m), strings.Join(found, ", "),
	)), nil)
}

// findBadWords returns the words of list that occur in text as whole words,
// ignoring case, in the order of list.
func findBadWords(text string, list []string) []string {
	words := set.New[string](0)
	for w := range strings.FieldsFuncSeq(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words.Add(w)
	}
	var found []string
	for _, bad := range list {
		if words.Has(strings.ToLower(bad)) {
			found = append(found, bad)
		}
	}
	return found
}

func (d *Dispatcher) startGame(ctx context.Context, m *telegram.Message) {
	secret := 1 + d.rand(100)
	if err := setInt(ctx, d.state, gameKey(m.Chat.ID), secret, gameTTL); err != nil {
		d.slog.Error("saving game", "chat", m.Chat.ID, "error", err)
		return
	}

	var b tgmarkup.Builder
	b.Text("🎮 ").Styled(tgmarkup.Bold, "ИГРА НАЧАЛАСЬ!").Text(" 🎮\n\n")
	b.Text("👤 Запустил: " + firstName(m) + "\n")
	b.Text("🔢 Я загадал число от 1 до 100\n\n")
	b.Text("💡 Чтобы угадать, напишите:\n").Styled(tgmarkup.Code, "/guess ваше_число").Text("\n\n")
	b.Text("🎯 Например: ").Styled(tgmarkup.Code, "/guess 42").Text("\n")
	b.Text("🏆 Кто первый угадает - тот победил!")
	d.reply(ctx, m.Chat.ID, b.Message(), nil)
	d.slog.Info("group game started", "chat", m.Chat.ID)
}

func (d *Dispatcher) groupGuess(ctx context.Context, m *telegram.Message, args string) {
	key := gameKey(m.Chat.ID)
	secret, ok, err := getInt(ctx, d.state, key)
	if err != nil {
		d.slog.Error("loading game", "chat", m.Chat.ID, "error", err)
		return
	}
	if !ok {
		d.reply(ctx, m.Chat.ID, gameNotActive, nil)
		return
	}

	guess, ok := parseGuess(args)
	if !ok {
		d.reply(ctx, m.Chat.ID, guessBadFormat, nil)
		return
	}
	if guess < 1 || guess > 100 {
		d.reply(ctx, m.Chat.ID, guessOutOfRange, nil)
		return
	}

	name := firstName(m)
	switch {
	case guess < secret:
		d.reply(ctx, m.Chat.ID, plain(fmt.Sprintf("🔺 %s, мое число БОЛЬШЕ чем %d!", name, guess)), nil)
	case guess > secret:
		d.reply(ctx, m.Chat.ID, plain(fmt.Sprintf("🔻 %s, мое число МЕНЬШЕ чем %d!", name, guess)), nil)
	default:
		if err := d.state.Delete(ctx, key); err != nil {
			d.slog.Error("ending game", "chat", m.Chat.ID, "error", err)
		}
		var b tgmarkup.Builder
		b.Text("🎉 ").Styled(tgmarkup.Bold, "ПОБЕДА!").Text(" 🎉\n\n")
		b.Text(fmt.Sprintf("🏆 %s угадал число!\n✅ Загаданное число: %d\n\n", name, secret))
		b.Text("🎮 Хотите сыграть еще?\nНапишите: /start_game")
		d.reply(ctx, m.Chat.ID, b.Message(), nil)
		d.slog.Info("group game won", "chat", m.Chat.ID, "winner", name)
	}
}

func firstName(m *telegram.Message) string {
	if m.From == nil {
		return "Аноним"
	}
	return m.From.FirstName
}

// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package dispatch

import (
	"context"
	"strconv"
	"strings"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/telegram"
)

func subscriptionKey(userID int64) string { return "sub:" + strconv.FormatInt(userID, 10) }

func (d *Dispatcher) handleCallback(ctx context.Context, q *telegram.CallbackQuery) {
	switch data := q.Data; {
	case data == cbCheckSubscription:
		d.checkSubscription(ctx, q)
	case data == cbNotificationsOn, data == cbNotificationsOff:
		on := data == cbNotificationsOn
		value, text := "off", "❌ Уведомления выключены!"
		if on {
			value, text = "on", "✅ Уведомления включены!"
		}
		if err := d.journal.SetSetting(ctx, q.From.ID, "notifications", value); err != nil {
			d.slog.Error("saving notification setting", "user", q.From.ID, "error", err)
		}
		d.answer(ctx, q, text, false)
	case strings.HasPrefix(data, cbLangPrefix):
		code := strings.TrimPrefix(data, cbLangPrefix)
		name, ok := languages[code]
		if !ok {
			name = code
		} else if err := d.journal.SetSetting(ctx, q.From.ID, "lang", code); err != nil {
			d.slog.Error("saving language setting", "user", q.From.ID, "error", err)
		}
		d.answer(ctx, q, "🌐 Язык изменен на "+name+"!", false)
	case data == cbRateBot:
		d.logAction(ctx, q.From.ID, "rate_bot", "")
		d.answer(ctx, q, "⭐ Спасибо за оценку!", false)
	default:
		d.slog.Warn("unknown callback query", "data", data, "user", q.From.ID)
		d.answer(ctx, q, "", false)
	}
}

// checkSubscription tells the user whether they are subscribed to the
// channel. Only positive answers are cached.
func (d *Dispatcher) checkSubscription(ctx context.Context, q *telegram.CallbackQuery) {
	key := subscriptionKey(q.From.ID)
	if d.cache != nil {
		cached, err := d.cache.Get(ctx, key)
		if err != nil {
			d.slog.Warn("reading subscription cache", "user", q.From.ID, "error", err)
		}
		if cached != nil {
			d.answer(ctx, q, "✅ Вы подписаны на канал!", true)
			return
		}
	}

	member, err := d.api.GetChatMember(ctx, d.channelID, q.From.ID)
	if err != nil {
		d.slog.Error("checking subscription", "user", q.From.ID, "error", err)
		d.answer(ctx, q, "❌ Ошибка проверки подписки", true)
		return
	}
	d.logAction(ctx, q.From.ID, "check_subscription", member.Status)

	if !member.Subscribed() {
		d.answer(ctx, q, "❌ Вы не подписаны на канал!", true)
		return
	}
	if d.cache != nil {
		if err := d.cache.Set(ctx, key, []byte(member.Status), subscriptionTTL); err != nil {
			d.slog.Warn("caching subscription", "user", q.From.ID, "error", err)
		}
	}
	d.answer(ctx, q, "✅ Вы подписаны на канал!", true)
}

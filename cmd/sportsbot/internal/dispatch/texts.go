// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package dispatch

import (
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/sender"
	"go.astrophena.name/sportsbot/internal/tgmarkup"
)

// Reply keyboard buttons.
const (
	btnStats         = "📊 Статистика"
	btnFeedback      = "📝 Обратная связь"
	btnHelp          = "❓ Помощь"
	btnChannel       = "📢 Канал"
	btnGames         = "🎮 Игры"
	btnSettings      = "⚙️ Настройки"
	btnGuessGame     = "🎯 Угадай число"
	btnRandomNumber  = "🎲 Случайное число"
	btnNotifications = "🔔 Уведомления"
	btnLanguage      = "🌐 Язык"
	btnBack          = "🔙 Назад"
)

// Callback data of inline buttons.
const (
	cbCheckSubscription = "check_subscription"
	cbRateBot           = "rate_bot"
	cbNotificationsOn   = "notifications_on"
	cbNotificationsOff  = "notifications_off"
	cbLangPrefix        = "lang_"
)

var (
	mainKeyboard = &sender.ReplyKeyboard{
		Rows: [][]string{
			{btnStats, btnFeedback},
			{btnHelp, btnChannel},
			{btnGames, btnSettings},
		},
		Placeholder: "Выберите действие...",
	}
	gamesKeyboard = &sender.ReplyKeyboard{
		Rows: [][]string{
			{btnGuessGame, btnRandomNumber},
			{btnBack},
		},
	}
	settingsKeyboard = &sender.ReplyKeyboard{
		Rows: [][]string{
			{btnNotifications, btnLanguage},
			{btnBack},
		},
	}
	backKeyboard = &sender.ReplyKeyboard{
		Rows: [][]string{{btnBack}},
	}

	notificationsKeyboard = sender.InlineKeyboard{
		{{Text: "✅ Включить уведомления", CallbackData: cbNotificationsOn}},
		{{Text: "❌ Выключить уведомления", CallbackData: cbNotificationsOff}},
	}
	languageKeyboard = sender.InlineKeyboard{
		{{Text: "🇷🇺 Русский", CallbackData: cbLangPrefix + "ru"}},
		{{Text: "🇺🇸 English", CallbackData: cbLangPrefix + "en"}},
		{{Text: "🇪🇸 Español", CallbackData: cbLangPrefix + "es"}},
	}
)

var languages = map[string]string{
	"ru": "Русский",
	"en": "English",
	"es": "Español",
}

var (
	welcomeText = tgmarkup.FromMarkdown(`🤖 **Добро пожаловать в спортивный бот!**

Здесь вы можете:
• 📊 Посмотреть статистику
• 📝 Оставить обратную связь
• 🎮 Поиграть в игры
• 📢 Получить информацию о канале

Выберите действие на клавиатуре ниже 👇`)

	helpText = tgmarkup.FromMarkdown(`🤖 **Команды и возможности бота:**

📊 **Статистика** - просмотр статистики (админы)
📝 **Обратная связь** - отправить предложение
🎮 **Игры** - мини-игры для развлечения
📢 **Канал** - информация о спортивном канале

⚽ **В группах:**
• Автоматическая модерация чата
• Игра в угадай число
• Фильтр запрещенных слов

📢 **В канале:**
• Автоматические спортивные новости
• Ежедневные обновления`)

	channelText = tgmarkup.FromMarkdown(`📢 **Наш спортивный канал:**

⚽ Самые свежие спортивные новости
🏆 Обзоры матчей и трансляции
🎯 Эксклюзивные интервью
📊 Статистика и аналитика

Подпишитесь, чтобы быть в курсе всех событий!`)

	gamesText = tgmarkup.FromMarkdown(`🎮 **Выберите игру:**

🎯 Угадай число - классическая игра
🎲 Случайное число - генератор чисел`)

	settingsText      = tgmarkup.FromMarkdown("⚙️ **Настройки:**\n\nВыберите опцию:")
	notificationsText = tgmarkup.FromMarkdown("🔔 **Настройки уведомлений:**\n\nВыберите статус уведомлений:")
	languageText      = tgmarkup.FromMarkdown("🌐 **Выбор языка:**\n\nSelect language:")

	guessStartText = tgmarkup.FromMarkdown("🎯 Я загадал число от 1 до 100!\nПопробуй угадать: /guess число\n\nНапример: `/guess 42`")

	gameStatusActive   = plain("🎮 Игра активна!\n🔢 Число загадано, угадывайте!\n\n💡 Используйте: /guess число")
	gameStatusInactive = plain("🤷 Игра не активна\n🎯 Чтобы начать: /start_game")
	gameNotActive      = plain("🎯 Игра не активна! Хотите начать?\nНапишите: /start_game")
	guessBadFormat     = plain("❌ Неправильный формат!\nИспользуйте: /guess число\nНапример: /guess 42")
	guessOutOfRange    = plain("📏 Число должно быть от 1 до 100!")
	privateGuessUsage  = plain("Используйте: /guess число (от 1 до 100)")
	privateNoGame      = plain("🎯 Игра не активна! Нажмите «" + btnGuessGame + "», чтобы начать.")

	mainMenuText      = plain("Главное меню:")
	chooseActionText  = plain("Выберите действие на клавиатуре ниже 👇")
	statsDeniedText   = plain("📊 Статистика доступна только администраторам")
	statsErrorText    = plain("❌ Ошибка получения статистики")
	feedbackAskText   = plain("📝 Напишите ваше предложение или жалобу:")
	feedbackQuickText = plain("Или воспользуйтесь быстрыми опциями:")
	feedbackTextOnly  = plain("📝 Пожалуйста, отправьте отзыв текстом или нажмите «" + btnBack + "».")
	feedbackErrorText = plain("❌ Не удалось сохранить отзыв, попробуйте позже.")
	channelAliveText  = plain("Бот канала работает!")
)

func plain(s string) tgmarkup.Message { return tgmarkup.Message{Text: s} }

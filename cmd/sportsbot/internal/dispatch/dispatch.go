// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package dispatch answers the people talking to the bot: private chats get
// a menu driven by a reply keyboard, groups get moderation and a number
// guessing game, and channels get a liveness check.
package dispatch

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/journal"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/sender"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/telegram"
	"go.astrophena.name/sportsbot/internal/set"
	"go.astrophena.name/sportsbot/internal/store"
	"go.astrophena.name/sportsbot/internal/syncx"
	"go.astrophena.name/sportsbot/internal/tgmarkup"
)

// API is the part of the Telegram Bot API the dispatcher uses.
type API interface {
	sender.Sender
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	AnswerCallbackQuery(ctx context.Context, id, text string, showAlert bool) error
	GetChatMember(ctx context.Context, chatID string, userID int64) (telegram.ChatMember, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// DefaultBadWords are filtered in groups when no other list is configured.
var DefaultBadWords = []string{"мат1", "мат2", "мат3", "плохоеслово", "оскорбление"}

const (
	defaultPollTimeout = 50 * time.Second
	defaultWorkers     = 8
	retryDelay         = 5 * time.Second

	dialogTTL       = time.Hour
	gameTTL         = 7 * 24 * time.Hour
	subscriptionTTL = 10 * time.Minute
)

// Config configures a Dispatcher.
type Config struct {
	API     API
	Journal *journal.Journal
	// State keeps dialogs and games. It should survive restarts.
	State store.Store
	// Cache keeps subscription checks. If nil, every check asks Telegram.
	Cache store.Store
	// ChannelID is the channel the bot forwards news to, either @username or
	// a numeric ID.
	ChannelID   string
	SupportURL  string
	AdminIDs    []int64
	BadWords    []string
	Logger      *slog.Logger
	PollTimeout time.Duration
	Workers     int
}

// Dispatcher routes incoming updates to handlers.
type Dispatcher struct {
	api        API
	journal    *journal.Journal
	state      store.Store
	cache      store.Store
	channelID  string
	supportURL string
	admins     set.Set[int64]
	badWords   []string
	slog       *slog.Logger
	timeout    time.Duration
	workers    int

	lastPoll *syncx.Protected[*pollStatus]

	rand  func(n int) int // returns [0, n)
	now   func() time.Time
	sleep func(context.Context, time.Duration) bool
}

type pollStatus struct {
	at  time.Time
	err error
}

// New returns a new Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		api:        cfg.API,
		journal:    cfg.Journal,
		state:      cfg.State,
		cache:      cfg.Cache,
		channelID:  cfg.ChannelID,
		supportURL: cfg.SupportURL,
		admins:     set.NewFromSlice(cfg.AdminIDs...),
		badWords:   cfg.BadWords,
		slog:       cfg.Logger,
		timeout:    cmp.Or(cfg.PollTimeout, defaultPollTimeout),
		workers:    cmp.Or(cfg.Workers, defaultWorkers),
		lastPoll:   syncx.Protect(&pollStatus{}),
		rand:       rand.IntN,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	if d.badWords == nil {
		d.badWords = DefaultBadWords
	}
	if d.slog == nil {
		d.slog = slog.Default()
	}
	return d
}

// Run long-polls Telegram for updates and handles them until ctx is done.
// Handlers run concurrently, at most Config.Workers at a time.
func (d *Dispatcher) Run(ctx context.Context) error {
	wg := syncx.NewLimitedWaitGroup(d.workers)
	defer wg.Wait()

	var offset int64
	for {
		updates, err := d.api.GetUpdates(ctx, offset, d.timeout)
		if ctx.Err() != nil {
			return nil
		}
		d.lastPoll.Swap(&pollStatus{at: d.now(), err: err})
		if err != nil {
			d.slog.Error("getting updates", "error", err)
			if !d.sleep(ctx, retryDelay) {
				return nil
			}
			continue
		}

		for _, u := range updates {
			offset = max(offset, u.UpdateID+1)
			wg.Go(func() { d.Handle(ctx, u) })
		}
	}
}

// Health reports whether the last poll for updates succeeded.
func (d *Dispatcher) Health(context.Context) (status string, ok bool) {
	d.lastPoll.RAccess(func(ps *pollStatus) {
		switch {
		case ps.at.IsZero():
			status, ok = "waiting for the first poll", true
		case ps.err != nil:
			status, ok = fmt.Sprintf("last poll at %s failed: %v", ps.at.Format(time.RFC3339), ps.err), false
		default:
			status, ok = "last poll at "+ps.at.Format(time.RFC3339), true
		}
	})
	return status, ok
}

// Handle handles a single update. A panicking handler is logged and doesn't
// affect other updates.
func (d *Dispatcher) Handle(ctx context.Context, u telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.slog.Error("panic while handling update", "update_id", u.UpdateID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		d.handleCallback(ctx, u.CallbackQuery)
	case u.ChannelPost != nil:
		d.handleChannelPost(ctx, u.ChannelPost)
	case u.Message != nil:
		switch u.Message.Chat.Type {
		case telegram.ChatPrivate:
			d.handlePrivate(ctx, u.Message)
		case telegram.ChatGroup, telegram.ChatSupergroup:
			d.handleGroup(ctx, u.Message)
		}
	}
}

func (d *Dispatcher) handleChannelPost(ctx context.Context, m *telegram.Message) {
	if cmd, _ := parseCommand(m.Text); cmd != "/channel_stats" {
		return
	}
	d.reply(ctx, m.Chat.ID, channelAliveText, nil)
	d.slog.Info("channel liveness check", "chat", m.Chat.ID)
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, body tgmarkup.Message, kb *sender.ReplyKeyboard) {
	d.send(ctx, sender.Message{
		ChatID:        strconv.FormatInt(chatID, 10),
		Body:          body,
		ReplyKeyboard: kb,
	})
}

func (d *Dispatcher) send(ctx context.Context, msg sender.Message) {
	if err := d.api.Send(ctx, msg); err != nil {
		d.slog.Error("sending message", "chat", msg.ChatID, "error", err)
	}
}

func (d *Dispatcher) answer(ctx context.Context, q *telegram.CallbackQuery, text string, alert bool) {
	if err := d.api.AnswerCallbackQuery(ctx, q.ID, text, alert); err != nil {
		d.slog.Error("answering callback query", "data", q.Data, "error", err)
	}
}

func (d *Dispatcher) isAdmin(userID int64) bool { return d.admins.Has(userID) }

// parseCommand splits "/guess@sportsbot 42" into "/guess" and "42".
func parseCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd, args, _ = strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

// parseGuess returns the number in the first argument of /guess.
func parseGuess(args string) (int, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	return n, err == nil
}

func journalUser(u *telegram.User) journal.User {
	return journal.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// getInt reads an integer kept in the store. ok is false if key is missing.
func getInt(ctx context.Context, s store.Store, key string) (n int, ok bool, err error) {
	b, err := s.Get(ctx, key)
	if err != nil || b == nil {
		return 0, false, err
	}
	n, err = strconv.Atoi(string(b))
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

func setInt(ctx context.Context, s store.Store, key string, n int, ttl time.Duration) error {
	return s.Set(ctx, key, []byte(strconv.Itoa(n)), ttl)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

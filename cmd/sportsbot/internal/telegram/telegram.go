// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements a Telegram Bot API client.
//
// A single [Client] is shared by the feed forwarder and the update
// dispatcher. It keeps no per-call state: every request waits on one shared
// rate limiter and is retried when Telegram answers with HTTP 429.
package telegram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/sender"
	"go.astrophena.name/sportsbot/internal/request"
	"go.astrophena.name/sportsbot/internal/tgmarkup"

	"golang.org/x/time/rate"
)

const (
	tgAPI          = "https://api.telegram.org"
	sendRetryLimit = 5    // N attempts to retry a request
	maxMessageLen  = 4096 // Telegram message length limit
)

// DefaultLimit is the request rate used when Config.Limiter is nil. It stays
// under the Bot API global limit of 30 messages per second.
const DefaultLimit = rate.Limit(25)

// Config configures a Telegram client.
type Config struct {
	// ChatID is the destination of messages that don't set one themselves.
	ChatID     string
	Token      string
	HTTPClient *http.Client
	Scrubber   *strings.Replacer
	Logger     *slog.Logger
	Limiter    *rate.Limiter
}

// Client talks to the Telegram Bot API.
type Client struct {
	chatID   string
	token    string
	httpc    *http.Client
	scrubber *strings.Replacer
	slog     *slog.Logger
	limiter  *rate.Limiter

	makeRequest func(ctx context.Context, method string, args any) (json.RawMessage, error)
	sleep       func(context.Context, time.Duration) bool
}

// New returns a Telegram client.
func New(cfg Config) *Client {
	c := &Client{
		chatID:   cfg.ChatID,
		token:    cfg.Token,
		httpc:    cfg.HTTPClient,
		scrubber: cfg.Scrubber,
		slog:     cfg.Logger,
		limiter:  cfg.Limiter,
	}
	if c.httpc == nil {
		c.httpc = request.DefaultClient
	}
	if c.slog == nil {
		c.slog = slog.Default()
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(DefaultLimit, 1)
	}
	c.makeRequest = c.makeTelegramRequest
	c.sleep = sleep
	return c
}

type message struct {
	ChatID             string `json:"chat_id"`
	ReplyToMessageID   int64  `json:"reply_to_message_id,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
	tgmarkup.Message
}

type replyMarkup struct {
	InlineKeyboard        sender.InlineKeyboard `json:"inline_keyboard,omitempty"`
	Keyboard              [][]keyboardButton    `json:"keyboard,omitempty"`
	ResizeKeyboard        bool                  `json:"resize_keyboard,omitempty"`
	InputFieldPlaceholder string                `json:"input_field_placeholder,omitempty"`
}

type keyboardButton struct {
	Text string `json:"text"`
}

// Send sends a message, splitting it into several if it's too long.
func (c *Client) Send(ctx context.Context, msg sender.Message) error {
	chatID := cmp.Or(msg.ChatID, c.chatID)
	if chatID == "" {
		return errors.New("telegram: no chat to send to")
	}

	tgmsg := &message{
		ChatID:           chatID,
		ReplyToMessageID: msg.ReplyToMessageID,
		ReplyMarkup:      toReplyMarkup(msg),
	}
	tgmsg.LinkPreviewOptions.IsDisabled = msg.DisableLinkPreview

	for _, chunk := range splitMessage(msg.Body) {
		tgmsg.Message = chunk
		if _, err := c.call(ctx, "sendMessage", tgmsg); err != nil {
			return err
		}
	}
	return nil
}

func toReplyMarkup(msg sender.Message) *replyMarkup {
	if len(msg.InlineKeyboard) > 0 {
		return &replyMarkup{InlineKeyboard: msg.InlineKeyboard}
	}
	if msg.ReplyKeyboard == nil {
		return nil
	}
	rm := &replyMarkup{
		ResizeKeyboard:        true,
		InputFieldPlaceholder: msg.ReplyKeyboard.Placeholder,
	}
	for _, row := range msg.ReplyKeyboard.Rows {
		buttons := make([]keyboardButton, 0, len(row))
		for _, text := range row {
			buttons = append(buttons, keyboardButton{Text: text})
		}
		rm.Keyboard = append(rm.Keyboard, buttons)
	}
	return rm
}

// GetUpdates long-polls for updates starting from offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	return call[[]Update](ctx, c, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "channel_post", "callback_query"},
	})
}

// AnswerCallbackQuery answers a callback query, optionally showing text to
// the user as a notification or an alert.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string, showAlert bool) error {
	_, err := c.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": id,
		"text":              text,
		"show_alert":        showAlert,
	})
	return err
}

// GetChatMember returns the membership of a user in a chat.
func (c *Client) GetChatMember(ctx context.Context, chatID string, userID int64) (ChatMember, error) {
	return call[ChatMember](ctx, c, "getChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	})
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"message_id": messageID,
	})
	return err
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	return call[User](ctx, c, "getMe", struct{}{})
}

func call[T any](ctx context.Context, c *Client, method string, args any) (T, error) {
	var v T
	raw, err := c.call(ctx, method, args)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("telegram: decoding %s result: %w", method, err)
	}
	return v, nil
}

// call makes a request, waiting on the shared limiter before each attempt and
// retrying when rate limited.
func (c *Client) call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	var (
		raw json.RawMessage
		err error
	)
	for range sendRetryLimit {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		raw, err = c.makeRequest(ctx, method, args)
		if err == nil {
			return raw, nil
		}

		retryable, wait := isRateLimited(err)
		if !retryable {
			break
		}

		c.slog.Warn("rate limited, waiting", slog.String("method", method), slog.Duration("wait", wait))
		if !c.sleep(ctx, wait) {
			return nil, ctx.Err()
		}
	}
	return nil, err
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (c *Client) makeTelegramRequest(ctx context.Context, method string, args any) (json.RawMessage, error) {
	resp, err := request.Make[apiResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        tgAPI + "/bot" + c.token + "/" + method,
		Body:       args,
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK && resp.Description != "" {
		return nil, fmt.Errorf("telegram: %s: %s", method, resp.Description)
	}
	return resp.Result, nil
}

// splitMessage splits msg into chunks of at most maxMessageLen UTF-16 units,
// preferring to break at newlines, then at whitespace. Entities are carried
// over to the chunks they cover.
func splitMessage(msg tgmarkup.Message) []tgmarkup.Message {
	var chunks []tgmarkup.Message
	for _, s := range splitText(msg.Text) {
		chunks = append(chunks, msg.Slice(s.start, s.end))
	}
	return chunks
}

type span struct{ start, end int }

func splitText(text string) []span {
	var (
		spans []span
		pos   int
	)
	for {
		rest := text[pos:]
		trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace)
		pos += len(rest) - len(trimmed)
		rest = trimmed
		if rest == "" {
			return spans
		}

		cut := len(rest)
		if tgmarkup.UTF16Len(rest) > maxMessageLen {
			var (
				lastNewline    = -1
				lastWhitespace = -1
				byteCap        = len(rest)
				units          int
			)

			for i, r := range rest {
				n := utf16.RuneLen(r)
				if units+n > maxMessageLen {
					byteCap = i
					break
				}
				units += n

				if r == '\n' {
					lastNewline = i
					continue
				}
				if unicode.IsSpace(r) {
					lastWhitespace = i
				}
			}

			cut = byteCap
			switch {
			case lastNewline > 0:
				cut = lastNewline
			case lastWhitespace > 0:
				cut = lastWhitespace
			}
		}

		chunk := strings.TrimRightFunc(rest[:cut], unicode.IsSpace)
		if chunk != "" {
			spans = append(spans, span{start: pos, end: pos + len(chunk)})
		}
		pos += cut
	}
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ sender.Sender = (*Client)(nil)

// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package sender defines a transport-agnostic message delivery interface.
package sender

import (
	"context"

	"go.astrophena.name/sportsbot/internal/tgmarkup"
)

// Sender delivers messages to a configured destination.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a transport-agnostic outgoing message.
type Message struct {
	// ChatID overrides the default destination of the Sender.
	ChatID string
	// Body is the text of the message together with its formatting.
	Body               tgmarkup.Message
	ReplyToMessageID   int64
	DisableLinkPreview bool
	// At most one of ReplyKeyboard and InlineKeyboard is honored, with
	// InlineKeyboard taking precedence.
	ReplyKeyboard  *ReplyKeyboard
	InlineKeyboard InlineKeyboard
}

// ReplyKeyboard is a custom keyboard shown instead of the user's regular one.
type ReplyKeyboard struct {
	Rows        [][]string
	Placeholder string
}

// InlineKeyboard is an optional matrix of buttons attached to the message.
type InlineKeyboard [][]InlineKeyboardButton

// InlineKeyboardButton is a button in an inline keyboard row. Exactly one of
// URL and CallbackData should be set.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

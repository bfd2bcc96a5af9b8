// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package forward sends feed entries to the news channel.
package forward

import (
	"context"
	"log/slog"
	"time"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/feed"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/sender"
	"go.astrophena.name/sportsbot/internal/tgmarkup"
)

// DefaultDelay is the pause between two forwarded entries used when
// SEND_DELAY is not set.
const DefaultDelay = 2 * time.Second

// Result is the outcome of forwarding one entry.
type Result = feed.Result

// Forwarder sends entries one at a time, pausing between them.
type Forwarder struct {
	Sender sender.Sender
	// ChatID is the destination channel.
	ChatID string
	// Delay is the pause between two sends. Zero sends back to back.
	Delay  time.Duration
	Logger *slog.Logger

	sleep func(context.Context, time.Duration) bool
}

// Forward sends entries in the given order. A failed send is logged and
// doesn't stop the batch; no entry is retried. If ctx is done while waiting,
// the remaining entries are reported as failed with the context error.
func (f *Forwarder) Forward(ctx context.Context, entries []feed.Entry) []Result {
	l := f.Logger
	if l == nil {
		l = slog.Default()
	}
	sleep := f.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	results := make([]Result, 0, len(entries))
	for i, e := range entries {
		if i > 0 && !f.pause(ctx, sleep) {
			for _, rest := range entries[i:] {
				results = append(results, Result{ID: rest.ID, Err: ctx.Err()})
			}
			l.Warn("forwarding interrupted", "remaining", len(entries)-i)
			break
		}

		err := f.Sender.Send(ctx, sender.Message{
			ChatID: f.ChatID,
			Body:   Render(e),
		})
		if err != nil {
			l.Error("forwarding failed", "entry", e.ID, "title", e.Title, "error", err)
			results = append(results, Result{ID: e.ID, Err: err})
			continue
		}
		l.Info("forwarded", "entry", e.ID, "title", e.Title)
		results = append(results, Result{ID: e.ID, OK: true})
	}
	return results
}

func (f *Forwarder) pause(ctx context.Context, sleep func(context.Context, time.Duration) bool) bool {
	if f.Delay <= 0 {
		return ctx.Err() == nil
	}
	return sleep(ctx, f.Delay)
}

// Render formats an entry as a channel post:
//
//	📰 <title in bold>
//
//	<body>
//
//	🔗 Читать далее: <link>
//
// Empty parts are left out together with the blank line that separates
// them.
func Render(e feed.Entry) tgmarkup.Message {
	var (
		b     tgmarkup.Builder
		first = true
	)
	part := func() {
		if !first {
			b.Text("\n\n")
		}
		first = false
	}
	if e.Title != "" {
		part()
		b.Text("📰 ").Styled(tgmarkup.Bold, e.Title)
	}
	if e.Body != "" {
		part()
		b.Text(e.Body)
	}
	if e.Link != "" {
		part()
		b.Text("🔗 Читать далее: ").Link("", e.Link)
	}
	return b.Message()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ feed.Forwarder = (*Forwarder)(nil)

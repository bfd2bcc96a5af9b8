// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/feed"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/journal"
	"go.astrophena.name/sportsbot/internal/web"
)

type seenResponse struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

type statsResponse struct {
	Uptime   string             `json:"uptime"`
	Feed     string             `json:"feed"`
	Breaker  string             `json:"breaker"`
	Totals   journal.Totals     `json:"totals"`
	Cycles   []feed.CycleResult `json:"cycles"`
	Feedback []journal.Feedback `json:"feedback"`
}

func (b *bot) adminMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			web.RespondJSONError(b.logf, w, web.ErrNotFound)
			return
		}
		http.Redirect(w, r, "/api/stats", http.StatusFound)
	})
	mux.HandleFunc("GET /api/seen", b.handleSeen)
	mux.HandleFunc("GET /api/stats", b.handleStats)
	mux.Handle("GET /debug/logs", b.logStream)

	health := web.Health(mux)
	health.RegisterFunc("poller", b.pollerHealth)
	health.RegisterFunc("database", func(ctx context.Context) (string, bool) {
		if err := b.db.PingContext(ctx); err != nil {
			return err.Error(), false
		}
		return b.db.Dialect.String(), true
	})
	if b.dispatcher != nil {
		health.RegisterFunc("dispatcher", b.dispatcher.Health)
	}

	return mux
}

func (b *bot) serveAdmin(ctx context.Context) error {
	srv := &web.Server{
		Addr: b.adminAddr,
		Mux:  b.adminMux(),
		Logf: func(format string, args ...any) { b.slog.Info(fmt.Sprintf(format, args...)) },
	}
	return srv.ListenAndServe(ctx)
}

func (b *bot) pollerHealth(context.Context) (string, bool) {
	var (
		last feed.CycleResult
		ok   bool
	)
	b.cycles.RAccess(func(cl *cycleLog) {
		if n := len(cl.results); n > 0 {
			last, ok = cl.results[n-1], true
		}
	})
	if !ok {
		return "waiting for the first cycle", true
	}
	if last.FetchError != "" {
		return fmt.Sprintf("cycle at %s failed: %s", last.Started.Format(time.RFC3339), last.FetchError), false
	}
	return fmt.Sprintf("last cycle at %s, breaker %s", last.Started.Format(time.RFC3339), b.fetcher.BreakerState()), true
}

func (b *bot) handleSeen(w http.ResponseWriter, r *http.Request) {
	ids := b.poller.Seen().IDs()
	web.RespondJSON(w, seenResponse{Count: len(ids), IDs: ids})
}

func (b *bot) handleStats(w http.ResponseWriter, r *http.Request) {
	totals, err := b.journal.Totals(r.Context())
	if err != nil {
		web.RespondJSONError(b.logf, w, err)
		return
	}
	fbs, err := b.journal.RecentFeedback(r.Context(), 10)
	if err != nil {
		web.RespondJSONError(b.logf, w, err)
		return
	}

	resp := statsResponse{
		Uptime:   time.Since(b.started).Truncate(time.Second).String(),
		Feed:     b.fetcher.URL(),
		Breaker:  b.fetcher.BreakerState().String(),
		Totals:   totals,
		Feedback: fbs,
	}
	b.cycles.RAccess(func(cl *cycleLog) {
		resp.Cycles = append([]feed.CycleResult(nil), cl.results...)
	})
	web.RespondJSON(w, resp)
}

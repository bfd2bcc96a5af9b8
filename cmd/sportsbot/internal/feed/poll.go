// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package feed

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/dedup"
	"go.astrophena.name/sportsbot/internal/syncx"
)

// DefaultInterval is the time between two polling cycles.
const DefaultInterval = 5 * time.Minute

// Result is the outcome of forwarding one entry.
type Result struct {
	ID  string
	OK  bool
	Err error // non-nil iff !OK
}

// Forwarder delivers entries, in the given order, and reports the outcome of
// each.
type Forwarder interface {
	Forward(ctx context.Context, entries []Entry) []Result
}

// CycleResult summarizes one polling cycle.
type CycleResult struct {
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Fetched    int           `json:"fetched"`
	New        int           `json:"new"`
	Blocked    int           `json:"blocked"`
	Forwarded  int           `json:"forwarded"`
	Failed     int           `json:"failed"`
	Saved      bool          `json:"saved"`
	FetchError string        `json:"fetch_error,omitempty"`
	SaveError  string        `json:"save_error,omitempty"`
	Results    []Result      `json:"-"`
}

// Poller periodically fetches the feed and forwards entries it hasn't seen.
//
// A cycle marks every new entry as seen before forwarding it, and forwards
// new entries oldest first. The seen set is persisted once per cycle, after
// forwarding. An entry that fails to send is not retried.
type Poller struct {
	Source    Source
	Forwarder Forwarder
	Store     *dedup.Store
	// Block, if set, reports entries that must be marked as seen without
	// being forwarded.
	Block    func(ctx context.Context, e Entry) bool
	Interval time.Duration
	Logger   *slog.Logger
	// Dry disables saving the seen set.
	Dry bool
	// OnCycle, if set, is called after every cycle.
	OnCycle func(CycleResult)

	seen  syncx.Lazy[*dedup.Set]
	sleep func(context.Context, time.Duration) bool
	now   func() time.Time
}

// Seen returns the set of seen entry identifiers, loading it from the store
// on first use.
func (p *Poller) Seen() *dedup.Set {
	return p.seen.Get(p.Store.Load)
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Run runs a cycle, then sleeps for the interval and repeats until ctx is
// done. Cycle failures are logged and never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	interval := cmp.Or(p.Interval, DefaultInterval)
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for {
		p.Cycle(ctx)
		if !sleep(ctx, interval) {
			p.logger().Debug("poller stopped")
			return nil
		}
	}
}

// Cycle runs one polling cycle.
func (p *Poller) Cycle(ctx context.Context) CycleResult {
	now := p.now
	if now == nil {
		now = time.Now
	}
	res := CycleResult{Started: now()}
	defer func() {
		res.Duration = now().Sub(res.Started)
		if p.OnCycle != nil {
			p.OnCycle(res)
		}
	}()

	l := p.logger()
	seen := p.Seen()

	entries, err := p.Source.Fetch(ctx)
	if err != nil {
		l.Error("fetching feed failed", "error", err)
		res.FetchError = err.Error()
		return res
	}
	res.Fetched = len(entries)

	var fresh []Entry
	for _, e := range entries {
		if !seen.Add(e.ID) {
			continue
		}
		res.New++
		if p.Block != nil && p.Block(ctx, e) {
			l.Debug("blocked by block rule", "entry", e.ID)
			res.Blocked++
			continue
		}
		fresh = append(fresh, e)
	}

	if res.New == 0 {
		l.Debug("no new entries", "fetched", res.Fetched)
		return res
	}

	current := make([]string, 0, len(entries))
	for _, e := range entries {
		current = append(current, e.ID)
	}
	seen.Trim(current...)

	// Feeds list the newest entry first; the channel should read in
	// publication order.
	slices.Reverse(fresh)
	if len(fresh) > 0 {
		res.Results = p.Forwarder.Forward(ctx, fresh)
	}
	for _, r := range res.Results {
		if r.OK {
			res.Forwarded++
		} else {
			res.Failed++
		}
	}

	if p.Dry {
		l.Info("dry run, not saving seen set", "new", res.New)
	} else if err := p.Store.Save(seen); err != nil {
		l.Error("saving seen set failed", "error", err)
		res.SaveError = err.Error()
	} else {
		res.Saved = true
	}

	l.Info("cycle finished",
		"fetched", res.Fetched,
		"new", res.New,
		"blocked", res.Blocked,
		"forwarded", res.Forwarded,
		"failed", res.Failed,
	)
	return res
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

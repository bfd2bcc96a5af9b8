// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.astrophena.name/sportsbot/internal/request"
	"go.astrophena.name/sportsbot/internal/version"

	"github.com/mmcdole/gofeed"
	"github.com/sony/gobreaker"
)

const (
	breakerFailures = 3                // consecutive failed fetches that open the breaker
	breakerTimeout  = 15 * time.Minute // how long an open breaker rejects fetches
	errorReadLimit  = 16384            // 16 KB is enough for error messages (probably)
)

// Source produces the current entries of a feed.
type Source interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// FetcherConfig configures a [Fetcher].
type FetcherConfig struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// BreakerTimeout overrides how long the circuit breaker stays open.
	BreakerTimeout time.Duration
}

// Fetcher fetches and parses one RSS or Atom feed over HTTP.
//
// It sends conditional requests, so an unchanged feed costs a 304 and yields
// no entries. After several consecutive failures a circuit breaker opens and
// fetches fail fast with [gobreaker.ErrOpenState] until it half-opens again.
type Fetcher struct {
	url   string
	httpc *http.Client
	fp    *gofeed.Parser
	cb    *gobreaker.CircuitBreaker
	slog  *slog.Logger

	mu           sync.Mutex
	etag         string
	lastModified string
}

// NewFetcher returns a Fetcher for cfg.URL.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		url:   cfg.URL,
		httpc: cfg.HTTPClient,
		fp:    gofeed.NewParser(),
		slog:  cfg.Logger,
	}
	if f.httpc == nil {
		f.httpc = request.DefaultClient
	}
	if f.slog == nil {
		f.slog = slog.Default()
	}
	timeout := breakerTimeout
	if cfg.BreakerTimeout > 0 {
		timeout = cfg.BreakerTimeout
	}
	f.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "feed",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.slog.Warn("circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return f
}

// URL returns the feed URL.
func (f *Fetcher) URL() string { return f.url }

// BreakerState returns the state of the circuit breaker.
func (f *Fetcher) BreakerState() gobreaker.State { return f.cb.State() }

// Fetch fetches the feed and returns its entries in document order. An
// unmodified feed returns no entries and no error.
func (f *Fetcher) Fetch(ctx context.Context) ([]Entry, error) {
	v, err := f.cb.Execute(func() (interface{}, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("fetching %s: %w", f.url, err)
		}
		return nil, err
	}
	entries, _ := v.([]Entry)
	return entries, nil
}

func (f *Fetcher) fetch(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", version.UserAgent())
	f.mu.Lock()
	if f.etag != "" {
		req.Header.Set("If-None-Match", f.etag)
	}
	if f.lastModified != "" {
		req.Header.Set("If-Modified-Since", f.lastModified)
	}
	f.mu.Unlock()

	res, err := f.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	f.slog.Debug(
		"fetched feed",
		"feed", f.url,
		"proto", res.Proto,
		"len", res.ContentLength,
		"status", res.StatusCode,
	)

	// Ignore unmodified feeds and report an error otherwise.
	if res.StatusCode == http.StatusNotModified {
		f.slog.Debug("unmodified feed", "feed", f.url)
		return nil, nil
	}
	if res.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(res.Body, errorReadLimit))
		if err != nil {
			body = []byte("unable to read body")
		}
		return nil, &request.StatusError{StatusCode: res.StatusCode, Body: body}
	}

	feed, err := f.fp.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.url, err)
	}

	f.mu.Lock()
	f.etag = res.Header.Get("ETag")
	if lastModified := res.Header.Get("Last-Modified"); lastModified != "" {
		f.lastModified = lastModified
	}
	f.mu.Unlock()

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		e, ok := FromItem(item)
		if !ok {
			f.slog.Debug("skipping item without link or GUID", "feed", f.url, "title", item.Title)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

var _ Source = (*Fetcher)(nil)

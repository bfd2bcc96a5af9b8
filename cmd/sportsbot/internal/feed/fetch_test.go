// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package feed

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.astrophena.name/sportsbot/internal/logger"
	"go.astrophena.name/sportsbot/internal/request"
	"go.astrophena.name/sportsbot/internal/testutil"

	"github.com/sony/gobreaker"
)

const feedURL = "https://www.sports.ru/rss/all_news.xml"

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testFetcher(h http.HandlerFunc) *Fetcher {
	mux := http.NewServeMux()
	mux.HandleFunc("GET www.sports.ru/rss/all_news.xml", h)
	return NewFetcher(FetcherConfig{
		URL: feedURL,
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, r)
				return w.Result(), nil
			}),
		},
		Logger: logger.Discard().Logger,
	})
}

func TestFetch(t *testing.T) {
	t.Parallel()

	files := testutil.ReadTxtar(t, "testdata/sportsru.txtar")
	f := testFetcher(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write(files["first.xml"])
	})

	entries, err := f.Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	testutil.AssertEqual(t, ids, []string{
		"https://www.sports.ru/football/x2.html",
		"https://www.sports.ru/football/x1.html",
	})
	testutil.AssertEqual(t, entries[0].Title, "Зенит обыграл Спартак")
	testutil.AssertEqual(t, entries[0].Body, "Матч завершился со счетом 2:1.\n\nГолы забили «Зенит».")
	testutil.AssertEqual(t, entries[0].Published.Equal(time.Date(2026, 10, 17, 15, 30, 0, 0, time.UTC)), true)
}

func TestFetchConditional(t *testing.T) {
	t.Parallel()

	files := testutil.ReadTxtar(t, "testdata/sportsru.txtar")
	const etag = `"v1"`
	var calls atomic.Int32
	f := testFetcher(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("If-None-Match") == etag {
			testutil.AssertEqual(t, r.Header.Get("If-Modified-Since"), "Sat, 17 Oct 2026 18:30:00 GMT")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Last-Modified", "Sat, 17 Oct 2026 18:30:00 GMT")
		w.Write(files["first.xml"])
	})

	first, err := f.Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(first), 2)

	second, err := f.Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(second), 0)
	testutil.AssertEqual(t, calls.Load(), int32(2))
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()

	files := testutil.ReadTxtar(t, "testdata/sportsru.txtar")

	t.Run("status", func(t *testing.T) {
		f := testFetcher(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "I'm a teapot.", http.StatusTeapot)
		})
		_, err := f.Fetch(t.Context())
		var statusErr *request.StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("want *request.StatusError, got %v", err)
		}
		testutil.AssertEqual(t, statusErr.StatusCode, http.StatusTeapot)
		testutil.AssertEqual(t, string(statusErr.Body), "I'm a teapot.\n")
	})

	t.Run("malformed", func(t *testing.T) {
		f := testFetcher(func(w http.ResponseWriter, r *http.Request) {
			w.Write(files["malformed.xml"])
		})
		if _, err := f.Fetch(t.Context()); err == nil {
			t.Fatal("want error for malformed feed")
		}
	})
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f := testFetcher(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for range breakerFailures {
		if _, err := f.Fetch(t.Context()); err == nil {
			t.Fatal("want error")
		}
	}
	testutil.AssertEqual(t, f.BreakerState(), gobreaker.StateOpen)

	_, err := f.Fetch(t.Context())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("want gobreaker.ErrOpenState, got %v", err)
	}
	testutil.AssertEqual(t, calls.Load(), int32(breakerFailures))
}

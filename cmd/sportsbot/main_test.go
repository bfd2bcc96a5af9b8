// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/dedup"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/dispatch"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/feed"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/journal"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/sender"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/telegram"
	"go.astrophena.name/sportsbot/internal/cli"
	"go.astrophena.name/sportsbot/internal/cli/clitest"
	"go.astrophena.name/sportsbot/internal/filelock"
	"go.astrophena.name/sportsbot/internal/logger"
	"go.astrophena.name/sportsbot/internal/testutil"
	"go.astrophena.name/sportsbot/internal/tgmarkup"
	"go.astrophena.name/sportsbot/internal/web"
)

// Typical Telegram Bot API token, copied from docs.
const tgToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// mux fakes both the feed and the Bot API.
type mux struct {
	*http.ServeMux

	mu   sync.Mutex
	sent []map[string]any
}

func testMux(t *testing.T) *mux {
	t.Helper()

	ar := testutil.ReadTxtar(t, "internal/feed/testdata/sportsru.txtar")
	m := &mux{ServeMux: http.NewServeMux()}

	m.HandleFunc("GET www.sports.ru/rss/all_news.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write(ar["first.xml"])
	})
	m.HandleFunc("POST api.telegram.org/{token}/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, strings.TrimPrefix(r.PathValue("token"), "bot"), tgToken)
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		m.mu.Lock()
		m.sent = append(m.sent, testutil.UnmarshalJSON[map[string]any](t, b))
		m.mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})
	m.HandleFunc("POST api.telegram.org/{token}/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(100 * time.Millisecond):
		}
		w.Write([]byte(`{"ok":true,"result":[]}`))
	})
	return m
}

func (m *mux) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var texts []string
	for _, msg := range m.sent {
		texts = append(texts, msg["text"].(string))
	}
	return texts
}

func testBot(m *mux) *bot {
	return &bot{
		httpc: &http.Client{
			Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				w := httptest.NewRecorder()
				m.ServeHTTP(w, r)
				return w.Result(), nil
			}),
		},
	}
}

func baseEnv(t *testing.T) map[string]string {
	return map[string]string{
		"TELEGRAM_TOKEN":  tgToken,
		"CHANNEL_ID":      "@sportsru_news",
		"SEND_DELAY":      "0s",
		"STATE_DIRECTORY": t.TempDir(),
	}
}

func with(env map[string]string, kv ...string) map[string]string {
	for i := 0; i+1 < len(kv); i += 2 {
		env[kv[i]] = kv[i+1]
	}
	return env
}

func TestCommands(t *testing.T) {
	t.Parallel()

	seenDir := t.TempDir()
	b, err := dedup.Marshal([]string{"https://www.sports.ru/football/x1.html", "https://www.sports.ru/football/x2.html"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(seenDir, seenFile), b, 0o600); err != nil {
		t.Fatal(err)
	}

	lockedDir := t.TempDir()
	lock, err := filelock.Acquire(filepath.Join(lockedDir, lockFile), "4242")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lock.Release() })

	rulesFile := filepath.Join(t.TempDir(), "rules.star")
	if err := os.WriteFile(rulesFile, []byte(`def block_rule(entry):
    return "ЦСКА" in entry.title
`), 0o600); err != nil {
		t.Fatal(err)
	}

	var sentMu sync.Mutex
	sent := map[*bot]*mux{}
	setup := func(t *testing.T) *bot {
		m := testMux(t)
		b := testBot(m)
		sentMu.Lock()
		sent[b] = m
		sentMu.Unlock()
		return b
	}
	sentTo := func(b *bot) *mux {
		sentMu.Lock()
		defer sentMu.Unlock()
		return sent[b]
	}

	clitest.Run(t, setup, map[string]clitest.Case[*bot]{
		"no command": {
			Args:    []string{},
			Env:     baseEnv(t),
			WantErr: cli.ErrInvalidArgs,
		},
		"unknown command": {
			Args:    []string{"publish"},
			Env:     baseEnv(t),
			WantErr: cli.ErrInvalidArgs,
		},
		"too many arguments": {
			Args:    []string{"once", "twice"},
			Env:     baseEnv(t),
			WantErr: cli.ErrInvalidArgs,
		},
		"missing token": {
			Args:    []string{"once"},
			Env:     with(baseEnv(t), "TELEGRAM_TOKEN", ""),
			WantErr: cli.ErrInvalidArgs,
		},
		"missing channel": {
			Args:    []string{"once"},
			Env:     with(baseEnv(t), "CHANNEL_ID", ""),
			WantErr: cli.ErrInvalidArgs,
		},
		"invalid interval": {
			Args:    []string{"once"},
			Env:     with(baseEnv(t), "POLL_INTERVAL", "often"),
			WantErr: cli.ErrInvalidArgs,
		},
		"invalid admin IDs": {
			Args:    []string{"once"},
			Env:     with(baseEnv(t), "ADMIN_IDS", "1,admin"),
			WantErr: cli.ErrInvalidArgs,
		},
		"missing env file": {
			Args:    []string{"-env", filepath.Join(t.TempDir(), "nope.env"), "once"},
			Env:     baseEnv(t),
			WantErr: os.ErrNotExist,
		},
		"once": {
			Args:         []string{"once"},
			Env:          baseEnv(t),
			WantInStdout: "fetched 2, new 2, blocked 0, forwarded 2, failed 0",
			CheckFunc: func(t *testing.T, b *bot) {
				texts := sentTo(b).texts()
				if len(texts) != 2 {
					t.Fatalf("want 2 messages, got %d: %q", len(texts), texts)
				}
				// Oldest first.
				if !strings.Contains(texts[0], "ЦСКА сменил тренера") {
					t.Errorf("first message: %q", texts[0])
				}
				if !strings.Contains(texts[1], "Зенит обыграл Спартак") {
					t.Errorf("second message: %q", texts[1])
				}
				ids := dedup.NewStore(filepath.Join(b.stateDir, seenFile), 0, logger.Discard().Logger).Load().IDs()
				testutil.AssertEqual(t, len(ids), 2)
			},
		},
		"once with rules": {
			Args:         []string{"once"},
			Env:          with(baseEnv(t), "RULES_FILE", rulesFile),
			WantInStdout: "fetched 2, new 2, blocked 1, forwarded 1, failed 0",
			CheckFunc: func(t *testing.T, b *bot) {
				texts := sentTo(b).texts()
				if len(texts) != 1 || !strings.Contains(texts[0], "Зенит") {
					t.Fatalf("unexpected messages: %q", texts)
				}
			},
		},
		"once dry": {
			Args:         []string{"-dry", "once"},
			Env:          baseEnv(t),
			WantInStdout: "forwarded 2",
			WantInStderr: "dry run, not sending",
			CheckFunc: func(t *testing.T, b *bot) {
				testutil.AssertEqual(t, len(sentTo(b).texts()), 0)
				if _, err := os.Stat(filepath.Join(b.stateDir, seenFile)); !os.IsNotExist(err) {
					t.Errorf("seen file must not be written in dry mode, got %v", err)
				}
			},
		},
		"once already seen": {
			Args:         []string{"once"},
			Env:          with(baseEnv(t), "STATE_DIRECTORY", seenDir),
			WantInStdout: "new 0",
		},
		"already running": {
			Args:    []string{"once"},
			Env:     with(baseEnv(t), "STATE_DIRECTORY", lockedDir),
			WantErr: errAlreadyRunning,
		},
		"seen": {
			Args:         []string{"seen"},
			Env:          with(baseEnv(t), "STATE_DIRECTORY", seenDir),
			WantInStdout: "https://www.sports.ru/football/x1.html\nhttps://www.sports.ru/football/x2.html\n",
		},
		"stats": {
			Args:         []string{"stats"},
			Env:          baseEnv(t),
			WantInStdout: "users:    0\n",
		},
		"run": {
			Args:    []string{"run"},
			Env:     with(baseEnv(t), "POLL_INTERVAL", "1h"),
			Timeout: 2 * time.Second,
			CheckFunc: func(t *testing.T, b *bot) {
				testutil.AssertEqual(t, len(sentTo(b).texts()), 2)
			},
		},
	})
}

func TestWithDotenv(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sportsbot.env")
	if err := os.WriteFile(path, []byte("TELEGRAM_TOKEN=from-file\nCHANNEL_ID=@file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	env := map[string]string{"CHANNEL_ID": "@process"}
	getenv, err := withDotenv(func(k string) string { return env[k] }, path)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, getenv("TELEGRAM_TOKEN"), "from-file")
	testutil.AssertEqual(t, getenv("CHANNEL_ID"), "@process")
	testutil.AssertEqual(t, getenv("FEED_URL"), "")
}

func TestParseIDs(t *testing.T) {
	t.Parallel()

	ids, err := parseIDs(" 1, 42 ,,7")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, ids, []int64{1, 42, 7})

	if _, err := parseIDs("1,x"); err == nil {
		t.Fatal("want error for a non-numeric ID")
	}
	ids, err = parseIDs("")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(ids), 0)
}

func adminBot(t *testing.T) *bot {
	t.Helper()

	m := testMux(t)
	b := testBot(m)
	vars := baseEnv(t)
	env := &cli.Env{
		Getenv: func(k string) string { return vars[k] },
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
	b.envFile = filepath.Join(t.TempDir(), "empty.env")
	if err := os.WriteFile(b.envFile, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := b.init(t.Context(), env); err != nil {
		t.Fatal(err)
	}
	if err := b.setup(t.Context(), true); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.close)
	b.started = time.Now()
	return b
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestAdmin(t *testing.T) {
	t.Parallel()

	b := adminBot(t)
	mux := b.adminMux()

	health := get(t, mux, "/health")
	testutil.AssertEqual(t, health.Code, http.StatusOK)
	hr := testutil.UnmarshalJSON[web.HealthResponse](t, health.Body.Bytes())
	testutil.AssertEqual(t, hr.Checks["poller"].Status, "waiting for the first cycle")
	testutil.AssertEqual(t, hr.Checks["database"].Status, "sqlite")
	testutil.AssertEqual(t, hr.Checks["dispatcher"].Status, "waiting for the first poll")

	b.poller.Cycle(t.Context())

	seen := testutil.UnmarshalJSON[seenResponse](t, get(t, mux, "/api/seen").Body.Bytes())
	testutil.AssertEqual(t, seen.Count, 2)

	if _, err := b.journal.AddFeedback(t.Context(), 7, "Добавьте хоккей"); err != nil {
		t.Fatal(err)
	}
	if err := b.journal.TouchUser(t.Context(), journal.User{ID: 7, FirstName: "Иван"}); err != nil {
		t.Fatal(err)
	}

	w := get(t, mux, "/api/stats")
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	var stats struct {
		Feed     string             `json:"feed"`
		Breaker  string             `json:"breaker"`
		Totals   journal.Totals     `json:"totals"`
		Cycles   []feed.CycleResult `json:"cycles"`
		Feedback []journal.Feedback `json:"feedback"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, stats.Feed, defaultFeedURL)
	testutil.AssertEqual(t, stats.Breaker, "closed")
	testutil.AssertEqual(t, stats.Totals.Feedback, int64(1))
	testutil.AssertEqual(t, stats.Totals.Users, int64(1))
	testutil.AssertEqual(t, len(stats.Cycles), 1)
	testutil.AssertEqual(t, stats.Cycles[0].Forwarded, 2)
	testutil.AssertEqual(t, len(stats.Feedback), 1)

	testutil.AssertEqual(t, get(t, mux, "/nope").Code, http.StatusNotFound)
	testutil.AssertEqual(t, get(t, mux, "/").Code, http.StatusFound)

	health = get(t, mux, "/health")
	hr = testutil.UnmarshalJSON[web.HealthResponse](t, health.Body.Bytes())
	if !strings.HasPrefix(hr.Checks["poller"].Status, "last cycle at ") {
		t.Errorf("poller status: %q", hr.Checks["poller"].Status)
	}
}

func TestPollerHealthFailure(t *testing.T) {
	t.Parallel()

	b := adminBot(t)
	b.recordCycle(feed.CycleResult{
		Started:    time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
		FetchError: "feed: 502 Bad Gateway",
	})
	status, ok := b.pollerHealth(context.Background())
	testutil.AssertEqual(t, ok, false)
	testutil.AssertEqual(t, status, "cycle at 2026-10-17T12:00:00Z failed: feed: 502 Bad Gateway")
}

func TestDryRunAPI(t *testing.T) {
	t.Parallel()

	httpc := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			t.Errorf("unexpected request in dry run: %s %s", r.Method, r.URL.Path)
			return nil, errors.New("no requests allowed")
		}),
	}
	tg := telegram.New(telegram.Config{
		ChatID:     "@sportsru_news",
		Token:      tgToken,
		HTTPClient: httpc,
	})
	var buf bytes.Buffer
	var api dispatch.API = &dryRunAPI{Client: tg, slog: slog.New(slog.NewTextHandler(&buf, nil))}

	ctx := t.Context()
	if err := api.Send(ctx, sender.Message{ChatID: "-100", Body: tgmarkup.Message{Text: "Новость"}}); err != nil {
		t.Fatal(err)
	}
	if err := api.DeleteMessage(ctx, -100, 42); err != nil {
		t.Fatal(err)
	}
	if err := api.AnswerCallbackQuery(ctx, "cb1", "Готово", false); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"dry run, not sending", "dry run, not deleting", "dry run, not answering callback"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log lacks %q:\n%s", want, buf.String())
		}
	}
}

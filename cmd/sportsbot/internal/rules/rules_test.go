// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/feed"
	"go.astrophena.name/sportsbot/internal/logger"
	"go.astrophena.name/sportsbot/internal/testutil"
)

const betting = `
def block_rule(entry):
    t = entry.title.lower()
    return "ставк" in t or "букмекер" in entry.body.lower()
`

func TestBlocked(t *testing.T) {
	t.Parallel()

	r, err := Load("rules.star", []byte(betting), logger.Discard().Logger)
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]struct {
		entry feed.Entry
		want  bool
	}{
		"ordinary news": {
			entry: feed.Entry{ID: "1", Title: "Зенит обыграл Спартак", Body: "Матч завершился со счетом 2:1."},
			want:  false,
		},
		"betting title": {
			entry: feed.Entry{ID: "2", Title: "Лучшие СТАВКИ на выходные"},
			want:  true,
		},
		"betting body": {
			entry: feed.Entry{ID: "3", Title: "Прогноз", Body: "Партнерский материал от букмекера."},
			want:  true,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, r.Blocked(t.Context(), tc.entry), tc.want)
		})
	}
}

func TestBlockedFields(t *testing.T) {
	t.Parallel()

	r, err := Load("rules.star", []byte(`
def block_rule(entry):
    return entry.published == None and entry.link.startswith("https://www.sports.ru/")
`), logger.Discard().Logger)
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, r.Blocked(t.Context(), feed.Entry{Link: "https://www.sports.ru/1"}), true)
	testutil.AssertEqual(t, r.Blocked(t.Context(), feed.Entry{
		Link:      "https://www.sports.ru/1",
		Published: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
	}), false)
}

func TestBlockedKeepsOnError(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"runtime error": "def block_rule(entry):\n    return entry.missing\n",
		"non-bool":      "def block_rule(entry):\n    return \"yes\"\n",
		"endless":       "def block_rule(entry):\n    for i in range(1000000000):\n        pass\n    return True\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			r, err := Load("rules.star", []byte(src), logger.Discard().Logger)
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, r.Blocked(t.Context(), feed.Entry{ID: "x"}), false)
		})
	}
}

func TestBlockedCancelled(t *testing.T) {
	t.Parallel()

	r, err := Load("rules.star", []byte("def block_rule(entry):\n    return True\n"), logger.Discard().Logger)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	for range 20 {
		testutil.AssertEqual(t, r.Blocked(ctx, feed.Entry{ID: "x"}), false)
	}
}

func TestBlockedCancelledWhileRunning(t *testing.T) {
	t.Parallel()

	r, err := Load("rules.star", []byte("def block_rule(entry):\n    for i in range(1000000000):\n        pass\n    return True\n"), logger.Discard().Logger)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	testutil.AssertEqual(t, r.Blocked(ctx, feed.Entry{ID: "x"}), false)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"syntax error":     "def block_rule(entry)\n",
		"missing function": "x = 1\n",
		"not a function":   "block_rule = True\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load("rules.star", []byte(src), logger.Discard().Logger); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.star")
	if err := os.WriteFile(path, []byte(betting), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := LoadFile(path, logger.Discard().Logger)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, r.String(), "rules.Rule(block_rule)")

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.star"), nil); err == nil {
		t.Fatal("want error for missing file")
	}
}

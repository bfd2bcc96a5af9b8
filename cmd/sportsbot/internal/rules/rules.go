// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package rules loads the optional Starlark file that decides which feed
// entries are not forwarded.
//
// The file must define a function block_rule that takes an entry and returns
// True for entries that should be skipped:
//
//	def block_rule(entry):
//	    return "ставки" in entry.title.lower()
//
// The entry is a struct with the fields id, title, body, link and published
// (an RFC 3339 string, or None when the feed doesn't date the entry).
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/feed"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// maxSteps bounds the work a single rule call may do.
const maxSteps = 1_000_000

// Rule is a loaded block_rule function.
type Rule struct {
	fn   starlark.Callable
	slog *slog.Logger
}

// LoadFile loads a rule from the Starlark file at path.
func LoadFile(path string, logger *slog.Logger) (*Rule, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(filepath.Base(path), src, logger)
}

// Load loads a rule from src. filename is used in error messages.
func Load(filename string, src []byte, logger *slog.Logger) (*Rule, error) {
	if logger == nil {
		logger = slog.Default()
	}
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{},
		&starlark.Thread{
			Name:  "load " + filename,
			Print: func(_ *starlark.Thread, msg string) { logger.Info(msg, "file", filename) },
		},
		filename,
		src,
		starlark.StringDict{
			"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		},
	)
	if err != nil {
		return nil, err
	}

	fn, ok := globals["block_rule"].(starlark.Callable)
	if !ok {
		return nil, errors.New("block_rule must be defined and be a function")
	}
	return &Rule{fn: fn, slog: logger}, nil
}

// Blocked reports whether e must not be forwarded. A failing rule or one
// that returns something other than a bool keeps the entry.
func (r *Rule) Blocked(ctx context.Context, e feed.Entry) bool {
	if err := ctx.Err(); err != nil {
		r.slog.Warn("applying block rule", "entry", e.ID, "error", err)
		return false
	}
	thread := &starlark.Thread{
		Name:  "block_rule",
		Print: func(_ *starlark.Thread, msg string) { r.slog.Info(msg, "entry", e.ID) },
	}
	thread.SetMaxExecutionSteps(maxSteps)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	val, err := starlark.Call(thread, r.fn, starlark.Tuple{entryValue(e)}, nil)
	if err != nil {
		r.slog.Warn("applying block rule", "entry", e.ID, "error", err)
		return false
	}

	ret, ok := val.(starlark.Bool)
	if !ok {
		r.slog.Warn("block rule returned non-boolean value", "entry", e.ID, "type", val.Type())
		return false
	}
	return bool(ret)
}

func entryValue(e feed.Entry) starlark.Value {
	var published starlark.Value = starlark.None
	if !e.Published.IsZero() {
		published = starlark.String(e.Published.Format(time.RFC3339))
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"id":        starlark.String(e.ID),
		"title":     starlark.String(e.Title),
		"body":      starlark.String(e.Body),
		"link":      starlark.String(e.Link),
		"published": published,
	})
}

func (r *Rule) String() string { return fmt.Sprintf("rules.Rule(%s)", r.fn.Name()) }

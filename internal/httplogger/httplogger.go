// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package httplogger provides a http.RoundTripper middleware that logs HTTP
// requests and responses.
//
// It wraps an existing http.RoundTripper and logs information about each
// request and response, including the start time, URL, method, status code (if
// available), and any errors. The logs are formatted with timestamps and
// indentation to visually represent the nesting of requests.
package httplogger

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.astrophena.name/sportsbot/internal/logger"
)

// New creates a new http.RoundTripper that logs information about HTTP requests
// and responses. If t is nil, http.DefaultTransport is used. If scrubber is
// not nil, it is applied to every logged line, so secrets embedded in URLs
// (such as bot tokens) never reach the log.
func New(t http.RoundTripper, logf logger.Logf, scrubber *strings.Replacer) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	if logf == nil {
		logf = log.Printf
	}
	return &loggingTransport{transport: t, logf: logf, scrubber: scrubber}
}

type loggingTransport struct {
	transport http.RoundTripper
	logf      logger.Logf
	scrubber  *strings.Replacer

	mu     sync.Mutex
	active []byte
}

func (t *loggingTransport) log(format string, args ...any) {
	if t.scrubber == nil {
		t.logf(format, args...)
		return
	}
	for i, arg := range args {
		if s, ok := arg.(string); ok {
			args[i] = t.scrubber.Replace(s)
		}
	}
	t.logf(format, args...)
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	t.mu.Lock()
	index := len(t.active)
	start := time.Now()
	t.log("HTTP: %s %s+ %s %s", timeFormat(start), string(t.active), r.Method, r.URL.String())
	t.active = append(t.active, '|')
	t.mu.Unlock()

	resp, err := t.transport.RoundTrip(r)

	last := r.URL.Path
	if i := strings.LastIndex(last, "/"); i >= 0 {
		last = last[i:]
	}
	display := last
	if resp != nil {
		display += " " + resp.Status
	}
	if err != nil {
		display += " error: " + err.Error()
	}
	now := time.Now()

	t.mu.Lock()
	t.active[index] = '-'
	t.log("HTTP: %s %s %s (%.3fs)", timeFormat(now), string(t.active), display, now.Sub(start).Seconds())
	t.active[index] = ' '
	n := len(t.active)
	for n%4 == 0 && n >= 4 && t.active[n-1] == ' ' && t.active[n-2] == ' ' && t.active[n-3] == ' ' && t.active[n-4] == ' ' {
		t.active = t.active[:n-4]
		n -= 4
	}
	t.mu.Unlock()

	return resp, err
}

func timeFormat(t time.Time) string {
	return t.Format("15:04:05.000")
}

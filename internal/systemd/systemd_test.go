// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package systemd

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/sportsbot/internal/testutil"
)

type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (tl *testLogger) logf(format string, args ...any) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.messages = append(tl.messages, fmt.Sprintf(format, args...))
}

func listen(t *testing.T) (*net.UnixConn, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "notify.sock")
	l, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: socketPath, Net: "unixgram"})
	if err != nil {
		t.Fatalf("Failed to listen on unixgram socket: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, socketPath
}

func receive(t *testing.T, l *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 512)
	l.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, _, err := l.ReadFromUnix(buf)
	if err != nil {
		t.Fatalf("Failed to read from unixgram socket: %v", err)
	}
	return string(buf[:n])
}

func TestNotify(t *testing.T) {
	t.Parallel()

	l, socketPath := listen(t)
	getenv := func(k string) string {
		return map[string]string{"NOTIFY_SOCKET": socketPath}[k]
	}
	tl := &testLogger{}

	Notify(getenv, tl.logf, Ready)
	testutil.AssertEqual(t, receive(t, l), "READY=1")

	Notify(getenv, tl.logf, Status("forwarded %d entries", 3))
	testutil.AssertEqual(t, receive(t, l), "STATUS=forwarded 3 entries")

	if len(tl.messages) != 0 {
		t.Errorf("unexpected log messages: %v", tl.messages)
	}
}

func TestNotifyWithoutSocket(t *testing.T) {
	t.Parallel()

	tl := &testLogger{}
	Notify(func(string) string { return "" }, tl.logf, Ready)
	if len(tl.messages) != 0 {
		t.Errorf("unexpected log messages: %v", tl.messages)
	}
}

func TestWatchdogLoop(t *testing.T) {
	t.Parallel()

	l, socketPath := listen(t)
	getenv := func(k string) string {
		return map[string]string{
			"NOTIFY_SOCKET": socketPath,
			"WATCHDOG_USEC": "250000", // 0.25 second
		}[k]
	}
	tl := &testLogger{}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go WatchdogLoop(ctx, getenv, tl.logf)

	testutil.AssertEqual(t, receive(t, l), "WATCHDOG=1")
}

func TestWatchdogInterval(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		"valid":    {in: "30000000", want: 30 * time.Second},
		"zero":     {in: "0", wantErr: true},
		"negative": {in: "-5", wantErr: true},
		"garbage":  {in: "soon", wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := watchdogInterval(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("watchdogInterval(%q): err = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			testutil.AssertEqual(t, got, tc.want)
		})
	}
}

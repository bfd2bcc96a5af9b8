// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.astrophena.name/sportsbot/internal/testutil"
)

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		checks     map[string]HealthFunc
		wantOK     bool
		wantChecks map[string]CheckResponse
		wantStatus int
	}{
		"no checks": {
			checks:     map[string]HealthFunc{},
			wantOK:     true,
			wantChecks: map[string]CheckResponse{},
			wantStatus: http.StatusOK,
		},
		"poller ok": {
			checks: map[string]HealthFunc{
				"poller": func(context.Context) (string, bool) { return "last cycle 1m ago", true },
			},
			wantOK: true,
			wantChecks: map[string]CheckResponse{
				"poller": {Status: "last cycle 1m ago", OK: true},
			},
			wantStatus: http.StatusOK,
		},
		"dispatcher down": {
			checks: map[string]HealthFunc{
				"poller":     func(context.Context) (string, bool) { return "ok", true },
				"dispatcher": func(context.Context) (string, bool) { return "getUpdates failing", false },
			},
			wantOK: false,
			wantChecks: map[string]CheckResponse{
				"poller":     {Status: "ok", OK: true},
				"dispatcher": {Status: "getUpdates failing", OK: false},
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			h := Health(mux)
			for name, f := range tc.checks {
				h.RegisterFunc(name, f)
			}
			// Health must hand out the same handler on repeated calls.
			if Health(mux) != h {
				t.Fatal("Health returned a different handler for the same mux")
			}

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			testutil.AssertEqual(t, w.Code, tc.wantStatus)
			got := testutil.UnmarshalJSON[HealthResponse](t, w.Body.Bytes())
			testutil.AssertEqual(t, got.OK, tc.wantOK)
			testutil.AssertEqual(t, got.Checks, tc.wantChecks)
		})
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	h := Health(http.NewServeMux())
	f := func(context.Context) (string, bool) { return "", true }
	h.RegisterFunc("poller", f)

	defer func() {
		if recover() == nil {
			t.Fatal("RegisterFunc must panic on duplicate name")
		}
	}()
	h.RegisterFunc("poller", f)
}

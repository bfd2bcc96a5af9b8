// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"go.astrophena.name/sportsbot/internal/logger"
)

// Server is used to configure the HTTP server started by
// [Server.ListenAndServe].
//
// All fields of Server can't be modified after [Server.ListenAndServe] is
// called.
type Server struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Mux is a http.ServeMux to serve.
	Mux *http.ServeMux
	// Logf specifies a logger to use. If nil, log.Printf is used.
	Logf logger.Logf
	// Ready is called, if not nil, once the server is accepting connections.
	Ready func(addr string)
}

var (
	errNoAddr = errors.New("Addr is empty")
	errNilMux = errors.New("Mux is nil")
)

const shutdownTimeout = 10 * time.Second

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// the server fails. /health is always registered on the mux.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Logf == nil {
		s.Logf = log.Printf
	}
	if s.Addr == "" {
		return errNoAddr
	}
	if s.Mux == nil {
		return errNilMux
	}

	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer l.Close()
	s.Logf("Listening on %s...", l.Addr().String())

	Health(s.Mux)

	httpSrv := &http.Server{
		ErrorLog:          log.New(s.Logf, "", 0),
		Handler:           s.Mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.Ready != nil {
		s.Ready(l.Addr().String())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Logf("Gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpSrv.Shutdown(shutdownCtx)
	}
}

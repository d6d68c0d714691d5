// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the raffle over HTTP. JSON endpoints cover entries,
// upkeep, the oracle callback, read accessors, recovery operations, accounts
// and proofs, alongside a gRPC health service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/blinklabs-io/raffle/ledger"
)

const (
	DefaultListenAddress = ":8080"
	// HealthServiceName is reported as serving by the gRPC health checker
	HealthServiceName = "raffle.v1.Raffle"
)

type ServerConfig struct {
	Logger   *slog.Logger
	Raffle   Raffle
	Callback CallbackReceiver
	// Proofs is optional. Proof endpoints return 503 without it.
	Proofs ProofSource
	// Accounts is optional. Account endpoints return 503 without it.
	Accounts Accounts
	// CallbackTokens maps bearer tokens to the caller address presented to
	// the callback receiver
	CallbackTokens map[string]ledger.Address
	ListenAddress  string
	// EnableDeposits allows minting funds through the deposit endpoint
	EnableDeposits bool
}

// Server is the raffle HTTP API server
type Server struct {
	config     ServerConfig
	logger     *slog.Logger
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new API server instance
func New(cfg ServerConfig) (*Server, error) {
	if cfg.Raffle == nil {
		return nil, errors.New("no raffle configured")
	}
	if cfg.Callback == nil {
		return nil, errors.New("no callback receiver configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	return &Server{
		config: cfg,
		logger: cfg.Logger.With("component", "api"),
	}, nil
}

// Handler returns the HTTP handler serving all endpoints
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v0/raffle", s.handleRaffle)
	mux.HandleFunc("POST /api/v0/raffle/enter", s.handleEnter)
	mux.HandleFunc(
		"GET /api/v0/raffle/participants/{index}",
		s.handleParticipant,
	)
	mux.HandleFunc("GET /api/v0/raffle/winners", s.handleWinners)
	mux.HandleFunc(
		"POST /api/v0/raffle/payout/retry",
		s.handleRetryPayout,
	)
	mux.HandleFunc(
		"POST /api/v0/raffle/request/cancel",
		s.handleCancelRequest,
	)
	mux.HandleFunc("GET /api/v0/upkeep", s.handleCheckUpkeep)
	mux.HandleFunc("POST /api/v0/upkeep/perform", s.handlePerformUpkeep)
	mux.HandleFunc("POST /api/v0/oracle/callback", s.handleCallback)
	mux.HandleFunc(
		"GET /api/v0/oracle/proofs/{requestId}",
		s.handleProof,
	)
	mux.HandleFunc("GET /api/v0/accounts/{address}", s.handleAccount)
	mux.HandleFunc(
		"POST /api/v0/accounts/{address}/deposit",
		s.handleDeposit,
	)
	mux.Handle(
		grpchealth.NewHandler(
			grpchealth.NewStaticChecker(HealthServiceName),
			connect.WithCompressMinBytes(1024),
		),
	)
	// Use h2c so we can serve gRPC over HTTP/2 without TLS
	return h2c.NewHandler(mux, &http2.Server{})
}

// Start starts the HTTP server in a background goroutine. The server shuts
// down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.mu.Unlock()

	// Bind first so that port conflicts are reported to the caller
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		s.mu.Lock()
		s.httpServer = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(
				"API server error",
				"error", err,
			)
		}
	}()
	s.logger.Info(
		"API listener started on " + ln.Addr().String(),
	)

	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			30*time.Second,
		)
		defer cancel()
		//nolint:contextcheck
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error(
				"failed to shutdown API server on context cancellation",
				"error", err,
			)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}

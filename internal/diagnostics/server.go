// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package diagnostics exposes the sampler's state over HTTP: the latest
// results and snapshot pairs as JSON, a websocket stream of published
// results, and a Prometheus collector.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/antimetal/counterrates/internal/runtime"
	"github.com/antimetal/counterrates/pkg/sampling"
)

const shutdownTimeout = 5 * time.Second

// Reader is the read side of the sampler.
type Reader interface {
	Domains() []sampling.Domain
	GetLatest(domain sampling.Domain) (sampling.Result, bool)
	ReadPair(domain sampling.Domain) (sampling.SnapshotPair, bool)
}

// Server implements controller-runtime's manager.Runnable.
type Server struct {
	addr     string
	reader   Reader
	hub      *Hub
	logger   logr.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a Server listening on addr. hub may be nil, in which
// case /v1/stream is not served.
func NewServer(addr string, reader Reader, hub *Hub, logger logr.Logger) (*Server, error) {
	if reader == nil {
		return nil, errors.New("reader cannot be nil")
	}
	return &Server{
		addr:   addr,
		reader: reader,
		hub:    hub,
		logger: logger.WithName("diagnostics"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the diagnostics routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/domains", s.handleDomains)
	mux.HandleFunc("GET /v1/latest/{domain}", s.handleLatest)
	mux.HandleFunc("GET /v1/pair/{domain}", s.handlePair)
	mux.HandleFunc("GET /v1/instance", s.handleInstance)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/stream", s.handleStream)
	}
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving diagnostics", "addr", listener.Addr().String())
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down diagnostics server: %w", err)
	}
	return nil
}

// Implements sigs.k8s.io/controller-runtime/pkg/manager.LeaderElectionRunnable interface
// Always returns false to disable leader election.
func (s *Server) NeedLeaderElection() bool {
	return false
}

func (s *Server) handleDomains(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.reader.Domains())
}

func (s *Server) handleInstance(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, runtime.GetInstance())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	domain, ok := s.domain(w, r)
	if !ok {
		return
	}
	result, ok := s.reader.GetLatest(domain)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no result for %s yet", domain))
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	domain, ok := s.domain(w, r)
	if !ok {
		return
	}
	pair, ok := s.reader.ReadPair(domain)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no snapshots for %s yet", domain))
		return
	}
	s.writeJSON(w, http.StatusOK, pair)
}

func (s *Server) domain(w http.ResponseWriter, r *http.Request) (sampling.Domain, bool) {
	domain, err := sampling.ParseDomain(r.PathValue("domain"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return domain, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.V(1).Info("failed to write response", "error", err)
	}
}

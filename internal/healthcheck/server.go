// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package healthcheck serves liveness, readiness and last-run status for
// the long-running scheduler.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultPort = 8090
	PortEnv     = "ORDERGATE_HEALTH_PORT"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

type Response struct {
	Healthy bool `json:"healthy"`
}

// RunStatus summarizes the most recent scheduled run.
type RunStatus struct {
	RunID    string    `json:"runId,omitempty"`
	DateKey  string    `json:"dateKey"`
	Rows     int64     `json:"rows"`
	Skipped  int64     `json:"rowsSkipped"`
	Error    string    `json:"error,omitempty"`
	Class    string    `json:"errorClass,omitempty"`
	Finished time.Time `json:"finished"`
}

type Server struct {
	port   int
	status atomic.Int32
	ready  atomic.Bool

	mu      sync.Mutex
	lastRun *RunStatus

	server *http.Server
}

// PortFromEnv returns the configured port. A value of 0 disables the
// server; unparsable values fall back to DefaultPort.
func PortFromEnv() int {
	s, ok := os.LookupEnv(PortEnv)
	if !ok {
		return DefaultPort
	}
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > 65535 {
		return DefaultPort
	}
	return p
}

func NewServer(port int) *Server {
	return &Server{port: port}
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) IsReady() bool {
	return s.ready.Load() && s.GetStatus() == StatusHealthy
}

// RecordRun stores the outcome of a run for /lastrun.
func (s *Server) RecordRun(rs RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &rs
}

func (s *Server) LastRun() (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return RunStatus{}, false
	}
	return *s.lastRun, true
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.GetStatus() == StatusHealthy, Response{Healthy: s.GetStatus() == StatusHealthy})
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		alive := s.GetStatus() != StatusUnhealthy
		writeJSON(w, alive, Response{Healthy: alive})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.IsReady(), Response{Healthy: s.IsReady()})
	})
	mux.HandleFunc("/lastrun", func(w http.ResponseWriter, _ *http.Request) {
		rs, ok := s.LastRun()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, true, rs)
	})
	return mux
}

// Start serves until ctx is done. A zero port disables the server.
func (s *Server) Start(ctx context.Context) error {
	if s.port == 0 {
		<-ctx.Done()
		return nil
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.GetStatus() == StatusStarting {
		slog.Info("Starting health check server", slog.Int("port", s.port))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("health check server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Stop()
	}
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, ok bool, body any) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}

// Package health exposes a small HTTP endpoint for liveness checks and
// Prometheus scraping, run alongside the SOCKS5 listener.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/socks5d/socks5d/internal/sysinfo"
)

// StatsProvider reports the state the /healthz endpoint surfaces.
type StatsProvider interface {
	// SessionCount returns the number of active SOCKS5 sessions.
	SessionCount() int64

	// WorkersAlive returns the number of live worker processes (or 1 in
	// single-process mode).
	WorkersAlive() int
}

type status struct {
	Status       string  `json:"status"`
	Version      string  `json:"version"`
	UptimeSecs   int64   `json:"uptime_seconds"`
	Sessions     int64   `json:"sessions_active"`
	WorkersAlive int     `json:"workers_alive"`
	CPUPercent   float64 `json:"cpu_percent,omitempty"`
	MemUsedMB    uint64  `json:"mem_used_mb,omitempty"`
}

// Server serves /healthz and /metrics.
type Server struct {
	httpServer *http.Server
	stats      StatsProvider
}

// New creates a health server bound to address, reporting stats from the
// given provider.
func New(address string, stats StatsProvider) *Server {
	mux := http.NewServeMux()
	s := &Server{stats: stats}

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    address,
		Handler: mux,
	}
	return s
}

// Start begins serving in the background. Errors other than
// http.ErrServerClosed are silently dropped since the caller has no way
// to act on them after Start returns.
func (s *Server) Start() {
	go s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the health server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := status{
		Status:       "ok",
		Version:      sysinfo.Version,
		UptimeSecs:   sysinfo.UptimeSeconds(),
		Sessions:     s.stats.SessionCount(),
		WorkersAlive: s.stats.WorkersAlive(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		st.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemUsedMB = vm.Used / (1024 * 1024)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

// Address returns the address the server is configured to listen on.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// WaitShutdown blocks until ctx is done, then shuts the server down with a
// bounded grace period.
func WaitShutdown(ctx context.Context, s *Server, grace time.Duration) error {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return nil
}

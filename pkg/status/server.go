package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"harvester/pkg/harvest"
	"harvester/pkg/proxypool"

	"github.com/rs/zerolog"
)

// Server exposes run progress and pool health over HTTP while a run is going
type Server struct {
	pool     *proxypool.Pool
	progress *harvest.Progress
	useProxy bool
	server   *http.Server
	log      zerolog.Logger
}

type Config struct {
	ListenAddr string
	// UseProxy makes an empty pool unhealthy; proxyless runs never are
	UseProxy bool
}

type statsResponse struct {
	Pool     proxypool.Stats          `json:"pool"`
	Progress harvest.ProgressSnapshot `json:"progress"`
	Uptime   string                   `json:"uptime,omitempty"`
}

func NewServer(pool *proxypool.Pool, progress *harvest.Progress, config Config, log zerolog.Logger) *Server {
	s := &Server{
		pool:     pool,
		progress: progress,
		useProxy: config.UseProxy,
		log:      log,
	}
	s.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start listens in the background and returns once the socket is bound
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Status server listening")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Status server stopped")
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/stats":
		s.handleStats(w, r)
	case "/health":
		s.handleHealth(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Pool:     s.pool.Stats(),
		Progress: s.progress.Snapshot(),
	}
	if !resp.Progress.StartedAt.IsZero() {
		resp.Uptime = time.Since(resp.Progress.StartedAt).Round(time.Second).String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write stats response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.progress.Snapshot().StartedAt.IsZero() {
		http.Error(w, "Run not started", http.StatusServiceUnavailable)
		return
	}
	live := s.pool.Len()
	if s.useProxy && live == 0 {
		http.Error(w, "No proxies left in pool", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	if s.useProxy {
		fmt.Fprintf(w, "OK - %d proxies available", live)
		return
	}
	fmt.Fprint(w, "OK - proxyless")
}

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "bosstracker/internal/runtime/supervisor"
	"bosstracker/internal/tracker"
	logx "bosstracker/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9090"

// ServerConfig controls the observability HTTP server.
//
// Security: pprof exposes process internals, so it refuses non-loopback
// binds unless AllowInsecure is set.
type ServerConfig struct {
	Addr          string
	Pprof         bool
	AllowInsecure bool

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// Health is the /healthz payload.
type Health struct {
	Status      string                    `json:"status"`
	Tracker     *TrackerHealth            `json:"tracker,omitempty"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors,omitempty"`
}

type TrackerHealth struct {
	State           string     `json:"state"`
	Level           *int       `json:"level,omitempty"`
	NextEncounterAt *time.Time `json:"next_encounter_at,omitempty"`
	StatusMessageID string     `json:"status_message_id,omitempty"`
}

type Server struct {
	mu  sync.Mutex
	cfg ServerConfig
	log logx.Logger

	metrics *Metrics
	sups    *rtsup.Registry
	snap    func() tracker.Snapshot

	srv *http.Server
	sup *rtsup.Supervisor
}

// NewServer builds the server. sups and snap may be nil.
func NewServer(cfg ServerConfig, m *Metrics, sups *rtsup.Registry, snap func() tracker.Snapshot, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, log: log.With(logx.String("comp", "metrics")), metrics: m, sups: sups, snap: snap}
}

// Supervisor returns the server's internal supervisor (nil if not started).
func (s *Server) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Handler returns the HTTP routes: /metrics, /healthz and, when enabled, pprof.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.serveHealth)
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

func (s *Server) health() Health {
	h := Health{Status: "ok", Supervisors: s.sups.Snapshots()}
	for _, snap := range h.Supervisors {
		if snap.FirstError != "" {
			h.Status = "degraded"
		}
	}
	if s.snap != nil {
		ts := s.snap()
		th := &TrackerHealth{State: ts.State.String(), Level: ts.Level, StatusMessageID: ts.StatusMessageID}
		if !ts.NextEncounterAt.IsZero() {
			at := ts.NextEncounterAt
			th.NextEncounterAt = &at
		}
		h.Tracker = th
	}
	return h
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health()
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}

// Start runs the server under a restart loop so it self-heals. Start is idempotent.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// metrics are optional observability; never hard-kill the app.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	srv := s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	_ = sup.Stop(ctx)
	s.log.Info("metrics server stopped")
}

func (s *Server) serveOnce(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if s.cfg.Pprof && !s.cfg.AllowInsecure && !isLoopbackAddr(addr) {
		s.log.Error("metrics server refused to start: pprof on non-loopback addr", logx.String("addr", addr))
		return errors.New("pprof refused insecure bind")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("metrics server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("metrics server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

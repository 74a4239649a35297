package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"netmonitor/internal/history"
	"netmonitor/internal/metrics"
	"netmonitor/internal/models"
	"netmonitor/internal/prober"
)

const (
	maxRequestBody = 4 << 10

	// Per-client limiters idle this long with a full bucket are dropped.
	limiterIdleTTL = 10 * time.Minute
	maxLimiters    = 4096
)

// Options tunes the invocation boundary.
type Options struct {
	AlertThreshold int
	// RateLimit is the sustained probes per second allowed per client. Zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Server exposes the prober over HTTP and a WebSocket command channel.
type Server struct {
	httpServer     *http.Server
	prober         *prober.Prober
	history        *history.Window
	alertThreshold int
	historyLimit   int
	logger         *slog.Logger

	limit rate.Limit
	burst int

	now       func() time.Time
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a configured HTTP server around p. window may be nil when no
// recent history is kept.
func New(addr string, p *prober.Prober, window *history.Window, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = p.AllowList().Len()
	}
	historyLimit := history.DefaultSize
	if window != nil {
		historyLimit = window.Size()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		prober:         p,
		history:        window,
		alertThreshold: opts.AlertThreshold,
		historyLimit:   historyLimit,
		logger:         logger,
		limit:          limit,
		burst:          burst,
		now:            time.Now,
		limiters:       make(map[string]*clientLimiter),
	}
	s.registerRoutes(mux)
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Serve serves HTTP traffic on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	return s.httpServer.Serve(l)
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/ping", s.handlePing)
	mux.HandleFunc("/api/targets", s.handleTargets)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/ws", s.handleCommandsWS)
}

type pingRequest struct {
	Target string `json:"target"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var target string
	switch r.Method {
	case http.MethodGet:
		target = r.URL.Query().Get("target")
	case http.MethodPost:
		var req pingRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		target = req.Target
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	if !s.limiterFor(clientKey(r)).Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	res, err := s.prober.Probe(r.Context(), target)
	if err != nil {
		writeProbeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTargets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"targets": s.prober.AllowList().Targets(),
	})
}

// handleStats reports every allow-listed target, sorted by name, including
// those without samples yet.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snapshot := map[string][]models.Sample{}
	if s.history != nil {
		snapshot = s.history.Snapshot()
	}
	for _, target := range s.prober.AllowList().Targets() {
		if _, ok := snapshot[target]; !ok {
			snapshot[target] = nil
		}
	}
	writeJSON(w, http.StatusOK, metrics.ComputeAll(snapshot, s.alertThreshold))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if !s.prober.AllowList().Contains(target) {
		writeProbeError(w, &prober.ValidationError{Target: target})
		return
	}
	since, err := parseSince(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since: want RFC3339 timestamp"})
		return
	}

	samples := []models.Sample{}
	if s.history != nil {
		limit := parseLimit(r, s.historyLimit)
		var h []models.Sample
		if since.IsZero() {
			h = s.history.History(target, limit)
		} else {
			h = s.history.HistorySince(target, since, limit)
		}
		if h != nil {
			samples = h
		}
	}
	writeJSON(w, http.StatusOK, samples)
}

// limiterFor returns the rate limiter shared by every request and command
// channel of one client.
func (s *Server) limiterFor(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= limiterIdleTTL || len(s.limiters) >= maxLimiters {
		s.sweepLimiters(now)
	}

	entry, ok := s.limiters[key]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweepLimiters drops idle limiters whose bucket has refilled, since a fresh
// one behaves the same. If the map is still full the least recently seen
// client is dropped. Callers hold s.mu.
func (s *Server) sweepLimiters(now time.Time) {
	s.lastSweep = now
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) < limiterIdleTTL {
			continue
		}
		if s.limit == rate.Inf || entry.limiter.TokensAt(now) >= float64(s.burst) {
			delete(s.limiters, key)
		}
	}

	for len(s.limiters) >= maxLimiters {
		var (
			oldestKey string
			oldestAt  time.Time
			found     bool
		)
		for key, entry := range s.limiters {
			if !found || entry.lastSeen.Before(oldestAt) {
				oldestKey, oldestAt, found = key, entry.lastSeen, true
			}
		}
		delete(s.limiters, oldestKey)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeProbeError(w http.ResponseWriter, err error) {
	if errors.Is(err, prober.ErrTargetNotAllowed) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func parseSince(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

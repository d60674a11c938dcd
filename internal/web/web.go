package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"slotfinder/internal/availability"
	"slotfinder/internal/config"
	appLog "slotfinder/internal/log"
	"slotfinder/internal/refresh"
	"slotfinder/internal/report"
)

const (
	slotsCacheTTL   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Finder computes availability for one request.
type Finder interface {
	Find(ctx context.Context, req availability.Request) availability.Result
}

// Snapshots exposes background refresh results. It may be nil.
type Snapshots interface {
	Latest() []refresh.Snapshot
}

// Server provides the HTTP API for free slot lookups.
type Server struct {
	cfg       *config.Config
	finder    Finder
	snapshots Snapshots
	loc       *time.Location
	mux       *http.ServeMux
	metrics   *metrics
	limiter   *clientLimiter
	now       func() time.Time

	// In-memory cache for /api/slots results so repeated polls do not
	// refetch the calendar.
	slotsMu    sync.RWMutex
	slotsCache map[slotsKey]slotsCacheEntry
}

type slotsKey struct {
	source  string
	days    int
	minimum time.Duration
}

type slotsCacheEntry struct {
	res       availability.Result
	updatedAt time.Time
}

// NewServer constructs a new Server. snapshots may be nil.
func NewServer(cfg *config.Config, finder Finder, snapshots Snapshots) *Server {
	s := &Server{
		cfg:        cfg,
		finder:     finder,
		snapshots:  snapshots,
		loc:        cfg.Location(),
		mux:        http.NewServeMux(),
		metrics:    newMetrics(),
		limiter:    newClientLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		now:        time.Now,
		slotsCache: make(map[slotsKey]slotsCacheEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	h = s.rateLimitMiddleware(h)
	return requestIDMiddleware(h)
}

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="slotfinder", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/slots", s.handleSlots)
	s.mux.HandleFunc("/api/latest", s.handleLatest)
	s.mux.Handle("/metrics", s.metrics.handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// slotsResponse is the JSON response shape for /api/slots.
type slotsResponse struct {
	Status                 availability.Status `json:"status"`
	Source                 string              `json:"source"`
	RangeStart             *time.Time          `json:"range_start,omitempty"`
	RangeEnd               *time.Time          `json:"range_end,omitempty"`
	DisplayTimeZone        string              `json:"display_timezone"`
	Days                   int                 `json:"days"`
	MinimumDurationMinutes int                 `json:"minimum_duration_minutes"`
	Slots                  []report.SlotRecord `json:"slots"`
	Summary                string              `json:"summary"`
	Error                  string              `json:"error,omitempty"`
}

// handleSlots computes free slots for one calendar source.
//
// GET /api/slots?source=work&days=3&hours=1&format=json&cap=5
//   - source: configured calendar id (default: first configured)
//   - days:   search horizon in days (default: config days_to_search)
//   - hours:  minimum slot length in hours, fractional allowed
//   - format: json (default) or text
//   - cap:    number of slots rendered (default: config display_cap, -1 = all)
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "text" {
		s.metrics.observeRequest(availability.StatusInvalidRequest)
		writeError(w, http.StatusBadRequest, "format must be json or text")
		return
	}

	req, err := s.parseSlotsRequest(q.Get("source"), q.Get("days"), q.Get("hours"))
	if err != nil {
		s.metrics.observeRequest(availability.StatusInvalidRequest)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	displayCap := parseIntDefault(q.Get("cap"), s.cfg.DisplayCap)

	appLog.Info("api slots request",
		"request_id", RequestIDFromContext(r.Context()),
		"source", req.Source,
		"days", req.Days,
		"minimum", req.MinimumDuration.String(),
		"format", format,
	)

	res := s.find(r.Context(), req)
	opts := report.Options{Location: s.loc, Cap: displayCap}
	summary := report.Summary(res, opts)

	status := httpStatus(res.Status)
	if format == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(summary))
		return
	}

	resp := slotsResponse{
		Status:                 res.Status,
		Source:                 res.Source,
		DisplayTimeZone:        s.loc.String(),
		Days:                   res.Days,
		MinimumDurationMinutes: int(res.MinimumDuration / time.Minute),
		Slots:                  report.Structured(res, opts),
		Summary:                summary,
	}
	if !res.Window.Now.IsZero() {
		start, end := res.Window.Now.In(s.loc), res.Window.Horizon.In(s.loc)
		resp.RangeStart, resp.RangeEnd = &start, &end
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, status, resp)
}

func (s *Server) parseSlotsRequest(source, days, hours string) (availability.Request, error) {
	req := availability.Request{
		Source:          source,
		Days:            s.cfg.DaysToSearch,
		MinimumDuration: s.cfg.MinimumDuration(),
	}
	if req.Source == "" && len(s.cfg.ICS) > 0 {
		req.Source = s.cfg.ICS[0].SourceID()
	}
	if days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return req, fmt.Errorf("invalid days %q", days)
		}
		req.Days = n
	}
	if hours != "" {
		h, err := strconv.ParseFloat(hours, 64)
		if err != nil {
			return req, fmt.Errorf("invalid hours %q", hours)
		}
		req.MinimumDuration = config.HoursToDuration(h)
		if req.MinimumDuration <= 0 {
			return req, fmt.Errorf("hours must be positive, got %q", hours)
		}
	}
	return req, nil
}

// find runs the lookup through the TTL cache. Only definitive answers are
// cached; failures are retried on the next request.
func (s *Server) find(ctx context.Context, req availability.Request) availability.Result {
	key := slotsKey{source: req.Source, days: req.Days, minimum: req.MinimumDuration}
	now := s.now()

	s.slotsMu.RLock()
	entry, ok := s.slotsCache[key]
	s.slotsMu.RUnlock()
	if ok && now.Sub(entry.updatedAt) < slotsCacheTTL {
		s.metrics.observeRequest(entry.res.Status)
		return entry.res
	}

	started := time.Now()
	res := s.finder.Find(ctx, req)
	s.metrics.observeFind(res, time.Since(started))

	if res.Status == availability.StatusOK || res.Status == availability.StatusNoAvailability {
		s.slotsMu.Lock()
		for k, e := range s.slotsCache {
			if now.Sub(e.updatedAt) >= slotsCacheTTL {
				delete(s.slotsCache, k)
			}
		}
		s.slotsCache[key] = slotsCacheEntry{res: res, updatedAt: now}
		s.slotsMu.Unlock()
	}
	return res
}

// latestEntry is one element of the /api/latest response.
type latestEntry struct {
	Source    string              `json:"source"`
	Status    availability.Status `json:"status"`
	UpdatedAt time.Time           `json:"updated_at"`
	Slots     []report.SlotRecord `json:"slots"`
	Summary   string              `json:"summary"`
}

// handleLatest returns the most recent background snapshots.
func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	out := []latestEntry{}
	if s.snapshots != nil {
		opts := report.Options{Location: s.loc, Cap: s.cfg.DisplayCap}
		for _, snap := range s.snapshots.Latest() {
			out = append(out, latestEntry{
				Source:    snap.Source,
				Status:    snap.Result.Status,
				UpdatedAt: snap.UpdatedAt.In(s.loc),
				Slots:     report.Structured(snap.Result, opts),
				Summary:   report.Summary(snap.Result, opts),
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func httpStatus(st availability.Status) int {
	switch st {
	case availability.StatusFetchFailure:
		return http.StatusBadGateway
	case availability.StatusInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

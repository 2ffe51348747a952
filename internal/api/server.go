// Package api serves the estimator's HTTP interface: live state, reset,
// stored runs and a websocket stream of estimates.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/egomotion/internal/db"
	"github.com/banshee-data/egomotion/internal/httputil"
	"github.com/banshee-data/egomotion/internal/pipeline"
	"github.com/banshee-data/egomotion/internal/report"
	"github.com/banshee-data/egomotion/internal/serialmux"
	"github.com/banshee-data/egomotion/internal/timeutil"
	"github.com/banshee-data/egomotion/internal/units"
	"github.com/banshee-data/egomotion/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultRunsLimit      = 50
	defaultEstimatesLimit = 1000
	maxEstimatesLimit     = 100000
)

// Estimator is the part of the live loop the API needs.
type Estimator interface {
	Latest() (pipeline.Estimate, bool)
	Stats() pipeline.Stats
	Reset()
}

// Options configures a Server. Every field but Estimator is optional; the
// matching routes report 503 when their dependency is missing.
type Options struct {
	Estimator   Estimator
	DB          *db.DB
	Broadcaster *pipeline.Broadcaster
	Bridge      *serialmux.BridgeState
	RunID       string
	Clock       timeutil.Clock
	// StaleAfter marks the latest estimate stale in /api/status once it
	// is older than this. Zero disables the check.
	StaleAfter time.Duration
}

type Server struct {
	est         Estimator
	db          *db.DB
	broadcaster *pipeline.Broadcaster
	bridge      *serialmux.BridgeState
	runID       string
	clock       timeutil.Clock
	staleAfter  time.Duration
	started     time.Time
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Server{
		est:         opts.Estimator,
		db:          opts.DB,
		broadcaster: opts.Broadcaster,
		bridge:      opts.Bridge,
		runID:       opts.RunID,
		clock:       opts.Clock,
		staleAfter:  opts.StaleAfter,
		started:     opts.Clock.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// websocket upgrade needs for Hijack.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
// Websocket upgrades bypass it since the hijacked connection outlives the
// request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/egomotion/latest", s.showLatest)
	mux.HandleFunc("/api/egomotion/reset", s.resetEstimator)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.showRun)
	mux.HandleFunc("/api/runs/{id}/estimates", s.listEstimates)
	mux.HandleFunc("/api/runs/{id}/chart", s.showChart)
	mux.HandleFunc("/ws/egomotion", s.streamEstimates)
	return mux
}

// Status is the body of /api/status.
type Status struct {
	Version    string                    `json:"version"`
	GitSHA     string                    `json:"git_sha"`
	RunID      string                    `json:"run_id,omitempty"`
	UptimeS    float64                   `json:"uptime_s"`
	Stats      pipeline.Stats            `json:"stats"`
	HasLatest  bool                      `json:"has_latest"`
	LastTimeMs float64                   `json:"last_t_ms,omitempty"`
	Stale      bool                      `json:"stale"`
	Bridge     *serialmux.BridgeSnapshot `json:"bridge,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	now := s.clock.Now()
	st := Status{
		Version: version.Version,
		GitSHA:  version.GitSHA,
		RunID:   s.runID,
		UptimeS: now.Sub(s.started).Seconds(),
	}
	if s.est != nil {
		st.Stats = s.est.Stats()
		latest, ok := s.est.Latest()
		st.HasLatest = ok
		if ok {
			st.LastTimeMs = latest.TimeMs
			if s.staleAfter > 0 {
				age := timeutil.UnixMillis(now) - latest.TimeMs
				st.Stale = age > float64(s.staleAfter.Milliseconds())
			}
		}
	}
	if s.bridge != nil {
		snap := s.bridge.Snapshot()
		st.Bridge = &snap
	}
	httputil.WriteJSONOK(w, st)
}

// Latest is the body of /api/egomotion/latest: the estimate plus its speed
// in the requested units.
type Latest struct {
	pipeline.Estimate
	Speed          float64 `json:"speed"`
	Units          string  `json:"units"`
	CompassHeading float64 `json:"compass_heading"`
}

func (s *Server) showLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u := r.URL.Query().Get("units")
	if u == "" {
		u = units.MPS
	}
	if !units.IsValid(u) {
		httputil.BadRequest(w, "units must be one of "+units.ValidUnitsString())
		return
	}
	if s.est == nil {
		httputil.ServiceUnavailable(w, "estimator not running")
		return
	}
	latest, ok := s.est.Latest()
	if !ok {
		httputil.NotFound(w, "no estimate yet")
		return
	}
	httputil.WriteJSONOK(w, Latest{
		Estimate:       latest,
		Speed:          units.ConvertSpeed(latest.Speed(), u),
		Units:          u,
		CompassHeading: units.CompassHeading(latest.Record.Heading),
	})
}

func (s *Server) resetEstimator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.est == nil {
		httputil.ServiceUnavailable(w, "estimator not running")
		return
	}
	s.est.Reset()
	log.Printf("[api] estimator reset requested by %s", r.RemoteAddr)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "reset requested"})
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "database not configured")
		return false
	}
	return true
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	limit, err := parseLimit(r, defaultRunsLimit, 1000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	runs, err := s.db.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to list runs")
		log.Printf("[api] failed to list runs: %v", err)
		return
	}
	if runs == nil {
		runs = []db.RunSummary{}
	}
	httputil.WriteJSONOK(w, runs)
}

// RunDetail is the body of /api/runs/{id}.
type RunDetail struct {
	*db.RunSummary
	Summary report.Summary `json:"summary"`
}

func (s *Server) runOr404(w http.ResponseWriter, id string) (*db.RunSummary, bool) {
	run, err := s.db.GetRun(id)
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, "run not found")
		return nil, false
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to load run")
		log.Printf("[api] failed to load run %s: %v", id, err)
		return nil, false
	}
	return run, true
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	id := r.PathValue("id")
	if r.Method == http.MethodDelete {
		s.deleteRun(w, id)
		return
	}
	run, ok := s.runOr404(w, id)
	if !ok {
		return
	}
	rows, err := s.db.Estimates(id, 0)
	if err != nil {
		httputil.InternalServerError(w, "failed to load estimates")
		log.Printf("[api] failed to load estimates for %s: %v", id, err)
		return
	}
	httputil.WriteJSONOK(w, RunDetail{RunSummary: run, Summary: report.Summarize(rows)})
}

func (s *Server) deleteRun(w http.ResponseWriter, id string) {
	if id == s.runID {
		httputil.BadRequest(w, "cannot delete the run being recorded")
		return
	}
	err := s.db.DeleteRun(id)
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, "run not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to delete run")
		log.Printf("[api] failed to delete run %s: %v", id, err)
		return
	}
	log.Printf("[api] deleted run %s", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEstimates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	limit, err := parseLimit(r, defaultEstimatesLimit, maxEstimatesLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id := r.PathValue("id")
	if _, ok := s.runOr404(w, id); !ok {
		return
	}
	rows, err := s.db.Estimates(id, limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to load estimates")
		log.Printf("[api] failed to load estimates for %s: %v", id, err)
		return
	}
	if rows == nil {
		rows = []db.EstimateRow{}
	}
	httputil.WriteJSONOK(w, rows)
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	id := r.PathValue("id")
	if _, ok := s.runOr404(w, id); !ok {
		return
	}
	rows, err := s.db.Estimates(id, 0)
	if err != nil {
		httputil.InternalServerError(w, "failed to load estimates")
		log.Printf("[api] failed to load estimates for %s: %v", id, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderChart(w, "Ego-motion "+id, rows); err != nil {
		log.Printf("[api] failed to render chart for %s: %v", id, err)
	}
}

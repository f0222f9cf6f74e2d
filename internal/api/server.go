// Package api is the HTTP boundary: it normalises request bodies, routes
// /api calls to the point store, decision orchestrator and speed controller,
// and mounts the live streams and debug pages next to them.
package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/trackscan/internal/broadcast"
	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/httputil"
	"github.com/banshee-data/trackscan/internal/monitoring"
	"github.com/banshee-data/trackscan/internal/speed"
	"github.com/banshee-data/trackscan/internal/sweep"
	"github.com/banshee-data/trackscan/internal/tamping"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// RequestIDHeader carries the per-request id set by LoggingMiddleware.
const RequestIDHeader = "X-Request-ID"

type Server struct {
	db        *db.DB
	decisions *tamping.Orchestrator
	speed     *speed.Controller
	hub       *broadcast.Hub
	sweep     *sweep.Runner
	now       func() time.Time
}

type ServerOption func(*Server)

// WithSweepRunner exposes the sweep driver under /api/sweep.
func WithSweepRunner(r *sweep.Runner) ServerOption {
	return func(s *Server) { s.sweep = r }
}

func NewServer(database *db.DB, decisions *tamping.Orchestrator, sc *speed.Controller, hub *broadcast.Hub, opts ...ServerOption) *Server {
	s := &Server{
		db:        database,
		decisions: decisions,
		speed:     sc,
		hub:       hub,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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

// Hijack passes WebSocket upgrades through to the underlying writer.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	lrw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(lrw.ResponseWriter).Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
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

// LoggingMiddleware logs method, path, query, status, and duration, and
// stamps every response with a request id.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = xid.New().String()
		}
		w.Header().Set(RequestIDHeader, reqID)

		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms id=%s",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
			reqID,
		)
	})
}

// Router returns the /api routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/points", s.listPoints).Methods(http.MethodGet)
	api.HandleFunc("/points", s.createPoint).Methods(http.MethodPost)
	api.HandleFunc("/points/alerts", s.appendAlerts).Methods(http.MethodPost)
	api.HandleFunc("/points/instructions", s.appendInstructions).Methods(http.MethodPost)
	api.HandleFunc("/points/fetch/{pt}", s.fetchPoint).Methods(http.MethodGet)
	api.HandleFunc("/points/{id}", s.getPoint).Methods(http.MethodGet)
	api.HandleFunc("/points/{id}", s.updatePoint).Methods(http.MethodPut)
	api.HandleFunc("/points/{id}", s.deletePoint).Methods(http.MethodDelete)

	api.HandleFunc("/tamping/decision", s.decide).Methods(http.MethodPost)
	api.HandleFunc("/tamping/feedback", s.feedback).Methods(http.MethodPost)
	api.HandleFunc("/tamping/summary", s.summary).Methods(http.MethodGet)

	api.HandleFunc("/speed", s.getSpeed).Methods(http.MethodGet)
	api.HandleFunc("/speed", s.setSpeed).Methods(http.MethodPost)

	api.HandleFunc("/configs", s.listConfigs).Methods(http.MethodGet)
	api.HandleFunc("/configs/upsert", s.upsertConfig).Methods(http.MethodPost)
	api.HandleFunc("/configs/{id}", s.getConfig).Methods(http.MethodGet)

	api.HandleFunc("/stream/{topic}", s.stream).Methods(http.MethodGet)

	if s.sweep != nil {
		api.HandleFunc("/sweep", s.getSweep).Methods(http.MethodGet)
		api.HandleFunc("/sweep/start", s.startSweep).Methods(http.MethodPost)
		api.HandleFunc("/sweep/stop", s.stopSweep).Methods(http.MethodPost)
	}

	return r
}

// ServeMux assembles the full HTTP surface: the /api router, the WebSocket
// streams and the /debug pages.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.Handle("/api/", s.Router())
	mux.Handle("/ws/alerts", s.hub.WebSocketHandler(broadcast.TopicAlerts))
	mux.Handle("/ws/tamping", s.hub.WebSocketHandler(broadcast.TopicTamping))

	debug := tsweb.Debugger(mux)
	if err := s.db.AttachAdminRoutes(debug); err != nil {
		return nil, fmt.Errorf("failed to attach db admin routes: %w", err)
	}
	s.hub.AttachAdminRoutes(debug)
	debug.HandleFunc("decisions", "Decision scores by position", s.handleDecisionChart)

	return mux, nil
}

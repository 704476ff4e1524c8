// Package api serves the navigation session over HTTP.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dgmato/PercutaneousNavigation/internal/db"
	"github.com/dgmato/PercutaneousNavigation/internal/httputil"
	"github.com/dgmato/PercutaneousNavigation/internal/navigation"
	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"github.com/dgmato/PercutaneousNavigation/internal/stream"
	"github.com/dgmato/PercutaneousNavigation/internal/topology"
	"github.com/dgmato/PercutaneousNavigation/internal/tracking"
	"github.com/dgmato/PercutaneousNavigation/internal/version"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultSampleLimit is how many samples /api/distance/* return when
// neither the request nor Options give a limit.
const DefaultSampleLimit = 500

// Options wires a Server. Session is required; the rest are optional and
// their routes answer 404 when unset.
type Options struct {
	Session   *navigation.Session
	DB        *db.DB
	SessionID string // store session the samples routes default to
	Pump      *tracking.Pump
	Hub       *stream.Hub
	// SampleLimit bounds the samples and chart routes when the request
	// gives no limit. Zero means DefaultSampleLimit.
	SampleLimit int
}

type Server struct {
	session   *navigation.Session
	db        *db.DB
	sessionID string
	pump      *tracking.Pump
	hub       *stream.Hub
	limit     int
}

func NewServer(opts Options) *Server {
	limit := opts.SampleLimit
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	return &Server{
		limit:     limit,
		session:   opts.Session,
		db:        opts.DB,
		sessionID: opts.SessionID,
		pump:      opts.Pump,
		hub:       opts.Hub,
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

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/api/select", s.selectRole)
	mux.HandleFunc("/api/mode/{mode}", s.applyMode)
	mux.HandleFunc("/api/distance/samples", s.listSamples)
	mux.HandleFunc("/api/distance/chart", s.showDistanceChart)
	mux.HandleFunc("/api/distance/{action}", s.controlDistance)
	mux.HandleFunc("/api/viewpoint/{instrument}", s.toggleViewpoint)
	mux.HandleFunc("/api/visibility/{role}", s.toggleVisibility)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// writeError maps session and store errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, navigation.ErrUnknownFrame),
		errors.Is(err, db.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, navigation.ErrFeatureDisabled),
		errors.Is(err, navigation.ErrSelectionLocked),
		errors.Is(err, navigation.ErrViewpointBusy),
		errors.Is(err, navigation.ErrFrameInUse),
		errors.Is(err, topology.ErrInvalidTransition),
		errors.Is(err, topology.ErrConflict),
		errors.Is(err, proximity.ErrUnbound):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, navigation.ErrNotSelectable),
		errors.Is(err, navigation.ErrNotOwned):
		httputil.WriteJSONError(w, http.StatusForbidden, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}

type statsResponse struct {
	Tracking *tracking.Stats  `json:"tracking,omitempty"`
	Stream   *stream.HubStats `json:"stream,omitempty"`

	DroppedSamples uint64 `json:"dropped_samples"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var resp statsResponse
	if s.pump != nil {
		st := s.pump.Stats()
		resp.Tracking = &st
	}
	if s.hub != nil {
		st := s.hub.Stats()
		resp.Stream = &st
	}
	if s.session != nil {
		resp.DroppedSamples = s.session.DroppedSamples()
	}
	httputil.WriteJSONOK(w, resp)
}

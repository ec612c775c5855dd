// Package api serves the operator HTTP interface of the scanner.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/ballot.scanner/internal/cvr"
	"github.com/banshee-data/ballot.scanner/internal/httputil"
	"github.com/banshee-data/ballot.scanner/internal/orchestrator"
	"github.com/banshee-data/ballot.scanner/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Scanner is the part of the orchestrator the API drives.
type Scanner interface {
	Status() orchestrator.Snapshot
	Scan() error
	Accept() error
	Return() error
	AcknowledgeStorageError() error
	SetInterpretationMode(orchestrator.InterpretationMode) error
}

// RecordSource lists the stored cast vote records.
type RecordSource interface {
	CastVoteRecords(ctx context.Context) ([]json.RawMessage, error)
}

// Timings reports how long the scanner dwells in each state.
type Timings interface {
	Summary() []orchestrator.DwellSummary
}

type Server struct {
	scanner Scanner
	records RecordSource
	timings Timings
	// dev exposes the interpretation mode switch.
	dev bool
}

func NewServer(scanner Scanner, records RecordSource, timings Timings, dev bool) *Server {
	return &Server{
		scanner: scanner,
		records: records,
		timings: timings,
		dev:     dev,
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
	mux.HandleFunc("/api/scanner/status", s.showStatus)
	mux.HandleFunc("/api/scanner/scan", s.command(s.scanner.Scan))
	mux.HandleFunc("/api/scanner/accept", s.command(s.scanner.Accept))
	mux.HandleFunc("/api/scanner/return", s.command(s.scanner.Return))
	mux.HandleFunc("/api/scanner/storage-error/acknowledge", s.command(s.scanner.AcknowledgeStorageError))
	if s.dev {
		mux.HandleFunc("/api/scanner/interpretation-mode", s.setInterpretationMode)
	}
	mux.HandleFunc("/api/cvrs", s.exportCastVoteRecords)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.scanner.Status())
}

// command handles a POST that queues a scanner command. The response is the
// status at the time the command was queued; callers poll for the outcome.
func (s *Server) command(send func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		if err := send(); err != nil {
			writeCommandError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, s.scanner.Status())
	}
}

func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotRunning):
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, orchestrator.ErrDebugCommandsDisabled):
		httputil.WriteJSONError(w, http.StatusForbidden, err.Error())
	default:
		httputil.BadRequest(w, err.Error())
	}
}

type interpretationModeRequest struct {
	Mode orchestrator.InterpretationMode `json:"mode"`
}

func (s *Server) setInterpretationMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req interpretationModeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.scanner.SetInterpretationMode(req.Mode); err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, s.scanner.Status())
}

func (s *Server) exportCastVoteRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.records == nil {
		httputil.NotFound(w, "no record store configured")
		return
	}
	records, err := s.records.CastVoteRecords(r.Context())
	if err != nil {
		httputil.InternalServerError(w, "failed to load cast vote records: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="cast-vote-records.jsonl"`)
	if err := cvr.WriteJSONL(w, records); err != nil {
		log.Printf("failed to write cast vote records: %v", err)
	}
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":   version.Version,
		"git_sha":   version.GitSHA,
		"buildtime": version.BuildTime,
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ballot.scanner/internal/orchestrator"
	"github.com/banshee-data/ballot.scanner/internal/testutil"
)

type fakeScanner struct {
	mu       sync.Mutex
	snapshot orchestrator.Snapshot
	commands []string
	err      error
	allowDev bool
}

func (f *fakeScanner) Status() orchestrator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeScanner) queue(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, name)
	return nil
}

func (f *fakeScanner) Scan() error   { return f.queue("scan") }
func (f *fakeScanner) Accept() error { return f.queue("accept") }
func (f *fakeScanner) Return() error { return f.queue("return") }

func (f *fakeScanner) AcknowledgeStorageError() error { return f.queue("ack") }

func (f *fakeScanner) SetInterpretationMode(mode orchestrator.InterpretationMode) error {
	switch mode {
	case orchestrator.ModeInterpret:
	case orchestrator.ModeSkip:
		if !f.allowDev {
			return orchestrator.ErrDebugCommandsDisabled
		}
	default:
		return errors.New("unknown interpretation mode")
	}
	return f.queue("mode:" + string(mode))
}

type fakeRecords struct {
	records []json.RawMessage
	err     error
}

func (f fakeRecords) CastVoteRecords(context.Context) ([]json.RawMessage, error) {
	return f.records, f.err
}

type fakeTimings []orchestrator.DwellSummary

func (f fakeTimings) Summary() []orchestrator.DwellSummary { return f }

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	mux := s.ServeMux()
	s.AttachDebugRoutes(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	LoggingMiddleware(mux).ServeHTTP(rec, req)
	return rec
}

func TestShowStatus(t *testing.T) {
	scanner := &fakeScanner{snapshot: orchestrator.Snapshot{
		State:              orchestrator.StateNeedsReview,
		BallotsCounted:     4,
		InterpretationMode: orchestrator.ModeInterpret,
		Interpretation: &orchestrator.InterpretationSummary{
			Type: orchestrator.NeedsReviewSheet,
		},
	}}
	rec := serve(NewServer(scanner, nil, nil, false), http.MethodGet, "/api/scanner/status", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "needs_review", got["state"])
	assert.Equal(t, float64(4), got["ballotsCounted"])
	assert.Equal(t, "interpret", got["interpretationMode"])
	assert.Equal(t, "NeedsReviewSheet", got["interpretation"].(map[string]interface{})["type"])
}

func TestShowStatus_MethodNotAllowed(t *testing.T) {
	rec := serve(NewServer(&fakeScanner{}, nil, nil, false), http.MethodPost, "/api/scanner/status", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestCommands(t *testing.T) {
	tests := []struct {
		path    string
		command string
	}{
		{"/api/scanner/scan", "scan"},
		{"/api/scanner/accept", "accept"},
		{"/api/scanner/return", "return"},
		{"/api/scanner/storage-error/acknowledge", "ack"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			scanner := &fakeScanner{snapshot: orchestrator.Snapshot{State: orchestrator.StateReadyToScan}}
			s := NewServer(scanner, nil, nil, false)

			rec := serve(s, http.MethodPost, tt.path, "")
			testutil.AssertStatusCode(t, rec.Code, http.StatusAccepted)
			assert.Contains(t, rec.Body.String(), `"state":"ready_to_scan"`)
			assert.Equal(t, []string{tt.command}, scanner.commands)

			rec = serve(s, http.MethodGet, tt.path, "")
			testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
		})
	}
}

func TestCommands_NotRunning(t *testing.T) {
	scanner := &fakeScanner{err: orchestrator.ErrNotRunning}
	rec := serve(NewServer(scanner, nil, nil, false), http.MethodPost, "/api/scanner/scan", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
	assert.Contains(t, rec.Body.String(), "orchestrator is not running")
}

func TestInterpretationMode(t *testing.T) {
	t.Run("not routed outside dev", func(t *testing.T) {
		rec := serve(NewServer(&fakeScanner{}, nil, nil, false), http.MethodPost, "/api/scanner/interpretation-mode", `{"mode":"skip"}`)
		testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	})

	tests := []struct {
		name     string
		allowDev bool
		body     string
		want     int
	}{
		{"skip", true, `{"mode":"skip"}`, http.StatusAccepted},
		{"interpret", false, `{"mode":"interpret"}`, http.StatusAccepted},
		{"skip disabled", false, `{"mode":"skip"}`, http.StatusForbidden},
		{"unknown", true, `{"mode":"guess"}`, http.StatusBadRequest},
		{"malformed", true, `{"mode":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &fakeScanner{allowDev: tt.allowDev}
			rec := serve(NewServer(scanner, nil, nil, true), http.MethodPost, "/api/scanner/interpretation-mode", tt.body)
			testutil.AssertStatusCode(t, rec.Code, tt.want)
		})
	}
}

func TestExportCastVoteRecords(t *testing.T) {
	records := fakeRecords{records: []json.RawMessage{
		json.RawMessage(`{"BallotId":"a"}`),
		json.RawMessage(`{"BallotId":"b"}`),
	}}
	rec := serve(NewServer(&fakeScanner{}, records, nil, false), http.MethodGet, "/api/cvrs", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"BallotId\":\"a\"}\n{\"BallotId\":\"b\"}\n", rec.Body.String())
}

func TestExportCastVoteRecords_Errors(t *testing.T) {
	rec := serve(NewServer(&fakeScanner{}, fakeRecords{err: errors.New("db closed")}, nil, false), http.MethodGet, "/api/cvrs", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
	assert.Contains(t, rec.Body.String(), "db closed")

	rec = serve(NewServer(&fakeScanner{}, nil, nil, false), http.MethodGet, "/api/cvrs", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestTimings(t *testing.T) {
	timings := fakeTimings{
		{State: orchestrator.StateNoPaper, Count: 3, Mean: 1200, P50: 1100, P95: 2000, Max: 2100},
		{State: orchestrator.StateScanning, Count: 3, Mean: 800, P50: 790, P95: 950, Max: 990},
	}
	s := NewServer(&fakeScanner{}, nil, timings, false)

	rec := serve(s, http.MethodGet, "/debug/timings.json", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var got []orchestrator.DwellSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []orchestrator.DwellSummary(timings), got)

	rec = serve(s, http.MethodGet, "/debug/timings", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Time in state")
	assert.Contains(t, rec.Body.String(), "no_paper")
}

func TestTimings_NotCollected(t *testing.T) {
	rec := serve(NewServer(&fakeScanner{}, nil, nil, false), http.MethodGet, "/debug/timings", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestShowVersion(t *testing.T) {
	rec := serve(NewServer(&fakeScanner{}, nil, nil, false), http.MethodGet, "/api/version", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"version":"dev"`)
}

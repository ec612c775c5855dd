package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/ballot.scanner/internal/httputil"
	"github.com/banshee-data/ballot.scanner/internal/orchestrator"
)

// Client talks to a running scanner's HTTP API.
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = httputil.NewStandardClient(nil)
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: c}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if err := httputil.CheckResponse(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) snapshot(ctx context.Context, method, path string, body interface{}) (orchestrator.Snapshot, error) {
	var snap orchestrator.Snapshot
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("failed to decode status: %w", err)
	}
	return snap, nil
}

func (c *Client) Status(ctx context.Context) (orchestrator.Snapshot, error) {
	return c.snapshot(ctx, http.MethodGet, "/api/scanner/status", nil)
}

func (c *Client) Scan(ctx context.Context) (orchestrator.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/scanner/scan", nil)
}

func (c *Client) Accept(ctx context.Context) (orchestrator.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/scanner/accept", nil)
}

func (c *Client) Return(ctx context.Context) (orchestrator.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/scanner/return", nil)
}

// AcknowledgeStorageError clears the storage error in the scanner status.
func (c *Client) AcknowledgeStorageError(ctx context.Context) (orchestrator.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/scanner/storage-error/acknowledge", nil)
}

func (c *Client) SetInterpretationMode(ctx context.Context, mode orchestrator.InterpretationMode) (orchestrator.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/scanner/interpretation-mode", interpretationModeRequest{Mode: mode})
}

// ExportCastVoteRecords copies the JSONL export to w.
func (c *Client) ExportCastVoteRecords(ctx context.Context, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/cvrs", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"digestbot/api"
	"digestbot/history"
	"digestbot/types"
)

// DefaultBaseURL is the address of a locally running "digestbot serve".
const DefaultBaseURL = "http://localhost:8080"

// Client is a thin HTTP client for the read-only deduplication API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL, or DefaultBaseURL when empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSONRequest(ctx, http.MethodGet, "/api/health", nil, nil)
}

// Check labels articles against the server's index snapshot.
func (c *Client) Check(ctx context.Context, articles []types.Article) (*api.CheckResponse, error) {
	var resp api.CheckResponse
	if err := c.doJSONRequest(ctx, http.MethodPost, "/api/deduplication/check", api.CheckRequest{Articles: articles}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(articles) {
		return nil, fmt.Errorf("server returned %d results for %d articles", len(resp.Results), len(articles))
	}
	return &resp, nil
}

// Count describes the snapshot the server has loaded.
func (c *Client) Count(ctx context.Context) (*api.CountResponse, error) {
	var resp api.CountResponse
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/deduplication/count", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reload asks the server to re-read the index file.
func (c *Client) Reload(ctx context.Context) (*api.CountResponse, error) {
	var resp api.CountResponse
	if err := c.doJSONRequest(ctx, http.MethodPost, "/api/deduplication/reload", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Runs lists recorded runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]history.Run, error) {
	var runs []history.Run
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/runs?limit="+strconv.Itoa(limit), nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *Client) doJSONRequest(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

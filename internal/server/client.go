package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const httpTimeout = 5 * time.Second

// Client talks to a running nest daemon.
type Client struct {
	http      *http.Client
	serverURL string
}

// NewClient creates a client for the daemon listening on addr (host:port).
// NEST_URL overrides addr.
func NewClient(addr string) *Client {
	url := os.Getenv("NEST_URL")
	if url == "" {
		url = "http://" + addr
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(url, "/"),
	}
}

// Get sends a GET request. Returns response body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}

// Health fetches the daemon's health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	data, err := c.Get(ctx, "/api/health")
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

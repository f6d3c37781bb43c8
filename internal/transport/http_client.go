package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/skeinsync/skein/internal/config"
	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
)

// HTTPClient fetches tree snapshots from the API.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	token     string
	logger    *events.Logger

	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client with HTTP/2 enabled.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) { c.token = token }

// Token returns the current authentication token.
func (c *HTTPClient) Token() string { return c.token }

// FetchSnapshot downloads the full node list. Every record arrives as
// a node-created event with encrypted key and attribute material.
func (c *HTTPClient) FetchSnapshot(ctx context.Context) ([]models.RemoteEvent, error) {
	url := c.baseURL + "/v1/nodes"

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		snapshot, err := c.fetchOnce(ctx, url)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err
		c.logger.WithError(err).WithField("attempt", attempt+1).Warn("Snapshot fetch failed")
	}
	return nil, fmt.Errorf("fetch snapshot after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *HTTPClient) fetchOnce(ctx context.Context, url string) ([]models.RemoteEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("snapshot fetch: HTTP %d: %s", resp.StatusCode, body)
	}

	var snapshot struct {
		Nodes []models.RemoteEvent `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	for i := range snapshot.Nodes {
		snapshot.Nodes[i].Type = models.RemoteNodeCreated
	}
	c.logger.WithField("nodes", len(snapshot.Nodes)).Debug("Snapshot fetched")
	return snapshot.Nodes, nil
}

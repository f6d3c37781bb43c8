// Package transport adapts the remote protocol collaborator: a
// websocket stream of tree-mutation events plus an HTTP endpoint for
// full snapshot fetches. The tree core only ever sees decoded
// models.RemoteEvent values.
package transport

import (
	"context"

	"github.com/skeinsync/skein/internal/config"
	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
)

// Transport delivers remote-tree mutations and snapshots.
type Transport interface {
	// FetchSnapshot retrieves the full node list (encrypted keys and
	// attributes included) for initial tree construction.
	FetchSnapshot(ctx context.Context) ([]models.RemoteEvent, error)

	// StreamEvents opens the remote event stream. The channel closes
	// when the stream ends or ctx is cancelled.
	StreamEvents(ctx context.Context) (<-chan models.RemoteEvent, error)

	// SetToken installs the session auth token.
	SetToken(token string)

	// Close releases resources.
	Close() error
}

// DefaultTransport implements Transport over HTTP + websocket.
type DefaultTransport struct {
	httpClient *HTTPClient
	wsClient   *WSClient
	eventURL   string
	logger     *events.Logger
}

// New creates a transport instance.
func New(cfg *config.APIConfig, logger *events.Logger) *DefaultTransport {
	return &DefaultTransport{
		httpClient: NewHTTPClient(cfg, logger),
		eventURL:   cfg.EventURL,
		logger:     logger,
	}
}

// FetchSnapshot forwards to the HTTP client.
func (t *DefaultTransport) FetchSnapshot(ctx context.Context) ([]models.RemoteEvent, error) {
	return t.httpClient.FetchSnapshot(ctx)
}

// StreamEvents opens a websocket stream of remote events.
func (t *DefaultTransport) StreamEvents(ctx context.Context) (<-chan models.RemoteEvent, error) {
	t.wsClient = NewWSClient(t.eventURL, t.httpClient.Token(), t.logger)
	if err := t.wsClient.Connect(ctx); err != nil {
		return nil, err
	}
	return t.wsClient.Events(), nil
}

// SetToken installs the session auth token.
func (t *DefaultTransport) SetToken(token string) {
	t.httpClient.SetToken(token)
}

// Close shuts down any open stream.
func (t *DefaultTransport) Close() error {
	if t.wsClient != nil {
		return t.wsClient.Close()
	}
	return nil
}

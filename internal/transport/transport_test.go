package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinsync/skein/internal/config"
	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
	"github.com/skeinsync/skein/internal/transport"
)

func apiConfig(baseURL string) *config.APIConfig {
	return &config.APIConfig{
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		UserAgent:  "skein-test",
	}
}

func TestHTTPClient_FetchSnapshot(t *testing.T) {
	var gotAuth, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/nodes", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"nodes": []models.RemoteEvent{
				{Handle: 1, Parent: models.UndefHandle, NodeType: models.TypeFolder},
				{Handle: 2, Parent: 1, NodeType: models.TypeFile, Size: 42},
			},
		})
	}))
	defer server.Close()

	client := transport.NewHTTPClient(apiConfig(server.URL), events.NewTestLogger())
	client.SetToken("session-token")

	snapshot, err := client.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	assert.Equal(t, "Bearer session-token", gotAuth)
	assert.Equal(t, "skein-test", gotAgent)
	// Every snapshot record arrives as a creation.
	assert.Equal(t, models.RemoteNodeCreated, snapshot[0].Type)
	assert.Equal(t, models.RemoteNodeCreated, snapshot[1].Type)
	assert.Equal(t, models.Handle(2), snapshot[1].Handle)
}

func TestHTTPClient_FetchSnapshotRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"nodes":[]}`))
	}))
	defer server.Close()

	client := transport.NewHTTPClient(apiConfig(server.URL), events.NewTestLogger())
	snapshot, err := client.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snapshot)
	assert.Equal(t, 3, attempts)
}

func TestHTTPClient_FetchSnapshotExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := apiConfig(server.URL)
	cfg.MaxRetries = 1
	client := transport.NewHTTPClient(cfg, events.NewTestLogger())

	_, err := client.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestWSClient_StreamsEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for i := 1; i <= 2; i++ {
			ev := models.RemoteEvent{
				Type:   models.RemoteNodeCreated,
				Handle: models.Handle(i),
			}
			require.NoError(t, conn.WriteJSON(ev))
		}
	}))
	defer server.Close()

	client := transport.NewWSClient(server.URL, "tok", events.NewTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	defer client.Close()

	var got []models.RemoteEvent
	for ev := range client.Events() {
		got = append(got, ev)
		if len(got) == 2 {
			break
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, models.Handle(1), got[0].Handle)
	assert.Equal(t, models.Handle(2), got[1].Handle)
	assert.False(t, got[0].Timestamp.IsZero(), "missing timestamps are filled in")
}

func TestMockTransport(t *testing.T) {
	mock := &transport.MockTransport{
		Snapshot: []models.RemoteEvent{{Handle: 1}},
		Stream:   []models.RemoteEvent{{Handle: 2}},
	}

	snap, err := mock.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap, 1)
	assert.Equal(t, 1, mock.FetchCalls)

	ch, err := mock.StreamEvents(context.Background())
	require.NoError(t, err)
	var got []models.RemoteEvent
	for ev := range ch {
		got = append(got, ev)
	}
	assert.Len(t, got, 1)

	require.NoError(t, mock.Close())
	assert.True(t, mock.Closed)
}

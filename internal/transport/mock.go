package transport

import (
	"context"

	"github.com/skeinsync/skein/internal/models"
)

// MockTransport replays scripted events for tests.
type MockTransport struct {
	Snapshot    []models.RemoteEvent
	SnapshotErr error
	Stream      []models.RemoteEvent

	FetchCalls  int
	StreamCalls int
	Closed      bool
	token       string
}

// FetchSnapshot returns the scripted snapshot.
func (m *MockTransport) FetchSnapshot(ctx context.Context) ([]models.RemoteEvent, error) {
	m.FetchCalls++
	if m.SnapshotErr != nil {
		return nil, m.SnapshotErr
	}
	return m.Snapshot, nil
}

// StreamEvents replays the scripted stream then closes the channel.
func (m *MockTransport) StreamEvents(ctx context.Context) (<-chan models.RemoteEvent, error) {
	m.StreamCalls++
	ch := make(chan models.RemoteEvent, len(m.Stream))
	for _, ev := range m.Stream {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// SetToken records the token.
func (m *MockTransport) SetToken(token string) { m.token = token }

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Robinemad1/EEETrading/internal/model"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()

	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	hub.Start()

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func waitForObservers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Stats().Observers == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastsInventoryUpdates(t *testing.T) {
	hub, url := newTestHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, url)
	b := dial(t, ctx, url)
	waitForObservers(t, hub, 2)

	hub.NotifyInventoryUpdate(model.InventoryItem{ID: 7, Name: "Widget", Quantity: 12})

	for _, conn := range []*websocket.Conn{a, b} {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)

		var msg struct {
			Type string              `json:"type"`
			Data model.InventoryItem `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, MessageTypeInventoryUpdate, msg.Type)
		assert.Equal(t, int64(7), msg.Data.ID)
		assert.Equal(t, 12, msg.Data.Quantity)
	}

	require.Eventually(t, func() bool { return hub.Stats().Sent == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RemovesDisconnectedObservers(t *testing.T) {
	hub, url := newTestHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	waitForObservers(t, hub, 1)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	waitForObservers(t, hub, 0)

	// Notifying with nobody listening is harmless.
	hub.NotifyInventoryUpdate(model.InventoryItem{ID: 1})
}

func TestHub_DropsWhenQueueFull(t *testing.T) {
	// No broadcast loop: the queue fills up.
	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer hub.Close()

	for i := range broadcastBuffer + 5 {
		hub.NotifyInventoryUpdate(model.InventoryItem{ID: int64(i)})
	}

	assert.Equal(t, int64(5), hub.Stats().Dropped)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
	gate chan struct{} // when set, Publish waits on it
}

func (p *fakePublisher) Publish(ctx context.Context, data []byte) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, data)
	return nil
}

func (p *fakePublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePublisher) published() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.msgs...)
}

// newPublishingHub runs only the publish loop, so messages falling back to
// local delivery stay visible in the broadcast queue.
func newPublishingHub(t *testing.T, pub Publisher) *Hub {
	t.Helper()

	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	hub.SetPublisher(pub)
	hub.wg.Add(1)
	go hub.publishLoop()
	t.Cleanup(hub.Close)
	return hub
}

func TestHub_UsesPublisherWhenSet(t *testing.T) {
	pub := &fakePublisher{}
	hub := newPublishingHub(t, pub)
	assert.True(t, hub.Stats().Relayed)

	hub.NotifyInventoryUpdate(model.InventoryItem{ID: 3, Name: "Bolt"})
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, string(pub.published()[0]), `"type":"inventory_update"`)
	assert.Empty(t, hub.broadcast, "relay delivers back to the hub, not the caller")

	pub.setErr(errors.New("redis: connection refused"))
	hub.NotifyInventoryUpdate(model.InventoryItem{ID: 4})
	require.Eventually(t, func() bool { return len(hub.broadcast) == 1 }, 2*time.Second, 5*time.Millisecond,
		"falls back to local delivery")
	assert.Equal(t, int64(1), hub.Stats().Unrelayed)
}

func TestHub_SlowPublisherDoesNotBlockNotify(t *testing.T) {
	pub := &fakePublisher{gate: make(chan struct{})}
	defer close(pub.gate)
	hub := newPublishingHub(t, pub)

	start := time.Now()
	for i := range publishBuffer + 10 {
		hub.NotifyInventoryUpdate(model.InventoryItem{ID: int64(i)})
	}
	assert.Less(t, time.Since(start), time.Second, "callers never wait on the publisher")

	// One message is held by the stalled publish, the queue holds the next
	// publishBuffer and the rest go straight to local observers.
	unrelayed := hub.Stats().Unrelayed
	assert.GreaterOrEqual(t, unrelayed, int64(9))
	assert.LessOrEqual(t, unrelayed, int64(10))
	assert.Len(t, hub.broadcast, int(unrelayed))
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-dm/internal/metrics"
	"social-dm/internal/registry"
	"social-dm/internal/storage"
	mytesting "social-dm/internal/testing"
)

const (
	wait  = 2 * time.Second
	quiet = 50 * time.Millisecond
)

type harness struct {
	store    storage.MessageStore
	registry *registry.Registry
	metrics  *metrics.Metrics
	tracker  *Tracker
	router   *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.NewSQLite(zap.NewNop().Sugar(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(store.Close)

	return newHarnessWithStore(t, store)
}

func newHarnessWithStore(t *testing.T, store storage.MessageStore) *harness {
	t.Helper()

	logger := zap.NewNop().Sugar()
	reg := registry.New()
	m := metrics.New(prometheus.NewRegistry())
	tracker := NewTracker(logger, store, reg, m)

	return &harness{
		store:    store,
		registry: reg,
		metrics:  m,
		tracker:  tracker,
		router:   NewRouter(logger, store, reg, tracker, m),
	}
}

type client struct {
	pipe    *mytesting.Pipe
	session *Session
	done    chan struct{}
	err     error
}

// connect runs a session for userID and returns once it is registered
func (h *harness) connect(t *testing.T, userID int64) *client {
	t.Helper()

	c := &client{pipe: mytesting.NewPipe(), done: make(chan struct{})}
	s, err := h.router.NewSession(context.Background(), userID, c.pipe)
	require.NoError(t, err)
	c.session = s

	go func() {
		c.err = s.Run()
		close(c.done)
	}()
	t.Cleanup(func() {
		_ = c.pipe.Close()
		<-c.done
	})

	require.Eventually(t, func() bool {
		conn, ok := h.registry.Lookup(userID)
		return ok && conn == registry.Conn(s)
	}, wait, time.Millisecond)

	return c
}

func (h *harness) append(t *testing.T, sender, receiver int64, content string) storage.Message {
	t.Helper()

	m, err := h.store.Append(context.Background(), storage.Message{SenderID: sender, ReceiverID: receiver, Content: content})
	require.NoError(t, err)
	return m
}

func (c *client) send(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, c.pipe.Push([]byte(frame)))
}

func (c *client) sendMessage(t *testing.T, from, to int64, content string) {
	t.Helper()
	c.send(t, fmt.Sprintf(`{"type":"message","senderId":%d,"receiverId":%d,"content":%q}`, from, to, content))
}

func (c *client) sendReceipt(t *testing.T, messageID int64) {
	t.Helper()
	c.send(t, fmt.Sprintf(`{"type":"read_receipt","messageId":%d}`, messageID))
}

func (c *client) nextMessage(t *testing.T) MessageFrame {
	t.Helper()

	data, ok := c.pipe.Next(wait)
	require.True(t, ok, "expected a message frame")

	var frame MessageFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, FrameMessage, frame.Type, string(data))
	return frame
}

func (c *client) nextReceipt(t *testing.T) ReceiptFrame {
	t.Helper()

	data, ok := c.pipe.Next(wait)
	require.True(t, ok, "expected a read receipt frame")

	var frame ReceiptFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, FrameReadReceipt, frame.Type, string(data))
	return frame
}

func (c *client) expectSilence(t *testing.T) {
	t.Helper()

	data, ok := c.pipe.Next(quiet)
	require.False(t, ok, "unexpected frame %s", data)
}

// hangup closes the client side and returns the error Run ended with
func (c *client) hangup(t *testing.T) error {
	t.Helper()

	require.NoError(t, c.pipe.Close())
	select {
	case <-c.done:
	case <-time.After(wait):
		t.Fatal("session did not stop")
	}
	return c.err
}

func (h *harness) unread(t *testing.T, userID int64) []storage.Message {
	t.Helper()

	unread, err := h.store.UnreadFor(context.Background(), userID)
	require.NoError(t, err)
	return unread
}

// flakyStore fails the next failAppend calls of Append
type flakyStore struct {
	storage.MessageStore
	failAppend atomic.Int32
}

var errFlaky = errors.New("connection reset by peer")

func (f *flakyStore) Append(ctx context.Context, m storage.Message) (storage.Message, error) {
	if f.failAppend.Add(-1) >= 0 {
		return storage.Message{}, errFlaky
	}
	return f.MessageStore.Append(ctx, m)
}

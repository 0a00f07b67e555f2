// Package chat runs the per-connection protocol of direct messaging: the handshake,
// the drain of unread messages, live forwarding and read receipts.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-dm/internal/metrics"
	"social-dm/internal/registry"
	"social-dm/internal/storage"
	"social-dm/internal/storage/zapadapter"
)

var (
	ErrInvalidIdentity = errors.New("user id must be greater than zero")
	ErrSessionClosed   = errors.New("session is closed")
)

// Transport is one bidirectional frame channel. ReadMessage blocks until a frame
// arrives or the channel fails; Close must unblock a pending ReadMessage.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Router owns no connection state itself; each call to Serve runs one Session.
type Router struct {
	logger   *zap.SugaredLogger
	store    storage.MessageStore
	registry *registry.Registry
	tracker  *Tracker
	metrics  *metrics.Metrics
	decoder  decoder
}

func NewRouter(logger *zap.SugaredLogger, store storage.MessageStore, reg *registry.Registry, tracker *Tracker, m *metrics.Metrics) *Router {
	return &Router{
		logger:   logger,
		store:    store,
		registry: reg,
		tracker:  tracker,
		metrics:  m,
	}
}

// Serve accepts userID on t and blocks until the transport disconnects.
// The returned error is the one that ended the read loop.
func (r *Router) Serve(ctx context.Context, userID int64, t Transport) error {
	s, err := r.NewSession(ctx, userID, t)
	if err != nil {
		return err
	}
	return s.Run()
}

// NewSession performs the handshake. On failure the transport is closed.
func (r *Router) NewSession(ctx context.Context, userID int64, t Transport) (*Session, error) {
	id := uuid.NewString()
	ctx = zapadapter.NewContextWithUser(zapadapter.NewContextWithID(ctx, id), userID)
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:        id,
		userID:    userID,
		router:    r,
		transport: t,
		ctx:       ctx,
		cancel:    cancel,
		logger:    r.logger.With("session_id", id, "user_id", userID),
	}
	s.state.Store(int32(StateConnecting))

	if userID < 1 {
		s.state.Store(int32(StateClosed))
		cancel()
		_ = t.Close()
		return nil, fmt.Errorf("%w: got %d", ErrInvalidIdentity, userID)
	}
	s.state.Store(int32(StateHandshakeOK))

	return s, nil
}

// Session is the registry entry of one connected user
type Session struct {
	id        string
	userID    int64
	router    *Router
	transport Transport
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.SugaredLogger

	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() int64 { return s.userID }

func (s *Session) State() State { return State(s.state.Load()) }

// Send writes one frame. Writes from different goroutines are serialized.
func (s *Session) Send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	return s.transport.WriteMessage(payload)
}

// Close closes the transport, which ends the read loop of Run
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.transport.Close()
	})
	return s.closeErr
}

// Run registers the session, drains unread messages and then serves inbound frames
// until the transport fails. It must be called once, after a successful handshake.
func (s *Session) Run() error {
	if !s.state.CompareAndSwap(int32(StateHandshakeOK), int32(StateStreaming)) {
		return fmt.Errorf("session %s: cannot run in state %s", s.id, s.State())
	}
	defer s.finish()

	r := s.router
	r.metrics.Connected()
	prev, replaced := r.registry.Register(s.userID, s)
	if replaced {
		r.metrics.Supersede()
		s.logger.Infow("closing superseded connection")
		if err := prev.Close(); err != nil {
			s.logger.Debugw("superseded connection close failed", "error", err)
		}
	}

	if err := s.drain(); err != nil {
		return err
	}

	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			return err
		}
		s.handle(data)
	}
}

func (s *Session) finish() {
	s.writeMu.Lock()
	s.state.Store(int32(StateClosed))
	s.writeMu.Unlock()

	if !s.router.registry.Deregister(s.userID, s) {
		s.logger.Debugw("session was already superseded")
	}
	s.router.metrics.Disconnected()
	s.cancel()
	_ = s.Close()
	s.logger.Infow("connection closed")
}

// drain delivers every unread message addressed to the user and marks each read after its send.
// Only a transport failure is returned.
func (s *Session) drain() error {
	r := s.router

	unread, err := r.store.UnreadFor(s.ctx, s.userID)
	if err != nil {
		r.metrics.StorageError("unread")
		s.logger.Errorw("could not load unread messages", "error", err)
		return nil
	}

	for _, m := range unread {
		if err := s.Send(encodeMessage(m)); err != nil {
			return fmt.Errorf("drain message %d: %w", m.ID, err)
		}
		r.metrics.Drain(1)
		if _, err := r.tracker.AcknowledgeMessage(s.ctx, m); err != nil {
			s.logger.Errorw("could not mark drained message read", "message_id", m.ID, "error", err)
		}
	}

	s.logger.Debugw("drained unread messages", "count", len(unread))
	return nil
}

func (s *Session) handle(data []byte) {
	in, err := s.router.decoder.decode(data)
	if err != nil {
		s.drop(dropReason(err), err)
		return
	}

	switch in.frameType {
	case FrameMessage:
		s.handleMessage(in.message)
	case FrameReadReceipt:
		s.handleReceipt(in.messageID)
	}
}

func (s *Session) handleMessage(m storage.Message) {
	r := s.router

	if m.SenderID != s.userID {
		s.drop(dropSenderMismatch, fmt.Errorf("sender %d does not own session", m.SenderID))
		return
	}

	stored, err := r.store.Append(s.ctx, m)
	if err != nil {
		if errors.Is(err, storage.ErrMessageInvalid) {
			s.drop(dropInvalidField, err)
			return
		}
		r.metrics.StorageError("append")
		s.logger.Errorw("could not store message", "receiver_id", m.ReceiverID, "error", err)
		return
	}
	r.metrics.Stored()

	payload := encodeMessage(stored)
	delivery := forward(r.registry, stored.ReceiverID, payload)
	r.metrics.Forward(delivery.String())
	s.logger.Debugw("message stored",
		"message_id", stored.ID,
		"receiver_id", stored.ReceiverID,
		"delivery", delivery.String())

	// a message to oneself was already delivered by the forward
	if stored.ReceiverID != stored.SenderID {
		if echo := forward(r.registry, stored.SenderID, payload); echo != Delivered {
			s.logger.Debugw("echo not delivered", "message_id", stored.ID, "delivery", echo.String())
		}
	}
}

func (s *Session) handleReceipt(messageID int64) {
	receipt, err := s.router.tracker.Acknowledge(s.ctx, messageID, s.userID)
	if err != nil {
		s.logger.Errorw("could not apply read receipt", "message_id", messageID, "error", err)
		return
	}
	s.logger.Debugw("read receipt applied", "message_id", messageID, "outcome", receipt.String())
}

func (s *Session) drop(reason string, err error) {
	s.router.metrics.Drop(reason)
	s.logger.Debugw("dropping frame", "reason", reason, "error", err)
}

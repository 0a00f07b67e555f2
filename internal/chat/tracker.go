package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"social-dm/internal/metrics"
	"social-dm/internal/registry"
	"social-dm/internal/storage"
)

// Receipt is the outcome of acknowledging a message
type Receipt int

const (
	// ReceiptMarked means this call flipped the read flag and notified the sender
	ReceiptMarked Receipt = iota
	ReceiptAlreadyRead
	ReceiptUnknown
	// ReceiptForeign means the reader is not the receiver of the message
	ReceiptForeign
)

func (r Receipt) String() string {
	switch r {
	case ReceiptMarked:
		return "marked"
	case ReceiptAlreadyRead:
		return "already_read"
	case ReceiptUnknown:
		return "unknown"
	case ReceiptForeign:
		return "foreign"
	default:
		return "invalid"
	}
}

// Tracker marks messages read. Only the call performing the false to true
// transition notifies the original sender, so a message yields at most one notification.
type Tracker struct {
	logger   *zap.SugaredLogger
	store    storage.MessageStore
	registry *registry.Registry
	metrics  *metrics.Metrics
}

func NewTracker(logger *zap.SugaredLogger, store storage.MessageStore, reg *registry.Registry, m *metrics.Metrics) *Tracker {
	return &Tracker{
		logger:   logger,
		store:    store,
		registry: reg,
		metrics:  m,
	}
}

// Acknowledge records that readerID has read messageID.
// Unknown ids and repeated receipts are outcomes, not errors.
func (t *Tracker) Acknowledge(ctx context.Context, messageID, readerID int64) (Receipt, error) {
	m, err := t.store.Message(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotExist) {
			return t.outcome(ReceiptUnknown), nil
		}
		t.metrics.StorageError("message")
		return 0, fmt.Errorf("could not load message %d: %w", messageID, err)
	}

	if m.ReceiverID != readerID {
		return t.outcome(ReceiptForeign), nil
	}
	if m.Read {
		return t.outcome(ReceiptAlreadyRead), nil
	}

	return t.mark(ctx, messageID)
}

// AcknowledgeMessage skips the lookup. The caller must already hold m and be its receiver.
func (t *Tracker) AcknowledgeMessage(ctx context.Context, m storage.Message) (Receipt, error) {
	if m.Read {
		return t.outcome(ReceiptAlreadyRead), nil
	}
	return t.mark(ctx, m.ID)
}

func (t *Tracker) mark(ctx context.Context, messageID int64) (Receipt, error) {
	m, changed, err := t.store.MarkRead(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotExist) {
			return t.outcome(ReceiptUnknown), nil
		}
		t.metrics.StorageError("mark_read")
		return 0, fmt.Errorf("could not mark message %d read: %w", messageID, err)
	}
	if !changed {
		return t.outcome(ReceiptAlreadyRead), nil
	}

	receipt := t.outcome(ReceiptMarked)
	delivery := forward(t.registry, m.SenderID, encodeReceipt(m.ID))
	t.logger.Debugw("read receipt",
		"message_id", m.ID,
		"sender_id", m.SenderID,
		"notification", delivery.String())

	return receipt, nil
}

func (t *Tracker) outcome(r Receipt) Receipt {
	t.metrics.Receipt(r.String())
	return r
}

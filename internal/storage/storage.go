// Package storage is the durable record of direct messages and their read state.
// Two backends are provided: Store on Postgres through pgxpool and SQLiteStore on database/sql.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrMessageNotExist = errors.New("message does not exist")
	ErrMessageInvalid  = errors.New("invalid message")
	ErrNoMessages      = errors.New("conversation has no messages")
	ErrUnknownDriver   = errors.New("unknown storage driver")
)

// MessageStore is the contract every backend fulfils.
// Append and MarkRead are single atomic operations; reads observe the latest committed write.
type MessageStore interface {
	// Append stamps m with a new id and sent time, forces Read to false and persists it
	Append(ctx context.Context, m Message) (Message, error)
	// Message returns a message by id or ErrMessageNotExist
	Message(ctx context.Context, id int64) (Message, error)
	// MarkRead flips the read flag of id. The returned bool is true only for the call
	// that performed the false to true transition.
	MarkRead(ctx context.Context, id int64) (Message, bool, error)
	// UnreadFor returns unread messages addressed to userID, oldest first
	UnreadFor(ctx context.Context, userID int64) ([]Message, error)
	// History returns the messages exchanged by a and b in both directions, oldest first
	History(ctx context.Context, a, b int64) ([]Message, error)
	// CountUnreadFrom counts unread messages sent by partner to user
	CountUnreadFrom(ctx context.Context, partner, user int64) (int64, error)
	// Partners returns the distinct ids userID exchanged messages with
	Partners(ctx context.Context, userID int64) ([]int64, error)
	// Latest returns the most recent message between a and b or ErrNoMessages
	Latest(ctx context.Context, a, b int64) (Message, error)
	// Seed bulk-inserts already stamped messages and returns the number of rows written
	Seed(ctx context.Context, messages []Message) (int64, error)
	Migrate(ctx context.Context) error
	Close()
}

var (
	_ MessageStore = (*Store)(nil)
	_ MessageStore = (*SQLiteStore)(nil)
)

// Open returns the backend selected by cfg.Driver
func Open(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (MessageStore, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return New(ctx, logger, cfg, opts...)
	case DriverSQLite:
		return NewSQLite(logger, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

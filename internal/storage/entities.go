package storage

import (
	"fmt"
	"time"
)

// Kind discriminates the payload carried in Message.Content
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindPost  Kind = "post"
	KindReel  Kind = "reel"
	KindStory Kind = "story"
)

var kinds = map[Kind]struct{}{
	KindText:  {},
	KindImage: {},
	KindVideo: {},
	KindPost:  {},
	KindReel:  {},
	KindStory: {},
}

// Valid reports whether k is one of the known payload kinds
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Message is a single direct message between two users.
// Only Read may change after the message is appended, and only from false to true.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content"`
	Kind       Kind      `json:"kind"`
	Read       bool      `json:"read"`
	SentAt     time.Time `json:"sentAt"`
}

// Validate checks the fields a caller must supply before Append
func (m Message) Validate() error {
	if m.SenderID < 1 {
		return fmt.Errorf("%w: sender id must be greater than zero", ErrMessageInvalid)
	}
	if m.ReceiverID < 1 {
		return fmt.Errorf("%w: receiver id must be greater than zero", ErrMessageInvalid)
	}
	if len(m.Content) == 0 {
		return fmt.Errorf("%w: content must have non-zero length", ErrMessageInvalid)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMessageInvalid, m.Kind)
	}
	return nil
}

// Partner returns the other participant of the conversation as seen by userID
func (m Message) Partner(userID int64) int64 {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// now is the server clock used to stamp appended messages.
// Postgres keeps microseconds, so both backends truncate to keep round trips exact.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fastjson"

	"social-dm/internal/storage"
)

const (
	FrameMessage     = "message"
	FrameReadReceipt = "read_receipt"
)

// Drop reasons, also used as metric labels
const (
	dropInvalidJSON    = "invalid_json"
	dropUnknownType    = "unknown_type"
	dropMissingField   = "missing_field"
	dropInvalidField   = "invalid_field"
	dropSenderMismatch = "sender_mismatch"
)

// ErrMalformedFrame is wrapped by every decoding failure
var ErrMalformedFrame = errors.New("malformed frame")

type frameError struct {
	reason string
	detail string
}

func (e *frameError) Error() string { return ErrMalformedFrame.Error() + ": " + e.detail }

func (e *frameError) Unwrap() error { return ErrMalformedFrame }

func malformed(reason, format string, args ...interface{}) error {
	return &frameError{reason: reason, detail: fmt.Sprintf(format, args...)}
}

// dropReason extracts the metric label of a decoding error
func dropReason(err error) string {
	var fe *frameError
	if errors.As(err, &fe) {
		return fe.reason
	}
	return dropInvalidJSON
}

// inbound is a decoded client frame
type inbound struct {
	frameType string
	message   storage.Message
	messageID int64
}

// MessageFrame is pushed to clients for drained, forwarded and echoed messages
type MessageFrame struct {
	Type       string       `json:"type"`
	ID         int64        `json:"id"`
	SenderID   int64        `json:"senderId"`
	ReceiverID int64        `json:"receiverId"`
	Content    string       `json:"content"`
	Kind       storage.Kind `json:"kind"`
	SentAt     time.Time    `json:"sentAt"`
	Read       bool         `json:"read"`
}

// ReceiptFrame notifies a sender that the receiver read one of their messages
type ReceiptFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
}

func encodeMessage(m storage.Message) []byte {
	payload, _ := json.Marshal(MessageFrame{
		Type:       FrameMessage,
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Kind:       m.Kind,
		SentAt:     m.SentAt,
		Read:       m.Read,
	})
	return payload
}

func encodeReceipt(messageID int64) []byte {
	payload, _ := json.Marshal(ReceiptFrame{Type: FrameReadReceipt, MessageID: messageID})
	return payload
}

// decoder validates inbound frames with pooled fastjson parsers
type decoder struct {
	pool fastjson.ParserPool
}

func (d *decoder) decode(data []byte) (inbound, error) {
	parser := d.pool.Get()
	defer d.pool.Put(parser)

	v, err := parser.ParseBytes(data)
	if err != nil {
		return inbound{}, malformed(dropInvalidJSON, "%v", err)
	}
	if v.Type() != fastjson.TypeObject {
		return inbound{}, malformed(dropInvalidJSON, "frame must be a JSON object")
	}

	typeValue := v.Get("type")
	if typeValue == nil {
		return inbound{}, malformed(dropMissingField, "missing field \"type\"")
	}
	frameType, err := typeValue.StringBytes()
	if err != nil {
		return inbound{}, malformed(dropInvalidField, "field \"type\" must be a string")
	}

	switch string(frameType) {
	case FrameMessage:
		return decodeMessage(v)
	case FrameReadReceipt:
		id, err := idField(v, "messageId")
		if err != nil {
			return inbound{}, err
		}
		return inbound{frameType: FrameReadReceipt, messageID: id}, nil
	default:
		return inbound{}, malformed(dropUnknownType, "unknown frame type %q", frameType)
	}
}

func decodeMessage(v *fastjson.Value) (inbound, error) {
	senderID, err := idField(v, "senderId")
	if err != nil {
		return inbound{}, err
	}

	receiverID, err := idField(v, "receiverId")
	if err != nil {
		return inbound{}, err
	}

	contentValue := v.Get("content")
	if contentValue == nil {
		return inbound{}, malformed(dropMissingField, "missing field \"content\"")
	}
	content, err := contentValue.StringBytes()
	if err != nil {
		return inbound{}, malformed(dropInvalidField, "field \"content\" must be a string")
	}
	if len(content) == 0 {
		return inbound{}, malformed(dropInvalidField, "field \"content\" must have non-zero length")
	}

	kind := storage.KindText
	if kindValue := v.Get("kind"); kindValue != nil && kindValue.Type() != fastjson.TypeNull {
		raw, err := kindValue.StringBytes()
		if err != nil {
			return inbound{}, malformed(dropInvalidField, "field \"kind\" must be a string")
		}
		kind = storage.Kind(raw)
		if !kind.Valid() {
			return inbound{}, malformed(dropInvalidField, "unknown kind %q", raw)
		}
	}

	return inbound{
		frameType: FrameMessage,
		message: storage.Message{
			SenderID:   senderID,
			ReceiverID: receiverID,
			Content:    string(content),
			Kind:       kind,
		},
	}, nil
}

// idField reads a positive 64-bit identifier
func idField(v *fastjson.Value, name string) (int64, error) {
	field := v.Get(name)
	if field == nil {
		return 0, malformed(dropMissingField, "missing field %q", name)
	}
	id, err := field.Int64()
	if err != nil {
		return 0, malformed(dropInvalidField, "field %q must be a 64-bit integer value", name)
	}
	if id < 1 {
		return 0, malformed(dropInvalidField, "field %q must be a valid id greater than zero", name)
	}
	return id, nil
}

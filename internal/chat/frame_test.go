package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"social-dm/internal/storage"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	var d decoder

	in, err := d.decode([]byte(`{"type":"message","senderId":1,"receiverId":2,"content":"he said \"hi\"","kind":"image"}`))
	require.NoError(t, err)
	require.Equal(t, FrameMessage, in.frameType)
	require.Equal(t, storage.Message{
		SenderID:   1,
		ReceiverID: 2,
		Content:    `he said "hi"`,
		Kind:       storage.KindImage,
	}, in.message)
}

func TestDecodeMessageDefaultKind(t *testing.T) {
	t.Parallel()

	var d decoder

	for _, frame := range []string{
		`{"type":"message","senderId":1,"receiverId":2,"content":"hi"}`,
		`{"type":"message","senderId":1,"receiverId":2,"content":"hi","kind":null}`,
	} {
		in, err := d.decode([]byte(frame))
		require.NoError(t, err, frame)
		require.Equal(t, storage.KindText, in.message.Kind)
	}
}

func TestDecodeMessageKeepsWhitespaceContent(t *testing.T) {
	t.Parallel()

	var d decoder

	in, err := d.decode([]byte(`{"type":"message","senderId":1,"receiverId":2,"content":"  "}`))
	require.NoError(t, err)
	require.Equal(t, "  ", in.message.Content)
}

func TestDecodeReadReceipt(t *testing.T) {
	t.Parallel()

	var d decoder

	in, err := d.decode([]byte(`{"type":"read_receipt","messageId":42}`))
	require.NoError(t, err)
	require.Equal(t, FrameReadReceipt, in.frameType)
	require.Equal(t, int64(42), in.messageID)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	var d decoder

	tests := []struct {
		name   string
		frame  string
		reason string
	}{
		{"not json", `{"type":`, dropInvalidJSON},
		{"not object", `["message"]`, dropInvalidJSON},
		{"no type", `{"senderId":1}`, dropMissingField},
		{"type not string", `{"type":1}`, dropInvalidField},
		{"unknown type", `{"type":"typing"}`, dropUnknownType},
		{"no sender", `{"type":"message","receiverId":2,"content":"hi"}`, dropMissingField},
		{"sender not integer", `{"type":"message","senderId":"1","receiverId":2,"content":"hi"}`, dropInvalidField},
		{"sender fractional", `{"type":"message","senderId":1.5,"receiverId":2,"content":"hi"}`, dropInvalidField},
		{"sender zero", `{"type":"message","senderId":0,"receiverId":2,"content":"hi"}`, dropInvalidField},
		{"no receiver", `{"type":"message","senderId":1,"content":"hi"}`, dropMissingField},
		{"receiver negative", `{"type":"message","senderId":1,"receiverId":-2,"content":"hi"}`, dropInvalidField},
		{"no content", `{"type":"message","senderId":1,"receiverId":2}`, dropMissingField},
		{"content null", `{"type":"message","senderId":1,"receiverId":2,"content":null}`, dropInvalidField},
		{"content empty", `{"type":"message","senderId":1,"receiverId":2,"content":""}`, dropInvalidField},
		{"kind unknown", `{"type":"message","senderId":1,"receiverId":2,"content":"hi","kind":"gif"}`, dropInvalidField},
		{"kind not string", `{"type":"message","senderId":1,"receiverId":2,"content":"hi","kind":3}`, dropInvalidField},
		{"receipt no id", `{"type":"read_receipt"}`, dropMissingField},
		{"receipt id string", `{"type":"read_receipt","messageId":"7"}`, dropInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.decode([]byte(tt.frame))
			require.ErrorIs(t, err, ErrMalformedFrame)
			require.Equal(t, tt.reason, dropReason(err))
		})
	}
}

func TestEncodeMessage(t *testing.T) {
	t.Parallel()

	sentAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	payload := encodeMessage(storage.Message{
		ID:         7,
		SenderID:   1,
		ReceiverID: 2,
		Content:    "hi",
		Kind:       storage.KindText,
		SentAt:     sentAt,
	})

	require.JSONEq(t,
		`{"type":"message","id":7,"senderId":1,"receiverId":2,"content":"hi","kind":"text","sentAt":"2024-05-01T12:00:00Z","read":false}`,
		string(payload))
}

func TestEncodeReceipt(t *testing.T) {
	t.Parallel()

	var frame ReceiptFrame
	require.NoError(t, json.Unmarshal(encodeReceipt(9), &frame))
	require.Equal(t, ReceiptFrame{Type: FrameReadReceipt, MessageID: 9}, frame)
}

// Package seed generates random conversations for local development databases.
package seed

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"social-dm/internal/storage"
)

const contentCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ "

var kinds = []storage.Kind{
	storage.KindText,
	storage.KindImage,
	storage.KindVideo,
	storage.KindPost,
	storage.KindReel,
	storage.KindStory,
}

// Plan describes the generated data set
type Plan struct {
	Users     int
	Messages  int
	ReadRatio float64
	// Start is the sent time of the first message, later messages follow Spacing apart
	Start   time.Time
	Spacing time.Duration
}

func (p Plan) Validate() error {
	if p.Users < 2 {
		return fmt.Errorf("at least two users are needed, got %d", p.Users)
	}
	if p.Messages < 0 {
		return fmt.Errorf("messages must not be negative, got %d", p.Messages)
	}
	if p.ReadRatio < 0 || p.ReadRatio > 1 {
		return fmt.Errorf("read ratio must be within [0, 1], got %v", p.ReadRatio)
	}
	return nil
}

// Generate returns p.Messages messages between users 1..p.Users in ascending sent order.
// Text messages dominate the mix of kinds.
func Generate(rng *rand.Rand, p Plan) ([]storage.Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	start := p.Start
	if start.IsZero() {
		start = time.Now().Add(-time.Duration(p.Messages) * p.Spacing)
	}
	start = start.UTC().Truncate(time.Microsecond)

	messages := make([]storage.Message, 0, p.Messages)
	for i := 0; i < p.Messages; i++ {
		sender := int64(rng.Intn(p.Users) + 1)
		receiver := int64(rng.Intn(p.Users-1) + 1)
		if receiver >= sender {
			receiver++
		}

		kind := storage.KindText
		if rng.Intn(4) == 0 {
			kind = kinds[rng.Intn(len(kinds))]
		}

		messages = append(messages, storage.Message{
			SenderID:   sender,
			ReceiverID: receiver,
			Content:    content(rng, 8+rng.Intn(40)),
			Kind:       kind,
			Read:       rng.Float64() < p.ReadRatio,
			SentAt:     start.Add(time.Duration(i) * p.Spacing),
		})
	}

	return messages, nil
}

func content(rng *rand.Rand, n int) string {
	var out strings.Builder
	for i := 0; i < n; i++ {
		out.WriteByte(contentCharset[rng.Intn(len(contentCharset))])
	}
	// ends are trimmed so the text never starts or ends with a space
	s := strings.TrimSpace(out.String())
	if s == "" {
		return "hello"
	}
	return s
}

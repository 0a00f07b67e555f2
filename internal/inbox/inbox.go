// Package inbox serves the synchronous reads of direct messaging: the conversation
// previews of a user and the history of one conversation.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"social-dm/internal/chat"
	"social-dm/internal/storage"
)

// DefaultFanOut bounds the concurrent per-partner lookups of Previews
const DefaultFanOut = 8

// Preview summarises one conversation as seen by its owner
type Preview struct {
	ChatWithID    int64     `json:"chatWithId"`
	LatestMessage string    `json:"latestMessage"`
	LatestSentAt  time.Time `json:"latestSentAt"`
	UnreadCount   int64     `json:"unreadCount"`
}

type Service struct {
	logger  *zap.SugaredLogger
	store   storage.MessageStore
	tracker *chat.Tracker
	fanOut  int
}

func New(logger *zap.SugaredLogger, store storage.MessageStore, tracker *chat.Tracker) *Service {
	return &Service{
		logger:  logger,
		store:   store,
		tracker: tracker,
		fanOut:  DefaultFanOut,
	}
}

// Previews returns one entry per partner of userID in no particular order
func (s *Service) Previews(ctx context.Context, userID int64) ([]Preview, error) {
	partners, err := s.store.Partners(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("could not list partners of user %d: %w", userID, err)
	}

	s.logger.Debugf("Building %d previews for user (id: %d)", len(partners), userID)

	previews := make([]Preview, len(partners))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)

	for i, partner := range partners {
		i, partner := i, partner
		g.Go(func() error {
			latest, err := s.store.Latest(gctx, userID, partner)
			if err != nil {
				if errors.Is(err, storage.ErrNoMessages) {
					return nil
				}
				return fmt.Errorf("could not get latest message with user %d: %w", partner, err)
			}

			unread, err := s.store.CountUnreadFrom(gctx, partner, userID)
			if err != nil {
				return fmt.Errorf("could not count unread messages from user %d: %w", partner, err)
			}

			previews[i] = Preview{
				ChatWithID:    partner,
				LatestMessage: latest.Content,
				LatestSentAt:  latest.SentAt,
				UnreadCount:   unread,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// a partner whose conversation came back empty left a zero entry
	return lo.Filter(previews, func(p Preview, _ int) bool {
		return p.ChatWithID != 0
	}), nil
}

// History returns the conversation of userID with partnerID oldest first.
// Reading it acknowledges every unread message addressed to userID, and the returned
// messages already carry the new read state.
func (s *Service) History(ctx context.Context, userID, partnerID int64) ([]storage.Message, error) {
	messages, err := s.store.History(ctx, userID, partnerID)
	if err != nil {
		return nil, fmt.Errorf("could not get history of users %d and %d: %w", userID, partnerID, err)
	}

	for i, m := range messages {
		if m.ReceiverID != userID || m.Read {
			continue
		}
		if _, err := s.tracker.AcknowledgeMessage(ctx, m); err != nil {
			return nil, err
		}
		messages[i].Read = true
	}

	if messages == nil {
		messages = []storage.Message{}
	}
	return messages, nil
}

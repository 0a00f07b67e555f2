package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// bootstrap returns every backend available in the current environment.
// Postgres joins only when TEST_POSTGRES=1; its connection is read from the usual DB_* variables.
func bootstrap(t *testing.T) map[string]MessageStore {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	stores := map[string]MessageStore{}

	lite, err := NewSQLite(logger.Sugar(), ":memory:")
	require.NoError(t, err)
	require.NoError(t, lite.Migrate(context.Background()))
	t.Cleanup(lite.Close)
	stores[DriverSQLite] = lite

	if os.Getenv("TEST_POSTGRES") == "1" {
		var cfg Config
		require.NoError(t, env.Parse(&cfg))

		pg, err := New(context.Background(), logger.Sugar(), cfg, ConnectionTimeout(5*time.Second))
		require.NoError(t, err)
		require.NoError(t, pg.Migrate(context.Background()))
		_, err = pg.db.Exec(context.Background(), "truncate messages restart identity")
		require.NoError(t, err)
		t.Cleanup(pg.Close)
		stores[DriverPostgres] = pg
	}

	return stores
}

func forEachStore(t *testing.T, f func(t *testing.T, s MessageStore)) {
	for name, s := range bootstrap(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			f(t, s)
		})
	}
}

func mustAppend(t *testing.T, s MessageStore, sender, receiver int64, content string) Message {
	t.Helper()

	m, err := s.Append(context.Background(), Message{SenderID: sender, ReceiverID: receiver, Content: content})
	require.NoError(t, err)
	return m
}

func TestAppend(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		m, err := s.Append(context.Background(), Message{SenderID: 1, ReceiverID: 2, Content: "hi", Read: true})
		require.NoError(t, err)

		require.Greater(t, m.ID, int64(0))
		require.Equal(t, KindText, m.Kind)
		require.False(t, m.Read)
		require.False(t, m.SentAt.IsZero())

		stored, err := s.Message(context.Background(), m.ID)
		require.NoError(t, err)
		require.Equal(t, m, stored)
	})
}

func TestAppendMonotonicIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		first := mustAppend(t, s, 1, 2, "one")
		second := mustAppend(t, s, 2, 1, "two")
		require.Greater(t, second.ID, first.ID)
		require.False(t, second.SentAt.Before(first.SentAt))
	})
}

func TestAppendInvalid(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		for _, m := range []Message{
			{SenderID: 0, ReceiverID: 2, Content: "x"},
			{SenderID: 1, ReceiverID: -1, Content: "x"},
			{SenderID: 1, ReceiverID: 2, Content: ""},
			{SenderID: 1, ReceiverID: 2, Content: "x", Kind: "sticker"},
		} {
			_, err := s.Append(context.Background(), m)
			require.ErrorIs(t, err, ErrMessageInvalid)
		}
	})
}

func TestMessageNotExist(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		_, err := s.Message(context.Background(), 999)
		require.ErrorIs(t, err, ErrMessageNotExist)
	})
}

func TestMarkRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		m := mustAppend(t, s, 1, 2, "hi")

		marked, changed, err := s.MarkRead(context.Background(), m.ID)
		require.NoError(t, err)
		require.True(t, changed)
		require.True(t, marked.Read)
		require.Equal(t, m.SenderID, marked.SenderID)

		again, changed, err := s.MarkRead(context.Background(), m.ID)
		require.NoError(t, err)
		require.False(t, changed)
		require.True(t, again.Read)

		_, changed, err = s.MarkRead(context.Background(), 999)
		require.ErrorIs(t, err, ErrMessageNotExist)
		require.False(t, changed)
	})
}

func TestUnreadFor(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		first := mustAppend(t, s, 2, 1, "first")
		mustAppend(t, s, 1, 2, "to someone else")
		second := mustAppend(t, s, 3, 1, "second")
		read := mustAppend(t, s, 2, 1, "read")
		_, _, err := s.MarkRead(context.Background(), read.ID)
		require.NoError(t, err)
		third := mustAppend(t, s, 2, 1, "third")

		unread, err := s.UnreadFor(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, []Message{first, second, third}, unread)
	})
}

func TestHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		a := mustAppend(t, s, 1, 2, "a")
		mustAppend(t, s, 1, 3, "other pair")
		b := mustAppend(t, s, 2, 1, "b")
		c := mustAppend(t, s, 1, 2, "c")

		history, err := s.History(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, []Message{a, b, c}, history)

		reversed, err := s.History(context.Background(), 2, 1)
		require.NoError(t, err)
		require.Equal(t, history, reversed)

		empty, err := s.History(context.Background(), 5, 6)
		require.NoError(t, err)
		require.Empty(t, empty)
	})
}

func TestCountUnreadFrom(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		mustAppend(t, s, 2, 1, "x")
		read := mustAppend(t, s, 2, 1, "y")
		mustAppend(t, s, 2, 1, "z")
		mustAppend(t, s, 1, 2, "reply")
		mustAppend(t, s, 3, 1, "other")
		_, _, err := s.MarkRead(context.Background(), read.ID)
		require.NoError(t, err)

		count, err := s.CountUnreadFrom(context.Background(), 2, 1)
		require.NoError(t, err)
		require.Equal(t, int64(2), count)

		count, err = s.CountUnreadFrom(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, int64(1), count)
	})
}

func TestPartnersAndLatest(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		mustAppend(t, s, 1, 2, "to two")
		mustAppend(t, s, 3, 1, "from three")
		latest := mustAppend(t, s, 2, 1, "from two")
		mustAppend(t, s, 4, 5, "unrelated")

		partners, err := s.Partners(context.Background(), 1)
		require.NoError(t, err)
		require.ElementsMatch(t, []int64{2, 3}, partners)

		m, err := s.Latest(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Equal(t, latest, m)

		_, err = s.Latest(context.Background(), 1, 4)
		require.ErrorIs(t, err, ErrNoMessages)
	})
}

func TestSeed(t *testing.T) {
	forEachStore(t, func(t *testing.T, s MessageStore) {
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		n, err := s.Seed(context.Background(), []Message{
			{SenderID: 1, ReceiverID: 2, Content: "old", SentAt: base},
			{SenderID: 2, ReceiverID: 1, Content: "new", Kind: KindImage, SentAt: base.Add(time.Minute), Read: true},
		})
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		history, err := s.History(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Len(t, history, 2)
		require.Equal(t, "old", history[0].Content)
		require.Equal(t, base, history[0].SentAt)
		require.Equal(t, KindImage, history[1].Kind)
		require.True(t, history[1].Read)

		_, err = s.Seed(context.Background(), []Message{{SenderID: 1, ReceiverID: 2}})
		require.ErrorIs(t, err, ErrMessageInvalid)
	})
}

func TestSQLiteMigrateIdempotent(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s, err := NewSQLite(logger.Sugar(), ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), zap.NewNop().Sugar(), Config{Driver: "oracle"})
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpenSQLiteFile(t *testing.T) {
	s, err := Open(context.Background(), zap.NewNop().Sugar(), Config{Driver: DriverSQLite, SQLitePath: t.TempDir() + "/dm.db"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(context.Background()))
	m := mustAppend(t, s, 1, 2, "persisted")

	stored, err := s.Message(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, "persisted", stored.Content)
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore keeps messages in a single SQLite file; used for local runs and tests.
// Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	logger *zap.SugaredLogger
	db     *sql.DB
}

// NewSQLite opens (or creates) the database at path. ":memory:" gives a private in-memory database.
func NewSQLite(logger *zap.SugaredLogger, path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", filepath.ToSlash(path))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one connection serializes writers and keeps an in-memory database alive
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	return NewSQLiteFromDB(logger, db), nil
}

// NewSQLiteFromDB wraps an already opened handle
func NewSQLiteFromDB(logger *zap.SugaredLogger, db *sql.DB) *SQLiteStore {
	return &SQLiteStore{logger: logger, db: db}
}

func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Errorf("close sqlite database: %v", err)
	}
}

// Migrate applies pending sqliteMigrations tracked by PRAGMA user_version
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(sqliteMigrations) {
		return nil
	}

	s.logger.Debugf("Applying sqlite migrations %d..%d", version+1, len(sqliteMigrations))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(sqliteMigrations); i++ {
		if _, err := tx.ExecContext(ctx, sqliteMigrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, m Message) (Message, error) {
	if m.Kind == "" {
		m.Kind = KindText
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	m.Read = false
	m.SentAt = now()

	s.logger.Debugf("Creating message from user (id: %d) to user (id: %d)", m.SenderID, m.ReceiverID)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content, kind, is_read, sent_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		m.SenderID, m.ReceiverID, m.Content, string(m.Kind), m.SentAt.UnixNano(),
	)
	if err != nil {
		return Message{}, sqliteError("insert message", err)
	}

	m.ID, err = res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("read inserted message id: %w", err)
	}

	s.logger.Debugf("Created message with id %d", m.ID)

	return m, nil
}

func (s *SQLiteStore) Message(ctx context.Context, id int64) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`,
		id,
	)
	m, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, id int64) (Message, bool, error) {
	s.logger.Debugf("Marking message (id: %d) as read", id)

	row := s.db.QueryRowContext(ctx,
		`UPDATE messages SET is_read = 1
		WHERE id = ? AND is_read = 0
		RETURNING `+messageColumns,
		id,
	)
	m, err := scanSQLiteMessage(row)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, fmt.Errorf("mark message %d read: %w", id, err)
	}

	m, err = s.Message(ctx, id)
	if err != nil {
		return Message{}, false, err
	}
	return m, false, nil
}

func (s *SQLiteStore) UnreadFor(ctx context.Context, user int64) ([]Message, error) {
	s.logger.Debugf("Retrieving unread messages for user (id: %d)", user)

	return s.collect(ctx,
		`SELECT `+messageColumns+`
		FROM messages
		WHERE receiver_id = ? AND is_read = 0
		ORDER BY sent_at ASC, id ASC`,
		user,
	)
}

func (s *SQLiteStore) History(ctx context.Context, a, b int64) ([]Message, error) {
	s.logger.Debugf("Retrieving history between users (id: %d) and (id: %d)", a, b)

	return s.collect(ctx,
		`SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY sent_at ASC, id ASC`,
		a, b, b, a,
	)
}

func (s *SQLiteStore) CountUnreadFrom(ctx context.Context, partner, user int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE sender_id = ? AND receiver_id = ? AND is_read = 0`,
		partner, user,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread messages from %d to %d: %w", partner, user, err)
	}
	return count, nil
}

func (s *SQLiteStore) Partners(ctx context.Context, user int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?`,
		user, user, user,
	)
	if err != nil {
		return nil, fmt.Errorf("get partners for user %d: %w", user, err)
	}
	defer rows.Close()

	var partners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan partner row: %w", err)
		}
		partners = append(partners, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partner rows: %w", err)
	}

	return partners, nil
}

func (s *SQLiteStore) Latest(ctx context.Context, a, b int64) (Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY sent_at DESC, id DESC
		LIMIT 1`,
		a, b, b, a,
	)
	m, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNoMessages
		}
		return Message{}, fmt.Errorf("get latest message between %d and %d: %w", a, b, err)
	}
	return m, nil
}

// Seed inserts messages through one prepared statement inside one transaction
func (s *SQLiteStore) Seed(ctx context.Context, messages []Message) (int64, error) {
	s.logger.Debugf("Seeding %d messages", len(messages))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content, kind, is_read, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare seed statement: %w", err)
	}
	defer stmt.Close()

	var n int64
	for _, m := range messages {
		if m.Kind == "" {
			m.Kind = KindText
		}
		if err := m.Validate(); err != nil {
			return 0, err
		}
		if m.SentAt.IsZero() {
			m.SentAt = now()
		}
		if _, err := stmt.ExecContext(ctx, m.SenderID, m.ReceiverID, m.Content, string(m.Kind), boolInt(m.Read), m.SentAt.UnixNano()); err != nil {
			return 0, sqliteError("seed message", err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed transaction: %w", err)
	}

	return n, nil
}

func (s *SQLiteStore) collect(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

func scanSQLiteMessage(row scanner) (Message, error) {
	var (
		m      Message
		kind   string
		isRead int
		sentAt int64
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &kind, &isRead, &sentAt); err != nil {
		return Message{}, err
	}
	m.Kind = Kind(kind)
	m.Read = isRead == 1
	m.SentAt = time.Unix(0, sentAt).UTC()
	return m, nil
}

// sqliteError maps constraint failures onto ErrMessageInvalid
func sqliteError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", ErrMessageInvalid, strings.TrimPrefix(sqliteErr.Error(), "CHECK constraint failed: "))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"social-dm/internal/storage/zapadapter"
)

const messageColumns = "id, sender_id, receiver_id, content, kind, is_read, sent_at"

// Store keeps messages in Postgres
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close closes all pool connections
func (s *Store) Close() {
	s.db.Close()
}

// Migrate creates the messages table and its indexes in a single transaction
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("Applying postgres migrations")

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	// error handling can be omitted for rollback according docs
	defer tx.Rollback(context.Background())

	for i, sql := range postgresMigrations {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}

	return tx.Commit(ctx)
}

// Append creates new message in database and returns it with assigned id and sent time
func (s *Store) Append(ctx context.Context, m Message) (Message, error) {
	if m.Kind == "" {
		m.Kind = KindText
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	m.Read = false
	m.SentAt = now()

	s.logger.Debugf("Creating message from user (id: %d) to user (id: %d)", m.SenderID, m.ReceiverID)

	sql := "insert into messages (sender_id, receiver_id, content, kind, is_read, sent_at) values ($1, $2, $3, $4, false, $5) returning id"
	err := s.db.QueryRow(ctx, sql, m.SenderID, m.ReceiverID, m.Content, string(m.Kind), m.SentAt).Scan(&m.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.StringDataRightTruncationDataException:
				return Message{}, fmt.Errorf("%w: %s", ErrMessageInvalid, pgErr.ConstraintName)
			}
		}
		return Message{}, err
	}

	s.logger.Debugf("Created message with id %d", m.ID)

	return m, nil
}

// Message returns a single message by its id
func (s *Store) Message(ctx context.Context, id int64) (Message, error) {
	sql := "select " + messageColumns + " from messages where id = $1"
	m, err := scanMessage(s.db.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, err
	}
	return m, nil
}

// MarkRead flips is_read in one conditional update.
// When no row changes the message is either read already or missing, which a second lookup tells apart.
func (s *Store) MarkRead(ctx context.Context, id int64) (Message, bool, error) {
	s.logger.Debugf("Marking message (id: %d) as read", id)

	sql := "update messages set is_read = true where id = $1 and is_read = false returning " + messageColumns
	m, err := scanMessage(s.db.QueryRow(ctx, sql, id))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, err
	}

	m, err = s.Message(ctx, id)
	if err != nil {
		return Message{}, false, err
	}
	return m, false, nil
}

// UnreadFor returns unread messages addressed to user sorted by sent time (from earliest to latest)
func (s *Store) UnreadFor(ctx context.Context, user int64) ([]Message, error) {
	s.logger.Debugf("Retrieving unread messages for user (id: %d)", user)

	sql := `select ` + messageColumns + `
			  from messages
			 where receiver_id = $1
			   and is_read = false
			 order by sent_at asc, id asc`

	return s.collect(ctx, sql, user)
}

// History returns all messages between a and b sorted by sent time (from earliest to latest)
func (s *Store) History(ctx context.Context, a, b int64) ([]Message, error) {
	s.logger.Debugf("Retrieving history between users (id: %d) and (id: %d)", a, b)

	sql := `select ` + messageColumns + `
			  from messages
			 where (sender_id = $1 and receiver_id = $2)
			    or (sender_id = $2 and receiver_id = $1)
			 order by sent_at asc, id asc`

	return s.collect(ctx, sql, a, b)
}

// CountUnreadFrom counts messages sent by partner to user that user has not read yet
func (s *Store) CountUnreadFrom(ctx context.Context, partner, user int64) (int64, error) {
	var count int64
	sql := "select count(*) from messages where sender_id = $1 and receiver_id = $2 and is_read = false"
	if err := s.db.QueryRow(ctx, sql, partner, user).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Partners returns ids of all users that exchanged at least one message with user
func (s *Store) Partners(ctx context.Context, user int64) ([]int64, error) {
	sql := `select distinct case when sender_id = $1 then receiver_id else sender_id end
			  from messages
			 where sender_id = $1 or receiver_id = $1`

	rows, err := s.db.Query(ctx, sql, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		partners = append(partners, id)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return partners, nil
}

// Latest returns the most recent message exchanged by a and b
func (s *Store) Latest(ctx context.Context, a, b int64) (Message, error) {
	sql := `select ` + messageColumns + `
			  from messages
			 where (sender_id = $1 and receiver_id = $2)
			    or (sender_id = $2 and receiver_id = $1)
			 order by sent_at desc, id desc
			 limit 1`

	m, err := scanMessage(s.db.QueryRow(ctx, sql, a, b))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNoMessages
		}
		return Message{}, err
	}
	return m, nil
}

// Seed bulk inserts messages through the COPY protocol
func (s *Store) Seed(ctx context.Context, messages []Message) (int64, error) {
	s.logger.Debugf("Seeding %d messages", len(messages))

	rows := make([]messageRow, 0, len(messages))
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
		rows = append(rows, messageRow(m))
	}

	n, err := s.db.CopyFrom(ctx, pgx.Identifier{"messages"}, copyColumns, copyFromBulk(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return 0, fmt.Errorf("%w: %s", ErrMessageInvalid, pgErr.ConstraintName)
		}
		return 0, err
	}

	return n, nil
}

func (s *Store) collect(ctx context.Context, sql string, args ...interface{}) ([]Message, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (Message, error) {
	var (
		m    Message
		kind string
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &kind, &m.Read, &m.SentAt); err != nil {
		return Message{}, err
	}
	m.Kind = Kind(kind)
	m.SentAt = m.SentAt.UTC()
	return m, nil
}

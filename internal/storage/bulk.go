package storage

import "github.com/jackc/pgx/v4"

var copyColumns = []string{"sender_id", "receiver_id", "content", "kind", "is_read", "sent_at"}

type messageRow Message

type messageBulk struct {
	rows []messageRow
	idx  int
}

func (r messageRow) toInterface() []interface{} {
	return []interface{}{r.SenderID, r.ReceiverID, r.Content, string(r.Kind), r.Read, r.SentAt}
}

func copyFromBulk(rows []messageRow) pgx.CopyFromSource {
	return &messageBulk{
		rows: rows,
		idx:  -1,
	}
}

func (mb *messageBulk) Next() bool {
	mb.idx++
	return mb.idx < len(mb.rows)
}

func (mb *messageBulk) Values() ([]interface{}, error) {
	return mb.rows[mb.idx].toInterface(), nil
}

func (mb *messageBulk) Err() error {
	return nil
}

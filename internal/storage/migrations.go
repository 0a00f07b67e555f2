package storage

var postgresMigrations = []string{
	`create table if not exists messages (
		id          bigserial primary key,
		sender_id   bigint      not null check (sender_id > 0),
		receiver_id bigint      not null check (receiver_id > 0),
		content     text        not null check (content <> ''),
		kind        varchar(16) not null default 'text'
		            check (kind in ('text', 'image', 'video', 'post', 'reel', 'story')),
		is_read     boolean     not null default false,
		sent_at     timestamptz not null default now()
	)`,
	// drain on connect and unread counters
	`create index if not exists messages_receiver_unread_idx
		on messages (receiver_id, sender_id, sent_at)
		where is_read = false`,
	`create index if not exists messages_sender_receiver_idx
		on messages (sender_id, receiver_id, sent_at)`,
	`create index if not exists messages_receiver_sender_idx
		on messages (receiver_id, sender_id, sent_at)`,
}

// sqliteMigrations are applied in order and tracked through PRAGMA user_version
var sqliteMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  sender_id   INTEGER NOT NULL CHECK(sender_id > 0),
  receiver_id INTEGER NOT NULL CHECK(receiver_id > 0),
  content     TEXT    NOT NULL CHECK(content <> ''),
  kind        TEXT    NOT NULL DEFAULT 'text'
              CHECK(kind IN ('text','image','video','post','reel','story')),
  is_read     INTEGER NOT NULL DEFAULT 0,
  sent_at     INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread
ON messages (receiver_id, is_read, sent_at);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_pair_time
ON messages (sender_id, receiver_id, sent_at);
`,
}

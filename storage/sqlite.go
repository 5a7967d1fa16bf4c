package storage

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// NewSQLite opens a single connection SQLite store. The busy timeout lets a
// foreground process wait for a background writer instead of failing.
func NewSQLite(path string) (*SQL, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // single writer

	return newSQL(db, dialectSQLite, sqliteMigration)
}

var sqliteMigration = []string{
	`CREATE TABLE channel (
id TEXT PRIMARY KEY,
user_id TEXT NOT NULL,
youtube_channel_id TEXT NOT NULL,
title TEXT NOT NULL,
url TEXT NOT NULL,
followed_at TIMESTAMP NOT NULL,
last_checked_at TIMESTAMP,
UNIQUE (user_id, youtube_channel_id)
)`,
	`CREATE TABLE video (
id TEXT PRIMARY KEY,
channel_id TEXT REFERENCES channel(id) ON DELETE SET NULL,
youtube_id TEXT NOT NULL UNIQUE,
youtube_channel_id TEXT NOT NULL,
title TEXT NOT NULL,
url TEXT NOT NULL,
duration TEXT NOT NULL DEFAULT '',
published_at TIMESTAMP NOT NULL,
discovered_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE transcript (
video_id TEXT PRIMARY KEY REFERENCES video(id) ON DELETE CASCADE,
status TEXT NOT NULL CHECK (status IN ('pending', 'success', 'unavailable', 'error')),
text TEXT NOT NULL DEFAULT '',
language TEXT NOT NULL DEFAULT '',
attempts INTEGER NOT NULL DEFAULT 0,
last_error TEXT NOT NULL DEFAULT '',
fetched_at TIMESTAMP,
updated_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX transcript_status_idx ON transcript (status)`,
	`CREATE TABLE summary (
video_id TEXT PRIMARY KEY REFERENCES video(id) ON DELETE CASCADE,
text TEXT NOT NULL,
key_points TEXT NOT NULL DEFAULT '[]',
model TEXT NOT NULL,
created_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE run_history (
id TEXT PRIMARY KEY,
run_trigger TEXT NOT NULL CHECK (run_trigger IN ('manual', 'scheduled')),
status TEXT NOT NULL CHECK (status IN ('in_progress', 'success', 'partial', 'failed')),
started_at TIMESTAMP NOT NULL,
finished_at TIMESTAMP,
channels_checked INTEGER NOT NULL DEFAULT 0,
videos_discovered INTEGER NOT NULL DEFAULT 0,
transcripts_fetched INTEGER NOT NULL DEFAULT 0,
summaries_created INTEGER NOT NULL DEFAULT 0,
errors INTEGER NOT NULL DEFAULT 0,
error_detail TEXT NOT NULL DEFAULT '[]'
)`,
	`CREATE TABLE run_lock (
name TEXT PRIMARY KEY,
run_id TEXT NOT NULL,
owner TEXT NOT NULL,
acquired_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE notification_queue (
id INTEGER PRIMARY KEY AUTOINCREMENT,
recipient TEXT NOT NULL,
payload TEXT NOT NULL,
video_id TEXT REFERENCES video(id) ON DELETE SET NULL,
status TEXT NOT NULL CHECK (status IN ('pending', 'sent', 'failed')),
retry_count INTEGER NOT NULL DEFAULT 0,
last_error TEXT NOT NULL DEFAULT '',
created_at TIMESTAMP NOT NULL,
updated_at TIMESTAMP NOT NULL,
sent_at TIMESTAMP
)`,
	`CREATE INDEX notification_queue_status_idx ON notification_queue (status, id)`,
}

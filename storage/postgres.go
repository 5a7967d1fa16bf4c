package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

type PostgresInfo struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

func NewPostgres(info PostgresInfo) (*SQL, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		info.Host, info.Port, info.User, info.Password, info.Database)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return newSQL(db, dialectPostgres, pgMigration)
}

var pgMigration = []string{
	`CREATE TABLE channel (
id UUID PRIMARY KEY,
user_id VARCHAR(255) NOT NULL,
youtube_channel_id VARCHAR(255) NOT NULL,
title VARCHAR(255) NOT NULL,
url VARCHAR(255) NOT NULL,
followed_at TIMESTAMPTZ NOT NULL,
last_checked_at TIMESTAMPTZ,
UNIQUE (user_id, youtube_channel_id)
)`,
	`CREATE TABLE video (
id UUID PRIMARY KEY,
channel_id UUID REFERENCES channel(id) ON DELETE SET NULL,
youtube_id VARCHAR(255) NOT NULL UNIQUE,
youtube_channel_id VARCHAR(255) NOT NULL,
title TEXT NOT NULL,
url VARCHAR(255) NOT NULL,
duration VARCHAR(64) NOT NULL DEFAULT '',
published_at TIMESTAMPTZ NOT NULL,
discovered_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE transcript (
video_id UUID PRIMARY KEY REFERENCES video(id) ON DELETE CASCADE,
status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'success', 'unavailable', 'error')),
text TEXT NOT NULL DEFAULT '',
language VARCHAR(32) NOT NULL DEFAULT '',
attempts INTEGER NOT NULL DEFAULT 0,
last_error TEXT NOT NULL DEFAULT '',
fetched_at TIMESTAMPTZ,
updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX transcript_status_idx ON transcript (status)`,
	`CREATE TABLE summary (
video_id UUID PRIMARY KEY REFERENCES video(id) ON DELETE CASCADE,
text TEXT NOT NULL,
key_points TEXT NOT NULL DEFAULT '[]',
model VARCHAR(255) NOT NULL,
created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE run_history (
id UUID PRIMARY KEY,
run_trigger VARCHAR(20) NOT NULL CHECK (run_trigger IN ('manual', 'scheduled')),
status VARCHAR(20) NOT NULL CHECK (status IN ('in_progress', 'success', 'partial', 'failed')),
started_at TIMESTAMPTZ NOT NULL,
finished_at TIMESTAMPTZ,
channels_checked INTEGER NOT NULL DEFAULT 0,
videos_discovered INTEGER NOT NULL DEFAULT 0,
transcripts_fetched INTEGER NOT NULL DEFAULT 0,
summaries_created INTEGER NOT NULL DEFAULT 0,
errors INTEGER NOT NULL DEFAULT 0,
error_detail TEXT NOT NULL DEFAULT '[]'
)`,
	`CREATE TABLE run_lock (
name VARCHAR(64) PRIMARY KEY,
run_id UUID NOT NULL,
owner VARCHAR(255) NOT NULL,
acquired_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE notification_queue (
id BIGSERIAL PRIMARY KEY,
recipient VARCHAR(255) NOT NULL,
payload TEXT NOT NULL,
video_id UUID REFERENCES video(id) ON DELETE SET NULL,
status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'sent', 'failed')),
retry_count INTEGER NOT NULL DEFAULT 0,
last_error TEXT NOT NULL DEFAULT '',
created_at TIMESTAMPTZ NOT NULL,
updated_at TIMESTAMPTZ NOT NULL,
sent_at TIMESTAMPTZ
)`,
	`CREATE INDEX notification_queue_status_idx ON notification_queue (status, id)`,
}

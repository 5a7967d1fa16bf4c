package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ewintr.nl/ytsum/model"
	"github.com/google/uuid"
)

const videoColumns = `v.id, v.channel_id, v.youtube_id, v.youtube_channel_id, v.title, v.url, v.duration, v.published_at, v.discovered_at`

// AddVideos stores the refs that are not known yet, each together with a
// pending transcript row, in one transaction. It returns the new videos.
func (s *SQL) AddVideos(ctx context.Context, channel *model.Channel, refs []model.VideoRef, discoveredAt time.Time) ([]*model.Video, error) {
	added := []*model.Video{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ref := range refs {
			if ref.YoutubeID == "" {
				continue
			}
			video := &model.Video{
				ID:               uuid.New(),
				ChannelID:        channel.ID,
				YoutubeID:        ref.YoutubeID,
				YoutubeChannelID: channel.YoutubeChannelID,
				Title:            ref.Title,
				URL:              model.VideoURL(ref.YoutubeID),
				Duration:         ref.Duration,
				PublishedAt:      ts(ref.PublishedAt),
				DiscoveredAt:     ts(discoveredAt),
			}
			res, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO video (id, channel_id, youtube_id, youtube_channel_id, title, url, duration, published_at, discovered_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (youtube_id) DO NOTHING`),
				video.ID, video.ChannelID, string(video.YoutubeID), string(video.YoutubeChannelID),
				video.Title, video.URL, video.Duration, video.PublishedAt, video.DiscoveredAt)
			if err != nil {
				return fmt.Errorf("insert video %s: %w", ref.YoutubeID, classify(err))
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO transcript (video_id, status, updated_at)
VALUES (?, ?, ?)`), video.ID, string(model.TranscriptPending), video.DiscoveredAt); err != nil {
				return fmt.Errorf("insert transcript %s: %w", ref.YoutubeID, classify(err))
			}
			added = append(added, video)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return added, nil
}

func (s *SQL) Video(ctx context.Context, youtubeID model.YoutubeVideoID) (*model.Video, error) {
	var video *model.Video
	err := s.read(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+videoColumns+` FROM video v WHERE v.youtube_id = ?`), string(youtubeID))
		v, err := scanVideo(row)
		if err != nil {
			return err
		}
		video = v
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", youtubeID, model.ErrNotFound)
	}

	return video, err
}

// PendingTranscripts lists videos that still need a fetch attempt: never
// tried, or failed transiently fewer than maxAttempts times. Oldest first.
func (s *SQL) PendingTranscripts(ctx context.Context, maxAttempts, limit int) ([]model.PendingTranscript, error) {
	var pending []model.PendingTranscript
	err := s.read(ctx, func(ctx context.Context) error {
		pending = []model.PendingTranscript{}
		rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT `+videoColumns+`, t.status, t.attempts, t.last_error, t.updated_at
FROM transcript t
JOIN video v ON v.id = t.video_id
WHERE t.status = ? OR (t.status = ? AND t.attempts < ?)
ORDER BY v.discovered_at, v.youtube_id
LIMIT ?`), string(model.TranscriptPending), string(model.TranscriptError), maxAttempts, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				v       model.Video
				t       model.Transcript
				chID    uuid.NullUUID
				ytID    string
				ytChID  string
				tStatus string
			)
			if err := rows.Scan(&v.ID, &chID, &ytID, &ytChID, &v.Title, &v.URL, &v.Duration, &v.PublishedAt, &v.DiscoveredAt,
				&tStatus, &t.Attempts, &t.LastError, &t.UpdatedAt); err != nil {
				return err
			}
			fillVideo(&v, chID, ytID, ytChID)
			t.VideoID = v.ID
			t.Status = model.TranscriptStatus(tStatus)
			t.UpdatedAt = t.UpdatedAt.UTC()
			pending = append(pending, model.PendingTranscript{Video: &v, Transcript: &t})
		}
		return rows.Err()
	})

	return pending, err
}

// SaveTranscript creates or replaces the single transcript row of a video.
func (s *SQL) SaveTranscript(ctx context.Context, transcript *model.Transcript) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO transcript (video_id, status, text, language, attempts, last_error, fetched_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (video_id) DO UPDATE SET
status = excluded.status,
text = excluded.text,
language = excluded.language,
attempts = excluded.attempts,
last_error = excluded.last_error,
fetched_at = excluded.fetched_at,
updated_at = excluded.updated_at`),
		transcript.VideoID, string(transcript.Status), transcript.Text, transcript.Language, transcript.Attempts,
		transcript.LastError, nullTime(transcript.FetchedAt), ts(transcript.UpdatedAt)); err != nil {
		return fmt.Errorf("save transcript %s: %w", transcript.VideoID, classify(err))
	}

	return nil
}

func (s *SQL) Transcript(ctx context.Context, videoID uuid.UUID) (*model.Transcript, error) {
	var transcript *model.Transcript
	err := s.read(ctx, func(ctx context.Context) error {
		var (
			t         model.Transcript
			status    string
			fetchedAt sql.NullTime
		)
		if err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT video_id, status, text, language, attempts, last_error, fetched_at, updated_at
FROM transcript WHERE video_id = ?`), videoID).Scan(
			&t.VideoID, &status, &t.Text, &t.Language, &t.Attempts, &t.LastError, &fetchedAt, &t.UpdatedAt); err != nil {
			return err
		}
		t.Status = model.TranscriptStatus(status)
		t.FetchedAt = fromNull(fetchedAt)
		t.UpdatedAt = t.UpdatedAt.UTC()
		transcript = &t
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transcript %s: %w", videoID, model.ErrNotFound)
	}

	return transcript, err
}

// Summarizable lists videos with a successful transcript and no summary.
func (s *SQL) Summarizable(ctx context.Context, limit int) ([]model.Summarizable, error) {
	var todo []model.Summarizable
	err := s.read(ctx, func(ctx context.Context) error {
		todo = []model.Summarizable{}
		rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT `+videoColumns+`, COALESCE(c.title, ''), t.text
FROM video v
JOIN transcript t ON t.video_id = v.id
LEFT JOIN summary s ON s.video_id = v.id
LEFT JOIN channel c ON c.id = v.channel_id
WHERE t.status = ? AND s.video_id IS NULL
ORDER BY v.discovered_at, v.youtube_id
LIMIT ?`), string(model.TranscriptSuccess), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				v      model.Video
				item   model.Summarizable
				chID   uuid.NullUUID
				ytID   string
				ytChID string
			)
			if err := rows.Scan(&v.ID, &chID, &ytID, &ytChID, &v.Title, &v.URL, &v.Duration, &v.PublishedAt, &v.DiscoveredAt,
				&item.ChannelTitle, &item.TranscriptText); err != nil {
				return err
			}
			fillVideo(&v, chID, ytID, ytChID)
			item.Video = &v
			todo = append(todo, item)
		}
		return rows.Err()
	})

	return todo, err
}

// AddSummary stores a summary and the notifications announcing it in one
// transaction. A summary without a successful transcript is refused.
func (s *SQL) AddSummary(ctx context.Context, summary *model.Summary, notifications []*model.Notification) error {
	keyPoints := summary.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}
	kp, err := json.Marshal(keyPoints)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM transcript WHERE video_id = ?`), summary.VideoID).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("summary for %s without transcript: %w", summary.VideoID, model.ErrIntegrity)
		case err != nil:
			return err
		case model.TranscriptStatus(status) != model.TranscriptSuccess:
			return fmt.Errorf("summary for %s with transcript status %s: %w", summary.VideoID, status, model.ErrIntegrity)
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO summary (video_id, text, key_points, model, created_at)
VALUES (?, ?, ?, ?, ?)`), summary.VideoID, summary.Text, string(kp), summary.Model, ts(summary.CreatedAt)); err != nil {
			return fmt.Errorf("insert summary %s: %w", summary.VideoID, classify(err))
		}

		for _, n := range notifications {
			if err := s.enqueue(ctx, tx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQL) Summary(ctx context.Context, videoID uuid.UUID) (*model.Summary, error) {
	var summary *model.Summary
	err := s.read(ctx, func(ctx context.Context) error {
		var (
			sum model.Summary
			kp  string
		)
		if err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT video_id, text, key_points, model, created_at FROM summary WHERE video_id = ?`), videoID).Scan(
			&sum.VideoID, &sum.Text, &kp, &sum.Model, &sum.CreatedAt); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(kp), &sum.KeyPoints); err != nil {
			return fmt.Errorf("key points of %s: %w", videoID, err)
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		summary = &sum
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("summary %s: %w", videoID, model.ErrNotFound)
	}

	return summary, err
}

func (s *SQL) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.read(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, s.rebind(`
SELECT
(SELECT COUNT(*) FROM channel),
(SELECT COUNT(*) FROM video),
(SELECT COUNT(*) FROM transcript WHERE status = ?),
(SELECT COUNT(*) FROM summary),
(SELECT COUNT(*) FROM run_history)`), string(model.TranscriptSuccess)).Scan(
			&stats.Channels, &stats.Videos, &stats.Transcripts, &stats.Summaries, &stats.Runs)
	})

	return stats, err
}

func scanVideo(row scanner) (*model.Video, error) {
	var (
		v      model.Video
		chID   uuid.NullUUID
		ytID   string
		ytChID string
	)
	if err := row.Scan(&v.ID, &chID, &ytID, &ytChID, &v.Title, &v.URL, &v.Duration, &v.PublishedAt, &v.DiscoveredAt); err != nil {
		return nil, err
	}
	fillVideo(&v, chID, ytID, ytChID)

	return &v, nil
}

func fillVideo(v *model.Video, chID uuid.NullUUID, ytID, ytChID string) {
	if chID.Valid {
		v.ChannelID = chID.UUID
	}
	v.YoutubeID = model.YoutubeVideoID(ytID)
	v.YoutubeChannelID = model.YoutubeChannelID(ytChID)
	v.PublishedAt = v.PublishedAt.UTC()
	v.DiscoveredAt = v.DiscoveredAt.UTC()
}

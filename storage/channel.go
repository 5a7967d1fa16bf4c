package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ewintr.nl/ytsum/model"
	"github.com/google/uuid"
)

const channelColumns = `id, user_id, youtube_channel_id, title, url, followed_at, last_checked_at`

func (s *SQL) AddChannel(ctx context.Context, channel *model.Channel) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO channel (`+channelColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		channel.ID, channel.UserID, string(channel.YoutubeChannelID), channel.Title, channel.URL,
		ts(channel.FollowedAt), nullTime(channel.LastCheckedAt)); err != nil {
		return fmt.Errorf("add channel %s: %w", channel.YoutubeChannelID, classify(err))
	}

	return nil
}

func (s *SQL) RemoveChannel(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM channel WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("remove channel %s: %w", id, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("channel %s: %w", id, model.ErrNotFound)
	}

	return nil
}

func (s *SQL) Channel(ctx context.Context, id uuid.UUID) (*model.Channel, error) {
	var channel *model.Channel
	err := s.read(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+channelColumns+` FROM channel WHERE id = ?`), id)
		c, err := scanChannel(row)
		if err != nil {
			return err
		}
		channel = c
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return channel, nil
}

// Channels returns all followed channels in the order they were followed.
func (s *SQL) Channels(ctx context.Context) ([]*model.Channel, error) {
	var channels []*model.Channel
	err := s.read(ctx, func(ctx context.Context) error {
		channels = []*model.Channel{}
		rows, err := s.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM channel ORDER BY followed_at, youtube_channel_id, user_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanChannel(rows)
			if err != nil {
				return err
			}
			channels = append(channels, c)
		}
		return rows.Err()
	})

	return channels, err
}

func (s *SQL) TouchChannel(ctx context.Context, id uuid.UUID, checkedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE channel SET last_checked_at = ? WHERE id = ?`), ts(checkedAt), id)
	return err
}

func scanChannel(row scanner) (*model.Channel, error) {
	var (
		c           model.Channel
		ytID        string
		lastChecked sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.UserID, &ytID, &c.Title, &c.URL, &c.FollowedAt, &lastChecked); err != nil {
		return nil, err
	}
	c.YoutubeChannelID = model.YoutubeChannelID(ytID)
	c.FollowedAt = c.FollowedAt.UTC()
	c.LastCheckedAt = fromNull(lastChecked)

	return &c, nil
}

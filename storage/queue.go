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

const notificationColumns = `id, recipient, payload, video_id, status, retry_count, last_error, created_at, updated_at, sent_at`

func (s *SQL) Enqueue(ctx context.Context, notification *model.Notification) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.enqueue(ctx, tx, notification)
	})
}

func (s *SQL) enqueue(ctx context.Context, tx *sql.Tx, n *model.Notification) error {
	if n.Status == "" {
		n.Status = model.NotificationPending
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	videoID := uuid.NullUUID{UUID: n.VideoID, Valid: n.VideoID != uuid.Nil}
	err := tx.QueryRowContext(ctx, s.rebind(`
INSERT INTO notification_queue (recipient, payload, video_id, status, retry_count, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`),
		n.Recipient, n.Payload, videoID, string(n.Status), n.RetryCount, n.LastError, ts(n.CreatedAt), ts(n.UpdatedAt)).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("enqueue for %s: %w", n.Recipient, classify(err))
	}

	return nil
}

func (s *SQL) Notification(ctx context.Context, id int64) (*model.Notification, error) {
	var notification *model.Notification
	err := s.read(ctx, func(ctx context.Context) error {
		n, err := scanNotification(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+notificationColumns+` FROM notification_queue WHERE id = ?`), id))
		if err != nil {
			return err
		}
		notification = n
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %d: %w", id, model.ErrNotFound)
	}

	return notification, err
}

// Deliverable returns entries that may be attempted, in creation order.
func (s *SQL) Deliverable(ctx context.Context, maxRetries, limit int) ([]*model.Notification, error) {
	var list []*model.Notification
	err := s.read(ctx, func(ctx context.Context) error {
		list = []*model.Notification{}
		rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT `+notificationColumns+`
FROM notification_queue
WHERE status IN (?, ?) AND retry_count < ?
ORDER BY id
LIMIT ?`), string(model.NotificationPending), string(model.NotificationFailed), maxRetries, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			n, err := scanNotification(rows)
			if err != nil {
				return err
			}
			list = append(list, n)
		}
		return rows.Err()
	})

	return list, err
}

// MarkSent is a no-op for entries that were already sent.
func (s *SQL) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE notification_queue SET status = ?, sent_at = ?, updated_at = ?, last_error = ''
WHERE id = ? AND status <> ?`),
		string(model.NotificationSent), ts(at), ts(at), id, string(model.NotificationSent))
	return err
}

// MarkFailed counts a failed attempt. The entry goes back to pending until the
// retry count reaches maxRetries, after which it is failed for good. The count
// never passes maxRetries and sent entries are left alone.
func (s *SQL) MarkFailed(ctx context.Context, id int64, reason string, maxRetries int, at time.Time) (model.NotificationStatus, error) {
	var status model.NotificationStatus
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`
UPDATE notification_queue SET
retry_count = retry_count + 1,
last_error = ?,
updated_at = ?,
status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END
WHERE id = ? AND status <> ? AND retry_count < ?`),
			reason, ts(at), maxRetries, string(model.NotificationFailed), string(model.NotificationPending),
			id, string(model.NotificationSent), maxRetries); err != nil {
			return err
		}
		var current string
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM notification_queue WHERE id = ?`), id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("notification %d: %w", id, model.ErrNotFound)
			}
			return err
		}
		status = model.NotificationStatus(current)
		return nil
	})

	return status, err
}

// QueueDepth counts entries still waiting for delivery.
func (s *SQL) QueueDepth(ctx context.Context) (int, error) {
	var depth int
	err := s.read(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM notification_queue WHERE status = ?`),
			string(model.NotificationPending)).Scan(&depth)
	})

	return depth, err
}

func (s *SQL) PruneSent(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM notification_queue WHERE status = ? AND sent_at < ?`),
		string(model.NotificationSent), ts(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()

	return int(n), err
}

func scanNotification(row scanner) (*model.Notification, error) {
	var (
		n       model.Notification
		videoID uuid.NullUUID
		status  string
		sentAt  sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.Recipient, &n.Payload, &videoID, &status, &n.RetryCount, &n.LastError,
		&n.CreatedAt, &n.UpdatedAt, &sentAt); err != nil {
		return nil, err
	}
	if videoID.Valid {
		n.VideoID = videoID.UUID
	}
	n.Status = model.NotificationStatus(status)
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	n.SentAt = fromNull(sentAt)

	return &n, nil
}

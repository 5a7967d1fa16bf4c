package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ewintr.nl/ytsum/model"
	"ewintr.nl/ytsum/storage"
)

type Messenger interface {
	Send(ctx context.Context, recipient, payload string) error
}

type Config struct {
	MaxRetries     int
	BatchSize      int
	RequestTimeout time.Duration
	// SendInterval is the pause between two messages.
	SendInterval time.Duration
	// Retention is how long sent entries are kept. Zero keeps them forever.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		BatchSize:      50,
		RequestTimeout: 30 * time.Second,
		SendInterval:   50 * time.Millisecond,
	}
}

type DeliveryStats struct {
	Attempted int
	Sent      int
	Retrying  int
	Failed    int
}

// Dispatcher delivers queued notifications. Delivery is at least once: an
// entry is only marked sent after the messenger accepted it.
type Dispatcher struct {
	queue     storage.QueueRepository
	messenger Messenger
	config    Config
	now       func() time.Time
	logger    *slog.Logger
}

func NewDispatcher(queue storage.QueueRepository, messenger Messenger, config Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		messenger: messenger,
		config:    config,
		now:       time.Now,
		logger:    logger,
	}
}

func (d *Dispatcher) Drain(ctx context.Context) (DeliveryStats, error) {
	stats := DeliveryStats{}
	if d.messenger == nil {
		return stats, nil
	}

	entries, err := d.queue.Deliverable(ctx, d.config.MaxRetries, d.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("could not read queue: %w", err)
	}

	for i, n := range entries {
		if i > 0 && d.config.SendInterval > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(d.config.SendInterval):
			}
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.Attempted++
		status, err := d.deliver(ctx, n)
		if err != nil {
			return stats, err
		}
		switch status {
		case model.NotificationSent:
			stats.Sent++
		case model.NotificationFailed:
			stats.Failed++
		default:
			stats.Retrying++
		}
	}

	if d.config.Retention > 0 {
		pruned, err := d.queue.PruneSent(ctx, d.now().Add(-d.config.Retention))
		if err != nil {
			return stats, fmt.Errorf("could not prune queue: %w", err)
		}
		if pruned > 0 {
			d.logger.Info("pruned sent notifications", slog.Int("count", pruned))
		}
	}

	if stats.Attempted > 0 {
		d.logger.Info("queue drained",
			slog.Int("attempted", stats.Attempted),
			slog.Int("sent", stats.Sent),
			slog.Int("retrying", stats.Retrying),
			slog.Int("failed", stats.Failed),
		)
	}

	return stats, nil
}

// deliver returns the status of the entry after the attempt. An error means
// the queue itself could not be updated.
func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification) (model.NotificationStatus, error) {
	sctx, cancel := context.WithTimeout(ctx, d.config.RequestTimeout)
	serr := d.messenger.Send(sctx, n.Recipient, n.Payload)
	cancel()

	// record the outcome even when shutting down, the message may be out
	uctx := context.WithoutCancel(ctx)
	if serr == nil {
		if err := d.queue.MarkSent(uctx, n.ID, d.now().UTC()); err != nil {
			return "", fmt.Errorf("could not mark notification %d sent: %w", n.ID, err)
		}
		return model.NotificationSent, nil
	}

	status, err := d.queue.MarkFailed(uctx, n.ID, serr.Error(), d.config.MaxRetries, d.now().UTC())
	if err != nil {
		return "", fmt.Errorf("could not mark notification %d failed: %w", n.ID, err)
	}
	if status == model.NotificationFailed {
		d.logger.Error("giving up on notification",
			slog.Int64("id", n.ID),
			slog.String("recipient", n.Recipient),
			slog.String("error", serr.Error()),
		)
		return status, nil
	}
	d.logger.Warn("failed to send notification",
		slog.Int64("id", n.ID),
		slog.String("recipient", n.Recipient),
		slog.String("error", serr.Error()),
	)

	return status, nil
}

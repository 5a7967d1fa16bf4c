package storage

import (
	"context"
	"errors"
	"time"

	"ewintr.nl/ytsum/model"
	"github.com/google/uuid"
)

var ErrRunLocked = errors.New("run lock held")

type ChannelRepository interface {
	AddChannel(ctx context.Context, channel *model.Channel) error
	RemoveChannel(ctx context.Context, id uuid.UUID) error
	Channel(ctx context.Context, id uuid.UUID) (*model.Channel, error)
	Channels(ctx context.Context) ([]*model.Channel, error)
	TouchChannel(ctx context.Context, id uuid.UUID, checkedAt time.Time) error
}

type VideoRepository interface {
	AddVideos(ctx context.Context, channel *model.Channel, refs []model.VideoRef, discoveredAt time.Time) ([]*model.Video, error)
	Video(ctx context.Context, youtubeID model.YoutubeVideoID) (*model.Video, error)
	PendingTranscripts(ctx context.Context, maxAttempts, limit int) ([]model.PendingTranscript, error)
	SaveTranscript(ctx context.Context, transcript *model.Transcript) error
	Transcript(ctx context.Context, videoID uuid.UUID) (*model.Transcript, error)
	Summarizable(ctx context.Context, limit int) ([]model.Summarizable, error)
	AddSummary(ctx context.Context, summary *model.Summary, notifications []*model.Notification) error
	Summary(ctx context.Context, videoID uuid.UUID) (*model.Summary, error)
	Stats(ctx context.Context) (Stats, error)
}

type RunRepository interface {
	StartRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
	Run(ctx context.Context, id uuid.UUID) (*model.Run, error)
	Runs(ctx context.Context, limit, offset int) ([]*model.Run, error)
	InProgressRuns(ctx context.Context) ([]*model.Run, error)
	AcquireRunLock(ctx context.Context, lock model.RunLock, staleBefore time.Time) (model.RunLock, error)
	ReleaseRunLock(ctx context.Context, runID uuid.UUID) error
	CurrentRunLock(ctx context.Context) (model.RunLock, bool, error)
}

type QueueRepository interface {
	Enqueue(ctx context.Context, notification *model.Notification) error
	Notification(ctx context.Context, id int64) (*model.Notification, error)
	Deliverable(ctx context.Context, maxRetries, limit int) ([]*model.Notification, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string, maxRetries int, at time.Time) (model.NotificationStatus, error)
	QueueDepth(ctx context.Context) (int, error)
	PruneSent(ctx context.Context, before time.Time) (int, error)
}

// Store is everything the core needs from persistence.
type Store interface {
	ChannelRepository
	VideoRepository
	RunRepository
	QueueRepository
}

type SummaryIndex interface {
	Save(ctx context.Context, video *model.Video, summary *model.Summary) error
}

type Stats struct {
	Channels    int
	Videos      int
	Transcripts int
	Summaries   int
	Runs        int
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ewintr.nl/ytsum/model"
	"ewintr.nl/ytsum/schedule"
	"ewintr.nl/ytsum/storage"
	"github.com/google/uuid"
)

type ChannelResolver interface {
	ResolveChannel(ctx context.Context, identifier string) (model.ChannelInfo, error)
}

type Scheduler interface {
	TriggerNow(ctx context.Context) (uuid.UUID, error)
	Status(ctx context.Context) (schedule.Status, error)
	RunHistory(ctx context.Context, limit, offset int) ([]*model.Run, error)
}

// App is what a user interface gets to see of the system.
type App struct {
	store     storage.Store
	scheduler Scheduler
	resolver  ChannelResolver
	userID    string
	now       func() time.Time
	logger    *slog.Logger
}

func New(store storage.Store, scheduler Scheduler, resolver ChannelResolver, userID string, logger *slog.Logger) *App {
	return &App{
		store:     store,
		scheduler: scheduler,
		resolver:  resolver,
		userID:    userID,
		now:       time.Now,
		logger:    logger,
	}
}

// TriggerRun starts a manual run. If one is already active, its id is
// returned with schedule.ErrRunInProgress.
func (a *App) TriggerRun(ctx context.Context) (uuid.UUID, error) {
	id, err := a.scheduler.TriggerNow(ctx)
	if err != nil {
		return id, err
	}
	a.logger.Info("manual run triggered", slog.String("run", id.String()))

	return id, nil
}

func (a *App) RunHistory(ctx context.Context, limit, offset int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	return a.scheduler.RunHistory(ctx, limit, offset)
}

func (a *App) Status(ctx context.Context) (schedule.Status, error) {
	return a.scheduler.Status(ctx)
}

func (a *App) AddChannel(ctx context.Context, identifier string) (*model.Channel, error) {
	info, err := a.resolver.ResolveChannel(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("could not resolve channel %q: %w", identifier, err)
	}

	channel := &model.Channel{
		ID:               uuid.New(),
		UserID:           a.userID,
		YoutubeChannelID: info.YoutubeChannelID,
		Title:            info.Title,
		URL:              info.URL,
		FollowedAt:       a.now().UTC(),
	}
	if err := a.store.AddChannel(ctx, channel); err != nil {
		return nil, fmt.Errorf("could not follow channel %s: %w", info.YoutubeChannelID, err)
	}
	a.logger.Info("following channel", slog.String("channel", string(channel.YoutubeChannelID)), slog.String("title", channel.Title))

	return channel, nil
}

func (a *App) RemoveChannel(ctx context.Context, id uuid.UUID) error {
	if err := a.store.RemoveChannel(ctx, id); err != nil {
		return fmt.Errorf("could not unfollow channel %s: %w", id, err)
	}
	a.logger.Info("unfollowed channel", slog.String("id", id.String()))

	return nil
}

func (a *App) Channels(ctx context.Context) ([]*model.Channel, error) {
	return a.store.Channels(ctx)
}

func (a *App) Stats(ctx context.Context) (storage.Stats, error) {
	return a.store.Stats(ctx)
}

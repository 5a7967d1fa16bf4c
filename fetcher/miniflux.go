package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ewintr.nl/ytsum/model"
	"miniflux.app/client"
)

const (
	youtubeFeedPrefix  = "https://www.youtube.com/feeds/videos.xml?channel_id="
	youtubeWatchPrefix = "https://www.youtube.com/watch?v="
)

type MinifluxInfo struct {
	Endpoint string
	ApiKey   string
}

// MinifluxClient is the part of the miniflux client used here.
type MinifluxClient interface {
	Feeds() (client.Feeds, error)
	FeedEntries(feedID int64, filter *client.Filter) (*client.EntryResultSet, error)
}

// Miniflux discovers videos through the YouTube RSS feeds a Miniflux
// instance is subscribed to. It costs no Data API quota, but can only
// see channels that were added to Miniflux.
type Miniflux struct {
	client MinifluxClient
}

func NewMiniflux(mflInfo MinifluxInfo) *Miniflux {
	return &Miniflux{
		client: client.New(mflInfo.Endpoint, mflInfo.ApiKey),
	}
}

func NewMinifluxWithClient(c MinifluxClient) *Miniflux {
	return &Miniflux{client: c}
}

func (m *Miniflux) ListRecentVideos(ctx context.Context, channelID model.YoutubeChannelID, since time.Time, max int) ([]model.VideoRef, error) {
	feed, err := m.feed(ctx, channelID)
	if err != nil {
		return nil, err
	}

	result, err := withContext(ctx, func() (*client.EntryResultSet, error) {
		return m.client.FeedEntries(feed.ID, &client.Filter{
			After:     since.Unix(),
			Limit:     max,
			Order:     "published_at",
			Direction: "desc",
		})
	})
	if err != nil {
		return nil, minifluxError("feed entries", err)
	}

	refs := []model.VideoRef{}
	for _, entry := range result.Entries {
		if !strings.HasPrefix(entry.URL, youtubeWatchPrefix) {
			continue
		}
		refs = append(refs, model.VideoRef{
			YoutubeID:   model.YoutubeVideoID(strings.TrimPrefix(entry.URL, youtubeWatchPrefix)),
			Title:       entry.Title,
			PublishedAt: entry.Date.UTC(),
		})
	}

	return refs, nil
}

func (m *Miniflux) ResolveChannel(ctx context.Context, identifier string) (model.ChannelInfo, error) {
	ci, err := ParseChannelIdentifier(identifier)
	if err != nil {
		return model.ChannelInfo{}, err
	}
	if ci.Kind != KindChannelID {
		return model.ChannelInfo{}, fmt.Errorf("miniflux can only resolve channel ids, got %s: %w", ci, model.ErrNotFound)
	}

	id := model.YoutubeChannelID(ci.Value)
	feed, err := m.feed(ctx, id)
	if err != nil {
		return model.ChannelInfo{}, err
	}

	return model.ChannelInfo{YoutubeChannelID: id, Title: feed.Title, URL: model.ChannelURL(id)}, nil
}

func (m *Miniflux) feed(ctx context.Context, channelID model.YoutubeChannelID) (*client.Feed, error) {
	feeds, err := withContext(ctx, m.client.Feeds)
	if err != nil {
		return nil, minifluxError("feeds", err)
	}
	for _, feed := range feeds {
		if feed.FeedURL == youtubeFeedPrefix+string(channelID) {
			return feed, nil
		}
	}

	return nil, fmt.Errorf("no miniflux feed for channel %s: %w", channelID, model.ErrNotFound)
}

// withContext returns when ctx is done, the miniflux client only has its own
// fixed timeout. The abandoned call finishes in the background.
func withContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v: v, err: err}
	}()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}

func minifluxError(op string, err error) error {
	switch {
	case errors.Is(err, client.ErrNotAuthorized), errors.Is(err, client.ErrForbidden):
		return fmt.Errorf("%s: %w: %v", op, model.ErrConfiguration, err)
	case errors.Is(err, client.ErrNotFound):
		return fmt.Errorf("%s: %w: %v", op, model.ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, model.ErrUnavailable, err)
	}
}

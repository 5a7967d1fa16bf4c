package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ewintr.nl/ytsum/model"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"
)

const maxSearchResults = 50

type Metadata struct {
	Title       string
	Description string
	Duration    string
	PublishedAt time.Time
}

type Youtube struct {
	Client *youtube.Service
}

func NewYoutube(client *youtube.Service) *Youtube {
	return &Youtube{Client: client}
}

// ListRecentVideos returns the newest videos of a channel published after
// since, newest first, at most max.
func (y *Youtube) ListRecentVideos(ctx context.Context, channelID model.YoutubeChannelID, since time.Time, max int) ([]model.VideoRef, error) {
	if max <= 0 || max > maxSearchResults {
		max = maxSearchResults
	}
	call := y.Client.Search.
		List([]string{"id"}).
		MaxResults(int64(max)).
		Type("video").
		Order("date").
		ChannelId(string(channelID)).
		PublishedAfter(since.UTC().Format(time.RFC3339)).
		Context(ctx)

	response, err := call.Do()
	if err != nil {
		return nil, apiError(fmt.Sprintf("search channel %s", channelID), err)
	}

	ids := make([]model.YoutubeVideoID, 0, len(response.Items))
	for _, item := range response.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		ids = append(ids, model.YoutubeVideoID(item.Id.VideoId))
	}
	if len(ids) == 0 {
		return []model.VideoRef{}, nil
	}

	mds, err := y.FetchMetadata(ctx, ids)
	if err != nil {
		return nil, err
	}

	refs := make([]model.VideoRef, 0, len(ids))
	for _, id := range ids {
		md, ok := mds[id]
		if !ok {
			continue
		}
		refs = append(refs, model.VideoRef{
			YoutubeID:   id,
			Title:       md.Title,
			Duration:    md.Duration,
			PublishedAt: md.PublishedAt,
		})
	}

	return refs, nil
}

func (y *Youtube) FetchMetadata(ctx context.Context, ytIDs []model.YoutubeVideoID) (map[model.YoutubeVideoID]Metadata, error) {
	strIDs := make([]string, len(ytIDs))
	for i, id := range ytIDs {
		strIDs[i] = string(id)
	}
	call := y.Client.Videos.
		List([]string{"snippet", "contentDetails"}).
		Id(strings.Join(strIDs, ",")).
		Context(ctx)

	response, err := call.Do()
	if err != nil {
		return map[model.YoutubeVideoID]Metadata{}, apiError("fetch metadata", err)
	}

	mds := make(map[model.YoutubeVideoID]Metadata, len(response.Items))
	for _, item := range response.Items {
		if item.Snippet == nil {
			continue
		}
		md := Metadata{
			Title:       item.Snippet.Title,
			Description: item.Snippet.Description,
		}
		if published, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			md.PublishedAt = published
		}
		if item.ContentDetails != nil {
			md.Duration = item.ContentDetails.Duration
		}

		mds[model.YoutubeVideoID(item.Id)] = md
	}

	return mds, nil
}

// ResolveChannel looks a channel up by id, legacy username, or handle/custom
// name, in that order of precision.
func (y *Youtube) ResolveChannel(ctx context.Context, identifier string) (model.ChannelInfo, error) {
	ci, err := ParseChannelIdentifier(identifier)
	if err != nil {
		return model.ChannelInfo{}, err
	}

	switch ci.Kind {
	case KindChannelID:
		return y.channel(ctx, y.Client.Channels.List([]string{"snippet"}).Id(ci.Value), ci)
	case KindUser:
		return y.channel(ctx, y.Client.Channels.List([]string{"snippet"}).ForUsername(ci.Value), ci)
	}

	response, err := y.Client.Search.
		List([]string{"snippet"}).
		Q(ci.Value).
		Type("channel").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return model.ChannelInfo{}, apiError("search channel "+ci.String(), err)
	}
	if len(response.Items) == 0 || response.Items[0].Snippet == nil {
		return model.ChannelInfo{}, fmt.Errorf("channel %s: %w", ci, model.ErrNotFound)
	}
	snippet := response.Items[0].Snippet
	id := model.YoutubeChannelID(snippet.ChannelId)

	return model.ChannelInfo{YoutubeChannelID: id, Title: snippet.Title, URL: model.ChannelURL(id)}, nil
}

func (y *Youtube) channel(ctx context.Context, call *youtube.ChannelsListCall, ci ChannelIdentifier) (model.ChannelInfo, error) {
	response, err := call.Context(ctx).Do()
	if err != nil {
		return model.ChannelInfo{}, apiError("get channel "+ci.String(), err)
	}
	if len(response.Items) == 0 || response.Items[0].Snippet == nil {
		return model.ChannelInfo{}, fmt.Errorf("channel %s: %w", ci, model.ErrNotFound)
	}
	item := response.Items[0]
	id := model.YoutubeChannelID(item.Id)

	return model.ChannelInfo{YoutubeChannelID: id, Title: item.Snippet.Title, URL: model.ChannelURL(id)}, nil
}

// apiError sorts Data API failures into the error taxonomy.
func apiError(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w: %v", op, model.ErrUnavailable, err)
	}

	reasons := map[string]bool{}
	for _, item := range gerr.Errors {
		reasons[item.Reason] = true
	}
	switch {
	case gerr.Code == http.StatusUnauthorized, reasons["keyInvalid"], reasons["keyExpired"], reasons["accessNotConfigured"]:
		return fmt.Errorf("%s: %w: %v", op, model.ErrConfiguration, err)
	case reasons["quotaExceeded"], reasons["dailyLimitExceeded"], reasons["rateLimitExceeded"], reasons["userRateLimitExceeded"]:
		return fmt.Errorf("%s: %w: %v", op, model.ErrQuotaExceeded, err)
	case gerr.Code == http.StatusNotFound, reasons["channelNotFound"]:
		return fmt.Errorf("%s: %w: %v", op, model.ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, model.ErrUnavailable, err)
	}
}

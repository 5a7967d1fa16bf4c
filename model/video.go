package model

import (
	"time"

	"github.com/google/uuid"
)

type YoutubeVideoID string

// VideoRef is a video as reported by a channel resolver.
type VideoRef struct {
	YoutubeID   YoutubeVideoID
	Title       string
	Duration    string
	PublishedAt time.Time
}

type Video struct {
	ID               uuid.UUID
	ChannelID        uuid.UUID
	YoutubeID        YoutubeVideoID
	YoutubeChannelID YoutubeChannelID
	Title            string
	URL              string
	Duration         string
	PublishedAt      time.Time
	DiscoveredAt     time.Time
}

func VideoURL(id YoutubeVideoID) string {
	return "https://www.youtube.com/watch?v=" + string(id)
}

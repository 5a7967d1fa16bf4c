package model

import (
	"time"

	"github.com/google/uuid"
)

type YoutubeChannelID string

type Channel struct {
	ID               uuid.UUID
	UserID           string
	YoutubeChannelID YoutubeChannelID
	Title            string
	URL              string
	FollowedAt       time.Time
	LastCheckedAt    time.Time
}

// ChannelInfo is what a resolver knows about a channel before it is followed.
type ChannelInfo struct {
	YoutubeChannelID YoutubeChannelID
	Title            string
	URL              string
}

func ChannelURL(id YoutubeChannelID) string {
	return "https://www.youtube.com/channel/" + string(id)
}

package model

import (
	"time"

	"github.com/google/uuid"
)

type Summary struct {
	VideoID   uuid.UUID
	Text      string
	KeyPoints []string
	Model     string
	CreatedAt time.Time
}

// SummaryResult is what the summarization client returns.
type SummaryResult struct {
	Text      string
	KeyPoints []string
}

// Summarizable is a video with a successful transcript and no summary yet.
type Summarizable struct {
	Video          *Video
	ChannelTitle   string
	TranscriptText string
}

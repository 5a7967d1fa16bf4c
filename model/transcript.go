package model

import (
	"time"

	"github.com/google/uuid"
)

type TranscriptStatus string

const (
	TranscriptPending     TranscriptStatus = "pending"
	TranscriptSuccess     TranscriptStatus = "success"
	TranscriptUnavailable TranscriptStatus = "unavailable"
	TranscriptError       TranscriptStatus = "error"
)

type Transcript struct {
	VideoID   uuid.UUID
	Status    TranscriptStatus
	Text      string
	Language  string
	Attempts  int
	LastError string
	FetchedAt time.Time
	UpdatedAt time.Time
}

// TranscriptResult is the outcome of a single fetch attempt.
type TranscriptResult struct {
	Status   TranscriptStatus
	Text     string
	Language string
}

// PendingTranscript pairs a video with its transcript row for the fetch step.
type PendingTranscript struct {
	Video      *Video
	Transcript *Transcript
}

package model

import (
	"time"

	"github.com/google/uuid"
)

type RunTrigger string

const (
	TriggerManual    RunTrigger = "manual"
	TriggerScheduled RunTrigger = "scheduled"
)

type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunPartial    RunStatus = "partial"
	RunFailed     RunStatus = "failed"
)

type Run struct {
	ID                 uuid.UUID
	Trigger            RunTrigger
	Status             RunStatus
	StartedAt          time.Time
	FinishedAt         time.Time
	ChannelsChecked    int
	VideosDiscovered   int
	TranscriptsFetched int
	SummariesCreated   int
	Errors             int
	ErrorDetail        []string
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool {
	return r.Status != RunInProgress
}

// RecordError counts a unit failure and keeps a readable line for operators.
func (r *Run) RecordError(unit string, err error) {
	r.Errors++
	r.ErrorDetail = append(r.ErrorDetail, string(KindOf(err))+": "+unit+": "+err.Error())
}

// RunLock marks the run that currently owns the pipeline.
type RunLock struct {
	RunID      uuid.UUID
	Owner      string
	AcquiredAt time.Time
}

package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talkpip/acquire"
	"talkpip/composite"
	"talkpip/ffmpeg"
	"talkpip/render"
	"talkpip/slides"
	"talkpip/talk"
	"talkpip/timeline"
)

type Status string

const (
	StatusQueued           Status = "queued"
	StatusDownloading      Status = "downloading"
	StatusExtractingSlides Status = "extracting_slides"
	StatusBuildingTimeline Status = "building_timeline"
	StatusRendering        Status = "rendering"
	StatusCompositing      Status = "compositing"
	StatusDone             Status = "done"
	StatusFailed           Status = "failed"
)

var stageOrder = []Status{
	StatusQueued,
	StatusDownloading,
	StatusExtractingSlides,
	StatusBuildingTimeline,
	StatusRendering,
	StatusCompositing,
	StatusDone,
}

func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

func (s Status) rank() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether a job may move from one status to another.
// Jobs only move one stage forward at a time or drop to failed, and never
// leave a terminal status.
func CanTransition(from, to Status) bool {
	if from.Terminal() || from.rank() < 0 {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return to.rank() == from.rank()+1
}

// Job is one talk inside a batch.
type Job struct {
	ID          string
	BatchID     string
	Index       int
	Talk        *talk.Talk
	Status      Status
	Stage       Status
	Err         error
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// JobResult is the reportable view of a job.
type JobResult struct {
	Index       int       `json:"index"`
	URL         string    `json:"url"`
	TalkID      string    `json:"talkId"`
	Key         string    `json:"key"`
	Dir         string    `json:"dir"`
	Status      Status    `json:"status"`
	OK          bool      `json:"ok"`
	Stage       Status    `json:"stage,omitempty"`
	ErrorKind   string    `json:"errorKind,omitempty"`
	Error       string    `json:"error,omitempty"`
	OutputPath  string    `json:"outputPath,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Elapsed     string    `json:"elapsed,omitempty"`
}

func (j *Job) result() JobResult {
	r := JobResult{
		Index:       j.Index,
		URL:         j.Talk.URL,
		TalkID:      j.Talk.ID,
		Key:         j.Talk.Key,
		Dir:         j.Talk.Dir,
		Status:      j.Status,
		OK:          j.Status == StatusDone,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Status == StatusDone {
		r.OutputPath = j.Talk.OutputPath
	}
	if j.Status == StatusFailed {
		r.Stage = j.Stage
		r.ErrorKind = Kind(j.Err)
		if j.Err != nil {
			r.Error = j.Err.Error()
		}
	}
	if !j.StartedAt.IsZero() && !j.CompletedAt.IsZero() {
		r.Elapsed = j.CompletedAt.Sub(j.StartedAt).Round(time.Second).String()
	}
	return r
}

// StageError records the stage a talk was in when it failed.
type StageError struct {
	Stage Status
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

var errCanceledInQueue = errors.New("canceled before processing started")

// Kind classifies a talk failure for reports.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, errCanceledInQueue):
		return "canceled"
	case errors.Is(err, acquire.ErrDownload):
		return "download"
	case errors.Is(err, slides.ErrNoSlides):
		return "slides"
	case errors.Is(err, timeline.ErrMalformedTimeline):
		return "malformed_timeline"
	case errors.Is(err, render.ErrRender):
		return "render"
	case errors.Is(err, composite.ErrDurationMismatch):
		return "duration_mismatch"
	case errors.Is(err, composite.ErrComposition):
		return "composition"
	case errors.Is(err, ffmpeg.ErrInsufficientResources):
		return "resources"
	case errors.Is(err, talk.ErrLocked):
		return "locked"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

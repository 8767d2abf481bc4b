package model

import "time"

// JobStatus is the lifecycle state of an analysis job. Running is the only
// non-terminal state.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError || s == JobStatusCanceled
}

// JobInfo is the pollable snapshot of an analysis job. It is in-memory only
// and never persisted.
type JobInfo struct {
	ID        string         `json:"id"`
	Type      AnalysisType   `json:"type"`
	Params    AnalysisParams `json:"params"`
	Status    JobStatus      `json:"status"`
	Progress  float64        `json:"progress"` // 0..1
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Error     string         `json:"error,omitempty"`
}

package worker

import (
	"github.com/book-expert/events"

	"github.com/book-expert/audiobook-creator/internal/core"
)

// ConvertRequest asks the daemon to convert one book. Unset optional fields
// fall back to the daemon's configured defaults.
type ConvertRequest struct {
	Header          events.EventHeader `json:"header"`
	SourcePath      string             `json:"source_path"`
	OutputName      string             `json:"output_name,omitempty"`
	Voice           string             `json:"voice,omitempty"`
	Speed           float64            `json:"speed,omitempty"`
	CleaningEnabled *bool              `json:"cleaning_enabled,omitempty"`
	Title           string             `json:"title,omitempty"`
	Author          string             `json:"author,omitempty"`
}

// ConvertReply acknowledges admission of a conversion job.
type ConvertReply struct {
	JobID    string `json:"job_id,omitempty"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// CancelRequest asks for cooperative cancellation of a running job.
type CancelRequest struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id"`
}

// CancelReply acknowledges a cancellation request.
type CancelReply struct {
	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error,omitempty"`
}

// StatusRequest asks for a job snapshot. An empty JobID means the active
// job.
type StatusRequest struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id,omitempty"`
}

// StatusReply carries the last observed snapshot of the requested job.
type StatusReply struct {
	Snapshot core.JobSnapshot `json:"snapshot"`
	Error    string           `json:"error,omitempty"`
}

// ProgressEvent is published on the per-job progress subject after every
// snapshot change.
type ProgressEvent struct {
	Header   events.EventHeader `json:"header"`
	Snapshot core.JobSnapshot   `json:"snapshot"`
}

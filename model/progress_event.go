package model

import "time"

// EventType progress channel event type
type EventType string

const (
	EventPackagingQueued    EventType = "packaging-queued"
	EventPackagingStarted   EventType = "packaging-started"
	EventPackagingProgress  EventType = "packaging-progress"
	EventPackagingCompleted EventType = "packaging-completed"
	EventPackagingFailed    EventType = "packaging-failed"
	EventPackagingCancelled EventType = "packaging-cancelled"

	EventExtractionStarted   EventType = "zip-extraction-started"
	EventExtractionProgress  EventType = "zip-extraction-progress"
	EventExtractionCompleted EventType = "zip-extraction-completed"
	EventExtractionFailed    EventType = "zip-extraction-failed"

	EventJobProgress EventType = "job-progress"
)

// IsTaskEvent reports whether the event refers to a single platform task
func (t EventType) IsTaskEvent() bool {
	switch t {
	case EventPackagingQueued, EventPackagingStarted, EventPackagingProgress,
		EventPackagingCompleted, EventPackagingFailed, EventPackagingCancelled:
		return true
	}
	return false
}

// ProgressEvent envelope emitted on the progress channel
type ProgressEvent struct {
	Type      EventType    `json:"type"`
	JobId     string       `json:"jobId"`
	TaskId    string       `json:"taskId,omitempty"`
	Platform  Platform     `json:"platform,omitempty"`
	Status    string       `json:"status,omitempty"`
	Progress  int          `json:"progress"`
	Message   string       `json:"message,omitempty"`
	Outcome   TaskOutcome  `json:"outcome,omitempty"`
	Error     *ErrorRecord `json:"error,omitempty"`
	ElapsedMs int64        `json:"elapsedTime"`
	Timestamp time.Time    `json:"timestamp"`
}

package models

import "time"

// EventKind classifies a change notification emitted by the lifecycle manager
type EventKind string

const (
	EventState    EventKind = "state"    // job entered a new lifecycle state
	EventOutput   EventKind = "output"   // output text was appended
	EventProgress EventKind = "progress" // download progress changed
	EventAlert    EventKind = "alert"    // one-shot failure notification
)

// Event is a change notification for observers of the job store. Alerts are
// delivered once and never persisted with the job, so they are not re-shown
// after a restart.
type Event struct {
	At       time.Time `json:"at"`
	JobID    string    `json:"job_id"`
	Kind     EventKind `json:"kind"`
	Status   JobStatus `json:"status,omitempty"`
	Fraction float64   `json:"fraction,omitempty"`
	Message  string    `json:"message,omitempty"`
}

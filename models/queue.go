package models

import (
	"time"
)

type QueueStatus string

const (
	StatusWaiting  QueueStatus = "waiting"
	StatusReserved QueueStatus = "reserved"
)

// QueueEntry is one user's attempt to obtain an interview slot. Entries are
// deleted on claim, expiry or leave; there is no terminal stored state.
type QueueEntry struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Status      QueueStatus `json:"status"`
	JoinedAt    time.Time   `json:"joined_at"`
	ReservedAt  time.Time   `json:"reserved_at,omitzero"`
	TimerEndsAt time.Time   `json:"timer_ends_at,omitzero"`
}

func (e *QueueEntry) IsActive() bool {
	return e.Status == StatusWaiting || e.Status == StatusReserved
}

// Expired reports whether a reserved entry's claim window has closed.
// Only the server-side sweep acts on this authoritatively.
func (e *QueueEntry) Expired(now time.Time) bool {
	return e.Status == StatusReserved && !e.TimerEndsAt.IsZero() && e.TimerEndsAt.Before(now)
}

type AdmissionAction string

const (
	ActionStartNow AdmissionAction = "START_NOW"
	ActionEnqueue  AdmissionAction = "ENQUEUE"
)

// AdmissionDecision is the result of joinQueueOrStart: either the caller may
// start a session immediately, or it holds a place in line under QueueID.
type AdmissionDecision struct {
	Action  AdmissionAction `json:"action"`
	QueueID string          `json:"queue_id,omitempty"`
}

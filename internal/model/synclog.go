package model

import (
	"fmt"
	"time"
)

// SyncDirection identifies which half of a cycle produced a log entry.
type SyncDirection string

const (
	// DirectionTrelloToCalendar marks the card-to-event pass.
	DirectionTrelloToCalendar SyncDirection = "trello-to-calendar"

	// DirectionCalendarToTrello marks the event-to-card pass.
	DirectionCalendarToTrello SyncDirection = "calendar-to-trello"
)

// SyncAction is the corrective operation a log entry records.
type SyncAction string

const (
	ActionCreated SyncAction = "created"
	ActionUpdated SyncAction = "updated"
	ActionDeleted SyncAction = "deleted"
)

// SyncLogEntry is one append-only audit record. Entries are written as
// operations happen and are never mutated afterwards.
type SyncLogEntry struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	Timestamp time.Time     `json:"timestamp"`
	Direction SyncDirection `json:"type"`
	Action    SyncAction    `json:"action"`
	Details   string        `json:"details"`
}

// Validate checks the entry before it is persisted.
func (e *SyncLogEntry) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("log entry user id is required")
	}
	switch e.Direction {
	case DirectionTrelloToCalendar, DirectionCalendarToTrello:
	default:
		return fmt.Errorf("log entry direction %q is invalid", e.Direction)
	}
	switch e.Action {
	case ActionCreated, ActionUpdated, ActionDeleted:
	default:
		return fmt.Errorf("log entry action %q is invalid", e.Action)
	}
	return nil
}

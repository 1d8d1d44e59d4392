package model

import "time"

// OpResult records the outcome of one corrective operation inside a pass.
// Failed items carry the error text; the pass itself keeps going.
type OpResult struct {
	// CardID and EventID identify the item the operation touched. At least
	// one is set; creations fill in the new counterpart's ID on success.
	CardID  string `json:"cardId,omitempty"`
	EventID string `json:"eventId,omitempty"`

	// Title is the item title at the time of the operation, for readability
	// in logs and reports.
	Title string `json:"title,omitempty"`

	Action  SyncAction `json:"action"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}

// SyncReport summarizes one full cycle for a (user, board) pair: every
// corrective operation from both passes, successes and failures alike.
type SyncReport struct {
	UserID  string `json:"userId"`
	BoardID string `json:"boardId"`

	TrelloToCalendar []OpResult `json:"trelloToCalendar"`
	CalendarToTrello []OpResult `json:"calendarToTrello"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Failures returns the count of failed operations across both passes.
func (r *SyncReport) Failures() int {
	n := 0
	for _, op := range r.TrelloToCalendar {
		if !op.Success {
			n++
		}
	}
	for _, op := range r.CalendarToTrello {
		if !op.Success {
			n++
		}
	}
	return n
}

// Ops returns the total number of operations across both passes.
func (r *SyncReport) Ops() int {
	return len(r.TrelloToCalendar) + len(r.CalendarToTrello)
}

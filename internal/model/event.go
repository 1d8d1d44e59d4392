package model

import (
	"fmt"
	"time"
)

// LinkMeta is the side-channel metadata that correlates a calendar event to
// the Trello card it mirrors. It rides in the event's private extended
// properties and is the only correlation mechanism the engine uses; titles
// are never matched. An event without link metadata is treated as
// user-created.
type LinkMeta struct {
	// CardID is the linked Trello card ID ("trelloCardId" on the wire).
	CardID string `json:"trelloCardId,omitempty"`

	// BoardID is the linked Trello board ID ("trelloBoardId" on the wire).
	BoardID string `json:"trelloBoardId,omitempty"`
}

// Linked reports whether the event carries card link metadata.
func (l LinkMeta) Linked() bool {
	return l.CardID != ""
}

// Event represents a Google Calendar event as seen by the sync engine.
type Event struct {
	// ID is the calendar event ID, assigned by Google.
	ID string `json:"id"`

	// Title is the event summary.
	Title string `json:"summary"`

	// Description is the event body text.
	Description string `json:"description,omitempty"`

	// Start and End bound the event. For cards with a due date the window is
	// [due, due+1h); for cards without one it is an all-day placeholder
	// starting at the next UTC midnight.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// AllDay marks date-only events. Start and End then carry midnight UTC.
	AllDay bool `json:"allDay,omitempty"`

	// SourceURL is the card permalink attached to the event's source field.
	SourceURL string `json:"sourceUrl,omitempty"`

	// Link carries the card correlation metadata, if any.
	Link LinkMeta `json:"link,omitempty"`
}

// Validate checks that the event carries the fields the engine depends on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Start.IsZero() {
		return fmt.Errorf("event start is required")
	}
	return nil
}

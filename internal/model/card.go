// Package model provides the core data structures shared by the sync bridge:
// Trello cards, calendar events, per-board snapshots, sync log entries and
// per-user sync configuration.
package model

import (
	"fmt"
	"time"
)

// Card represents a Trello card as seen by the sync engine.
//
// Identity is the Trello card ID, unique within the task service. Cards are
// owned by Trello; the bridge only mirrors them into snapshots and calendar
// events, it never invents card IDs of its own.
type Card struct {
	// ID is the Trello card ID.
	ID string `json:"id"`

	// Title is the card name ("name" on the Trello wire).
	Title string `json:"name"`

	// Description is the card's free-form description, if any.
	Description string `json:"desc,omitempty"`

	// URL is the card's shortUrl/permalink, carried into event descriptions.
	URL string `json:"url,omitempty"`

	// DueAt is the card due date. Cards without one get an all-day
	// placeholder event instead of a timed block.
	DueAt *time.Time `json:"due,omitempty"`

	// ListID is the Trello list the card currently sits in.
	ListID string `json:"idList"`

	// BoardID is the Trello board the card belongs to.
	BoardID string `json:"idBoard"`
}

// Validate checks that the card carries the fields the engine depends on.
func (c *Card) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("card id is required")
	}
	if c.Title == "" {
		return fmt.Errorf("card title is required")
	}
	if c.BoardID == "" {
		return fmt.Errorf("card board id is required")
	}
	return nil
}

// Board is a Trello board reference, used by enrollment validation.
type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// List is a Trello list reference within a board.
type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

package model

import (
	"fmt"
	"time"
)

// Enrollment binds one Trello board to the list new cards land in when
// calendar events flow back as cards.
type Enrollment struct {
	BoardID string `json:"boardId"`
	ListID  string `json:"listId"`
}

// Validate checks that the enrollment names both sides.
func (e *Enrollment) Validate() error {
	if e.BoardID == "" {
		return fmt.Errorf("enrollment board id is required")
	}
	if e.ListID == "" {
		return fmt.Errorf("enrollment list id is required")
	}
	return nil
}

// GoogleToken is the stored calendar credential triple. Expiry drives the
// refresh guard; AccessToken is what per-job clients are built with.
type GoogleToken struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Expiry       time.Time `json:"expiry"`
}

// ExpiresWithin reports whether the access token expires before now+margin.
// A zero Expiry means the token never came with one and counts as expired.
func (t GoogleToken) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if t.Expiry.IsZero() {
		return true
	}
	return t.Expiry.Before(now.Add(margin))
}

// User is the per-user sync configuration: enrollments, the enabled flag the
// scheduler filters on, and the credentials jobs are built from.
type User struct {
	ID          string       `json:"id"`
	Email       string       `json:"email,omitempty"`
	SyncEnabled bool         `json:"syncEnabled"`
	Boards      []Enrollment `json:"syncBoards"`
	TrelloToken string       `json:"-"`
	Google      GoogleToken  `json:"-"`
}

// Enrolled reports whether the user has the given board enrolled, returning
// the enrollment when present.
func (u *User) Enrolled(boardID string) (Enrollment, bool) {
	for _, b := range u.Boards {
		if b.BoardID == boardID {
			return b, true
		}
	}
	return Enrollment{}, false
}

package model

import "time"

// SnapshotCard is the slim card record kept in a snapshot. Only the fields
// the reconciler diffs against are stored.
type SnapshotCard struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Due          *time.Time `json:"due,omitempty"`
	ListID       string     `json:"idList"`
	LastModified time.Time  `json:"lastModified"`
}

// SnapshotEvent is the slim event record kept in a snapshot.
type SnapshotEvent struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Start        time.Time `json:"start"`
	LastModified time.Time `json:"lastModified"`
}

// Snapshot is the durable record of the last successfully synced state for
// one (user, board) pair. The reconciler diffs live data against it to decide
// which items changed since the previous cycle, then replaces it wholesale
// after a cycle completes.
type Snapshot struct {
	UserID  string          `json:"userId"`
	BoardID string          `json:"boardId"`
	Cards   []SnapshotCard  `json:"trelloCards"`
	Events  []SnapshotEvent `json:"calendarEvents"`

	// LastSync is when this snapshot was taken.
	LastSync time.Time `json:"lastSync"`
}

// EmptySnapshot returns a zero-state snapshot for a pair that has never
// synced. Diffing against it classifies every live item as new.
func EmptySnapshot(userID, boardID string) *Snapshot {
	return &Snapshot{UserID: userID, BoardID: boardID}
}

// CardIndex returns the snapshot's cards keyed by card ID.
func (s *Snapshot) CardIndex() map[string]SnapshotCard {
	idx := make(map[string]SnapshotCard, len(s.Cards))
	for _, c := range s.Cards {
		idx[c.ID] = c
	}
	return idx
}

// EventIndex returns the snapshot's events keyed by event ID.
func (s *Snapshot) EventIndex() map[string]SnapshotEvent {
	idx := make(map[string]SnapshotEvent, len(s.Events))
	for _, e := range s.Events {
		idx[e.ID] = e
	}
	return idx
}

// Package engine implements the bidirectional reconciliation between a
// Trello board and a Google Calendar.
//
// A cycle runs two passes in a fixed order:
//
//  1. Cards to calendar: new cards get events, changed cards patch their
//     events, events whose card vanished are deleted.
//  2. Calendar to cards: user-created events become cards (and get link
//     metadata patched back), changed events update their cards, cards
//     whose event vanished are deleted.
//
// Correlation is strictly by link metadata carried on events. Titles are
// never matched. Changes are detected by diffing live data against the
// snapshot taken at the end of the previous successful cycle; the snapshot
// is replaced wholesale only after both passes finish.
//
// Per-item failures are recorded in the cycle's report and never abort a
// pass. Failed items are left out of the new snapshot so the same diff
// resurfaces next cycle and the operation is retried.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/adiwijaya/boardsync/internal/gcal"
	"github.com/adiwijaya/boardsync/internal/model"
	"github.com/adiwijaya/boardsync/internal/trello"
)

// TaskAPI is the slice of the task service the engine needs. Implemented by
// *trello.Client.
type TaskAPI interface {
	// ListCards returns every open card on the board.
	ListCards(ctx context.Context, boardID string) ([]model.Card, error)

	// CreateCard creates a card in the list and returns it with its ID.
	CreateCard(ctx context.Context, listID, title string, due *time.Time) (*model.Card, error)

	// UpdateCard applies a partial update.
	UpdateCard(ctx context.Context, cardID string, patch trello.CardPatch) (*model.Card, error)

	// DeleteCard removes a card.
	DeleteCard(ctx context.Context, cardID string) error
}

// CalendarAPI is the slice of the calendar service the engine needs.
// Implemented by *gcal.Client.
type CalendarAPI interface {
	// ListUpcoming returns events starting at or after now.
	ListUpcoming(ctx context.Context, now time.Time) ([]model.Event, error)

	// InsertEvent creates an event and returns it with its ID.
	InsertEvent(ctx context.Context, ev *model.Event) (*model.Event, error)

	// PatchEvent applies a partial update.
	PatchEvent(ctx context.Context, eventID string, patch gcal.EventPatch) (*model.Event, error)

	// DeleteEvent removes an event. Missing events are not an error.
	DeleteEvent(ctx context.Context, eventID string) error
}

// SnapshotStore reads and replaces the per-board snapshot.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, userID, boardID string) (*model.Snapshot, error)
	ReplaceSnapshot(ctx context.Context, snap *model.Snapshot) error
}

// LogStore appends audit records.
type LogStore interface {
	AppendLog(ctx context.Context, entry *model.SyncLogEntry) error
}

// Job identifies one reconciliation run.
type Job struct {
	// UserID owns the credentials and the snapshot.
	UserID string

	// BoardID is the Trello board to reconcile.
	BoardID string

	// ListID is where cards created from calendar events land.
	ListID string

	// DueOnly skips creating events for cards without a due date.
	DueOnly bool
}

// Validate checks the job is fully specified.
func (j Job) Validate() error {
	if j.UserID == "" {
		return fmt.Errorf("job user id is required")
	}
	if j.BoardID == "" {
		return fmt.Errorf("job board id is required")
	}
	if j.ListID == "" {
		return fmt.Errorf("job list id is required")
	}
	return nil
}

// Engine runs reconciliation cycles.
//
// Example:
//
//	eng := engine.New(taskClient, calClient, db, db, nil)
//	report, err := eng.Run(ctx, engine.Job{UserID: "u1", BoardID: "b1", ListID: "l1"})
type Engine interface {
	// Run executes one full cycle and returns its report. The returned error
	// covers cycle-level failures (listing either side, persisting the
	// snapshot); per-item operation failures live in the report.
	Run(ctx context.Context, job Job) (*model.SyncReport, error)
}

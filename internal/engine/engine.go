package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/adiwijaya/boardsync/internal/gcal"
	"github.com/adiwijaya/boardsync/internal/model"
	"github.com/adiwijaya/boardsync/internal/trello"
)

// New creates an Engine. If logger is nil, logs go to stderr.
func New(tasks TaskAPI, cal CalendarAPI, snaps SnapshotStore, logs LogStore, logger *log.Logger) Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &engine{
		tasks:  tasks,
		cal:    cal,
		snaps:  snaps,
		logs:   logs,
		logger: logger,
		now:    time.Now,
	}
}

type engine struct {
	tasks  TaskAPI
	cal    CalendarAPI
	snaps  SnapshotStore
	logs   LogStore
	logger *log.Logger
	now    func() time.Time
}

// cycleState accumulates what both passes learn. finalCards and finalEvents
// become the new snapshot: items enter them only once their live state is
// known consistent, so failed operations fall out and retry next cycle.
type cycleState struct {
	job  Job
	snap *model.Snapshot

	snapCards  map[string]model.SnapshotCard
	snapEvents map[string]model.SnapshotEvent

	cards    []model.Card
	cardByID map[string]model.Card

	events        []model.Event
	eventByCardID map[string]model.Event

	finalCards  map[string]model.SnapshotCard
	finalEvents map[string]model.SnapshotEvent
}

func (e *engine) Run(ctx context.Context, job Job) (*model.SyncReport, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	report := &model.SyncReport{
		UserID:    job.UserID,
		BoardID:   job.BoardID,
		StartedAt: e.now().UTC(),
	}

	snap, err := e.snaps.GetSnapshot(ctx, job.UserID, job.BoardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	cards, err := e.tasks.ListCards(ctx, job.BoardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	events, err := e.cal.ListUpcoming(ctx, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	st := &cycleState{
		job:           job,
		snap:          snap,
		snapCards:     snap.CardIndex(),
		snapEvents:    snap.EventIndex(),
		cards:         cards,
		cardByID:      make(map[string]model.Card, len(cards)),
		events:        events,
		eventByCardID: make(map[string]model.Event),
		finalCards:    make(map[string]model.SnapshotCard),
		finalEvents:   make(map[string]model.SnapshotEvent),
	}
	for _, c := range cards {
		st.cardByID[c.ID] = c
	}
	for _, ev := range events {
		if ev.Link.Linked() {
			st.eventByCardID[ev.Link.CardID] = ev
		}
	}

	e.passCardsToCalendar(ctx, st, report)
	e.passCalendarToCards(ctx, st, report)

	newSnap := &model.Snapshot{
		UserID:   job.UserID,
		BoardID:  job.BoardID,
		LastSync: e.now().UTC(),
	}
	for _, c := range st.finalCards {
		newSnap.Cards = append(newSnap.Cards, c)
	}
	for _, ev := range st.finalEvents {
		newSnap.Events = append(newSnap.Events, ev)
	}
	if err := e.snaps.ReplaceSnapshot(ctx, newSnap); err != nil {
		return report, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	report.FinishedAt = e.now().UTC()
	if n := report.Failures(); n > 0 {
		e.logger.Printf("cycle for %s/%s finished with %d failed of %d operations",
			job.UserID, job.BoardID, n, report.Ops())
	}
	return report, nil
}

// passCardsToCalendar pushes board state onto the calendar.
func (e *engine) passCardsToCalendar(ctx context.Context, st *cycleState, report *model.SyncReport) {
	now := e.now()

	for _, card := range st.cards {
		ev, linked := st.eventByCardID[card.ID]
		prev, inSnap := st.snapCards[card.ID]

		switch {
		case linked:
			if inSnap && !cardChanged(prev, card) {
				// Converged; carry both sides into the new snapshot with
				// their original modification stamps.
				st.finalCards[card.ID] = snapshotCard(card, prev.LastModified)
				evMod := now
				if prevEv, ok := st.snapEvents[ev.ID]; ok {
					evMod = prevEv.LastModified
				}
				st.finalEvents[ev.ID] = snapshotEvent(ev, evMod)
				continue
			}
			e.updateEvent(ctx, st, report, card, ev, now)

		case inSnap:
			// The card's event is gone from the calendar. The reverse pass
			// deletes the card; recreating the event here would undo the
			// user's deletion.

		default:
			if st.job.DueOnly && card.DueAt == nil {
				continue
			}
			e.createEvent(ctx, st, report, card, now)
		}
	}

	// Linked events whose card no longer exists are deleted.
	for _, ev := range st.events {
		if !ev.Link.Linked() || ev.Link.BoardID != st.job.BoardID {
			continue
		}
		if _, alive := st.cardByID[ev.Link.CardID]; alive {
			continue
		}
		op := model.OpResult{EventID: ev.ID, CardID: ev.Link.CardID, Title: ev.Title, Action: model.ActionDeleted}
		if err := e.cal.DeleteEvent(ctx, ev.ID); err != nil {
			e.fail(report, model.DirectionTrelloToCalendar, op, err)
			continue
		}
		op.Success = true
		e.done(ctx, st.job.UserID, report, model.DirectionTrelloToCalendar, op,
			fmt.Sprintf("deleted event %s for removed card %s", ev.ID, ev.Link.CardID))
	}
}

func (e *engine) createEvent(ctx context.Context, st *cycleState, report *model.SyncReport, card model.Card, now time.Time) {
	start, end, allDay := eventWindow(card, now)
	ev := &model.Event{
		Title:       card.Title,
		Description: eventDescription(card),
		Start:       start,
		End:         end,
		AllDay:      allDay,
		SourceURL:   card.URL,
		Link:        model.LinkMeta{CardID: card.ID, BoardID: card.BoardID},
	}

	op := model.OpResult{CardID: card.ID, Title: card.Title, Action: model.ActionCreated}
	created, err := e.cal.InsertEvent(ctx, ev)
	if err != nil {
		e.fail(report, model.DirectionTrelloToCalendar, op, err)
		return
	}
	op.EventID = created.ID
	op.Success = true
	st.finalCards[card.ID] = snapshotCard(card, now)
	st.finalEvents[created.ID] = snapshotEvent(*created, now)
	e.done(ctx, st.job.UserID, report, model.DirectionTrelloToCalendar, op,
		fmt.Sprintf("created event %s for card %s (%s)", created.ID, card.ID, card.Title))
}

func (e *engine) updateEvent(ctx context.Context, st *cycleState, report *model.SyncReport, card model.Card, ev model.Event, now time.Time) {
	start, end, allDay := eventWindow(card, now)
	desc := eventDescription(card)
	patch := gcal.EventPatch{
		Title:       &card.Title,
		Description: &desc,
		Start:       &start,
		End:         &end,
		AllDay:      allDay,
	}

	op := model.OpResult{CardID: card.ID, EventID: ev.ID, Title: card.Title, Action: model.ActionUpdated}
	updated, err := e.cal.PatchEvent(ctx, ev.ID, patch)
	if err != nil {
		e.fail(report, model.DirectionTrelloToCalendar, op, err)
		return
	}
	op.Success = true
	st.finalCards[card.ID] = snapshotCard(card, now)
	st.finalEvents[updated.ID] = snapshotEvent(*updated, now)
	e.done(ctx, st.job.UserID, report, model.DirectionTrelloToCalendar, op,
		fmt.Sprintf("updated event %s from card %s (%s)", ev.ID, card.ID, card.Title))
}

// passCalendarToCards pushes calendar state back onto the board.
func (e *engine) passCalendarToCards(ctx context.Context, st *cycleState, report *model.SyncReport) {
	now := e.now()

	for _, ev := range st.events {
		if !ev.Link.Linked() {
			e.createCard(ctx, st, report, ev, now)
			continue
		}
		if ev.Link.BoardID != st.job.BoardID {
			continue
		}

		card, alive := st.cardByID[ev.Link.CardID]
		if !alive {
			continue // handled by the forward pass deletion sweep
		}
		prev, inSnap := st.snapEvents[ev.ID]
		if !inSnap || !eventChanged(prev, ev) {
			continue
		}

		op := model.OpResult{CardID: card.ID, EventID: ev.ID, Title: ev.Title, Action: model.ActionUpdated}
		due := ev.Start
		updated, err := e.tasks.UpdateCard(ctx, card.ID, trello.CardPatch{
			Title: &ev.Title,
			Due:   &due,
		})
		if err != nil {
			// Keep the stale event baseline so the same diff fires again
			// next cycle and the card update retries.
			st.finalEvents[ev.ID] = prev
			e.fail(report, model.DirectionCalendarToTrello, op, err)
			continue
		}
		op.Success = true
		st.finalCards[card.ID] = snapshotCard(*updated, now)
		st.finalEvents[ev.ID] = snapshotEvent(ev, now)
		e.done(ctx, st.job.UserID, report, model.DirectionCalendarToTrello, op,
			fmt.Sprintf("updated card %s from event %s (%s)", card.ID, ev.ID, ev.Title))
	}

	// Cards synced before whose event is gone follow it.
	for id, prev := range st.snapCards {
		if _, alive := st.cardByID[id]; !alive {
			continue
		}
		if _, linked := st.eventByCardID[id]; linked {
			continue
		}

		op := model.OpResult{CardID: id, Title: prev.Title, Action: model.ActionDeleted}
		if err := e.tasks.DeleteCard(ctx, id); err != nil {
			// Keep the card in the snapshot so the deletion retries.
			st.finalCards[id] = prev
			e.fail(report, model.DirectionCalendarToTrello, op, err)
			continue
		}
		delete(st.finalCards, id)
		op.Success = true
		e.done(ctx, st.job.UserID, report, model.DirectionCalendarToTrello, op,
			fmt.Sprintf("deleted card %s (%s) for removed event", id, prev.Title))
	}
}

func (e *engine) createCard(ctx context.Context, st *cycleState, report *model.SyncReport, ev model.Event, now time.Time) {
	op := model.OpResult{EventID: ev.ID, Title: ev.Title, Action: model.ActionCreated}

	due := ev.Start
	card, err := e.tasks.CreateCard(ctx, st.job.ListID, ev.Title, &due)
	if err != nil {
		e.fail(report, model.DirectionCalendarToTrello, op, err)
		return
	}
	op.CardID = card.ID

	// Link the event back to its new card. Until this lands the event stays
	// unlinked, so a patch failure leaves it for the next cycle.
	link := model.LinkMeta{CardID: card.ID, BoardID: st.job.BoardID}
	if _, err := e.cal.PatchEvent(ctx, ev.ID, gcal.EventPatch{Link: &link}); err != nil {
		e.fail(report, model.DirectionCalendarToTrello, op,
			fmt.Errorf("card %s created but linking event failed: %w", card.ID, err))
		return
	}

	op.Success = true
	st.finalCards[card.ID] = snapshotCard(*card, now)
	st.finalEvents[ev.ID] = snapshotEvent(ev, now)
	e.done(ctx, st.job.UserID, report, model.DirectionCalendarToTrello, op,
		fmt.Sprintf("created card %s from event %s (%s)", card.ID, ev.ID, ev.Title))
}

// done records a successful operation in the report and the audit log.
func (e *engine) done(ctx context.Context, userID string, report *model.SyncReport, dir model.SyncDirection, op model.OpResult, details string) {
	appendOp(report, dir, op)
	entry := &model.SyncLogEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Timestamp: e.now().UTC(),
		Direction: dir,
		Action:    op.Action,
		Details:   details,
	}
	if err := e.logs.AppendLog(ctx, entry); err != nil {
		e.logger.Printf("warning: failed to append sync log: %v", err)
	}
}

// fail records a failed operation. The pass continues.
func (e *engine) fail(report *model.SyncReport, dir model.SyncDirection, op model.OpResult, err error) {
	op.Success = false
	op.Error = err.Error()
	appendOp(report, dir, op)
	e.logger.Printf("warning: %s %s failed: %v", dir, op.Action, err)
}

func appendOp(report *model.SyncReport, dir model.SyncDirection, op model.OpResult) {
	if dir == model.DirectionTrelloToCalendar {
		report.TrelloToCalendar = append(report.TrelloToCalendar, op)
		return
	}
	report.CalendarToTrello = append(report.CalendarToTrello, op)
}

// eventWindow computes the calendar window for a card. Cards with a due date
// get [due, due+1h). Cards without one get an all-day block on the next UTC
// day.
func eventWindow(card model.Card, now time.Time) (start, end time.Time, allDay bool) {
	if card.DueAt != nil {
		start = card.DueAt.UTC()
		return start, start.Add(time.Hour), false
	}
	y, m, d := now.UTC().Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return start, start.AddDate(0, 0, 1), true
}

// eventDescription carries the card body and permalink into the event.
func eventDescription(card model.Card) string {
	switch {
	case card.Description != "" && card.URL != "":
		return card.Description + "\n\nTrello Card: " + card.URL
	case card.URL != "":
		return "Trello Card: " + card.URL
	default:
		return card.Description
	}
}

func cardChanged(prev model.SnapshotCard, card model.Card) bool {
	if prev.Title != card.Title || prev.ListID != card.ListID {
		return true
	}
	return !timePtrEqual(prev.Due, card.DueAt)
}

func eventChanged(prev model.SnapshotEvent, ev model.Event) bool {
	return prev.Title != ev.Title || !prev.Start.Equal(ev.Start)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func snapshotCard(card model.Card, modified time.Time) model.SnapshotCard {
	return model.SnapshotCard{
		ID:           card.ID,
		Title:        card.Title,
		Due:          card.DueAt,
		ListID:       card.ListID,
		LastModified: modified.UTC(),
	}
}

func snapshotEvent(ev model.Event, modified time.Time) model.SnapshotEvent {
	return model.SnapshotEvent{
		ID:           ev.ID,
		Title:        ev.Title,
		Start:        ev.Start,
		LastModified: modified.UTC(),
	}
}

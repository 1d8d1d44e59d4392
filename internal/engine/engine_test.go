package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adiwijaya/boardsync/internal/model"
)

var (
	testNow = time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC)
	testJob = Job{UserID: "u1", BoardID: "b1", ListID: "l1"}
)

type fixture struct {
	eng   *engine
	tasks *fakeTasks
	cal   *fakeCal
	snaps *fakeSnaps
	logs  *fakeLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tasks: newFakeTasks("b1"),
		cal:   newFakeCal(),
		snaps: newFakeSnaps(),
		logs:  &fakeLogs{},
	}
	f.eng = New(f.tasks, f.cal, f.snaps, f.logs, nil).(*engine)
	f.eng.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) run(t *testing.T) *model.SyncReport {
	t.Helper()
	report, err := f.eng.Run(context.Background(), testJob)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return report
}

func TestNewCardCreatesTimedEvent(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{
		ID: "c1", Title: "Report", DueAt: &due, ListID: "l1",
		Description: "quarterly numbers", URL: "https://trello.com/c/abc",
	})

	report := f.run(t)

	if len(report.TrelloToCalendar) != 1 {
		t.Fatalf("forward ops = %d, want 1", len(report.TrelloToCalendar))
	}
	op := report.TrelloToCalendar[0]
	if !op.Success || op.Action != model.ActionCreated || op.CardID != "c1" {
		t.Errorf("op = %+v, want successful create for c1", op)
	}

	ev := f.cal.events[op.EventID]
	if ev == nil {
		t.Fatal("created event not stored")
	}
	if !ev.Start.Equal(due) || !ev.End.Equal(due.Add(time.Hour)) {
		t.Errorf("event window = %v..%v, want due..due+1h", ev.Start, ev.End)
	}
	if ev.Link.CardID != "c1" || ev.Link.BoardID != "b1" {
		t.Errorf("event link = %+v", ev.Link)
	}
	if ev.Description != "quarterly numbers\n\nTrello Card: https://trello.com/c/abc" {
		t.Errorf("event description = %q", ev.Description)
	}
	if ev.AllDay {
		t.Error("due-dated card should not produce an all-day event")
	}
}

func TestDuelessCardCreatesAllDayBlock(t *testing.T) {
	f := newFixture(t)
	f.tasks.add(model.Card{ID: "c1", Title: "Chores", ListID: "l1"})

	report := f.run(t)

	op := report.TrelloToCalendar[0]
	ev := f.cal.events[op.EventID]
	if ev == nil {
		t.Fatal("created event not stored")
	}
	wantStart := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC) // day after testNow
	if !ev.AllDay {
		t.Error("event should be all-day")
	}
	if !ev.Start.Equal(wantStart) || !ev.End.Equal(wantStart.AddDate(0, 0, 1)) {
		t.Errorf("all-day window = %v..%v, want %v +1d", ev.Start, ev.End, wantStart)
	}
}

func TestIdempotentSecondRun(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{ID: "c1", Title: "Report", DueAt: &due, ListID: "l1"})
	f.cal.add(model.Event{ID: "e9", Title: "Standup", Start: due, End: due.Add(time.Hour)})

	first := f.run(t)
	if first.Ops() == 0 {
		t.Fatal("first run should perform operations")
	}

	second := f.run(t)
	if second.Ops() != 0 {
		t.Errorf("second run performed %d ops, want 0: %+v %+v",
			second.Ops(), second.TrelloToCalendar, second.CalendarToTrello)
	}
	if f.cal.inserts != 1 || f.tasks.creates != 1 {
		t.Errorf("creations = %d events, %d cards; want 1 and 1", f.cal.inserts, f.tasks.creates)
	}
}

func TestConvergedRunKeepsModificationStamps(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{ID: "c1", Title: "Report", DueAt: &due, ListID: "l1"})

	f.run(t)

	later := testNow.Add(48 * time.Hour)
	f.eng.now = func() time.Time { return later }
	f.run(t)

	snap := f.snaps.snaps[snapKey("u1", "b1")]
	if len(snap.Cards) != 1 || len(snap.Events) != 1 {
		t.Fatalf("snapshot = %d cards, %d events; want 1 and 1", len(snap.Cards), len(snap.Events))
	}
	if !snap.Cards[0].LastModified.Equal(testNow) {
		t.Errorf("card stamp = %v, converged items must keep %v", snap.Cards[0].LastModified, testNow)
	}
	if !snap.Events[0].LastModified.Equal(testNow) {
		t.Errorf("event stamp = %v, converged items must keep %v", snap.Events[0].LastModified, testNow)
	}
	if !snap.LastSync.Equal(later) {
		t.Errorf("last sync = %v, want %v", snap.LastSync, later)
	}
}

func TestTitleChangeUpdatesEventExactlyOnce(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{ID: "c1", Title: "Report v2", DueAt: &due, ListID: "l1"})
	f.cal.add(model.Event{
		ID: "e1", Title: "Report", Start: due, End: due.Add(time.Hour),
		Link: model.LinkMeta{CardID: "c1", BoardID: "b1"},
	})
	f.snaps.snaps[snapKey("u1", "b1")] = &model.Snapshot{
		UserID: "u1", BoardID: "b1",
		Cards:  []model.SnapshotCard{{ID: "c1", Title: "Report", Due: &due, ListID: "l1"}},
		Events: []model.SnapshotEvent{{ID: "e1", Title: "Report", Start: due}},
	}

	report := f.run(t)

	if len(report.TrelloToCalendar) != 1 {
		t.Fatalf("forward ops = %+v, want exactly one", report.TrelloToCalendar)
	}
	op := report.TrelloToCalendar[0]
	if op.Action != model.ActionUpdated || !op.Success {
		t.Errorf("op = %+v, want successful update", op)
	}
	if f.cal.inserts != 0 {
		t.Errorf("inserts = %d, change must not create a duplicate", f.cal.inserts)
	}
	if f.cal.events["e1"].Title != "Report v2" {
		t.Errorf("event title = %q, want Report v2", f.cal.events["e1"].Title)
	}
	if len(report.CalendarToTrello) != 0 {
		t.Errorf("reverse ops = %+v, want none", report.CalendarToTrello)
	}
}

func TestRemovedCardDeletesLinkedEvent(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.cal.add(model.Event{
		ID: "e1", Title: "Report", Start: due, End: due.Add(time.Hour),
		Link: model.LinkMeta{CardID: "c-gone", BoardID: "b1"},
	})
	f.snaps.snaps[snapKey("u1", "b1")] = &model.Snapshot{
		UserID: "u1", BoardID: "b1",
		Cards:  []model.SnapshotCard{{ID: "c-gone", Title: "Report", Due: &due, ListID: "l1"}},
		Events: []model.SnapshotEvent{{ID: "e1", Title: "Report", Start: due}},
	}

	report := f.run(t)

	if len(report.TrelloToCalendar) != 1 || report.TrelloToCalendar[0].Action != model.ActionDeleted {
		t.Fatalf("forward ops = %+v, want one delete", report.TrelloToCalendar)
	}
	if _, exists := f.cal.events["e1"]; exists {
		t.Error("event e1 should have been deleted")
	}
	if len(report.CalendarToTrello) != 0 {
		t.Errorf("reverse ops = %+v, want none", report.CalendarToTrello)
	}
}

func TestEventsOfOtherBoardsAreIgnored(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.cal.add(model.Event{
		ID: "e1", Title: "Other board", Start: due, End: due.Add(time.Hour),
		Link: model.LinkMeta{CardID: "c-other", BoardID: "b-other"},
	})

	report := f.run(t)
	if report.Ops() != 0 {
		t.Errorf("ops = %d, events linked elsewhere must be untouched", report.Ops())
	}
	if _, exists := f.cal.events["e1"]; !exists {
		t.Error("foreign event was deleted")
	}
}

func TestUnlinkedEventCreatesCardAndLinksBack(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2024, 1, 11, 14, 0, 0, 0, time.UTC)
	f.cal.add(model.Event{ID: "e1", Title: "Dentist", Start: start, End: start.Add(time.Hour)})

	report := f.run(t)

	if len(report.CalendarToTrello) != 1 {
		t.Fatalf("reverse ops = %+v, want one", report.CalendarToTrello)
	}
	op := report.CalendarToTrello[0]
	if !op.Success || op.Action != model.ActionCreated || op.EventID != "e1" {
		t.Fatalf("op = %+v, want successful create from e1", op)
	}

	card := f.tasks.cards[op.CardID]
	if card == nil {
		t.Fatal("created card not stored")
	}
	if card.Title != "Dentist" || card.ListID != "l1" {
		t.Errorf("card = %+v, want Dentist in l1", card)
	}
	if card.DueAt == nil || !card.DueAt.Equal(start) {
		t.Errorf("card due = %v, want event start", card.DueAt)
	}

	ev := f.cal.events["e1"]
	if ev.Link.CardID != op.CardID || ev.Link.BoardID != "b1" {
		t.Errorf("event link after patch-back = %+v", ev.Link)
	}
}

func TestChangedEventUpdatesCard(t *testing.T) {
	f := newFixture(t)
	oldStart := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	newStart := time.Date(2024, 1, 12, 15, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{ID: "c1", Title: "Report", DueAt: &oldStart, ListID: "l1"})
	f.cal.add(model.Event{
		ID: "e1", Title: "Report (moved)", Start: newStart, End: newStart.Add(time.Hour),
		Link: model.LinkMeta{CardID: "c1", BoardID: "b1"},
	})
	f.snaps.snaps[snapKey("u1", "b1")] = &model.Snapshot{
		UserID: "u1", BoardID: "b1",
		Cards:  []model.SnapshotCard{{ID: "c1", Title: "Report", Due: &oldStart, ListID: "l1"}},
		Events: []model.SnapshotEvent{{ID: "e1", Title: "Report", Start: oldStart}},
	}

	report := f.run(t)

	var reverseUpdates int
	for _, op := range report.CalendarToTrello {
		if op.Action == model.ActionUpdated && op.Success {
			reverseUpdates++
		}
	}
	if reverseUpdates != 1 {
		t.Fatalf("reverse updates = %d, want 1 (%+v)", reverseUpdates, report.CalendarToTrello)
	}
	card := f.tasks.cards["c1"]
	if card.Title != "Report (moved)" {
		t.Errorf("card title = %q", card.Title)
	}
	if card.DueAt == nil || !card.DueAt.Equal(newStart) {
		t.Errorf("card due = %v, want %v", card.DueAt, newStart)
	}
}

func TestRemovedEventDeletesCard(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{ID: "c1", Title: "Report", DueAt: &due, ListID: "l1"})
	f.snaps.snaps[snapKey("u1", "b1")] = &model.Snapshot{
		UserID: "u1", BoardID: "b1",
		Cards:  []model.SnapshotCard{{ID: "c1", Title: "Report", Due: &due, ListID: "l1"}},
		Events: []model.SnapshotEvent{{ID: "e1", Title: "Report", Start: due}},
	}

	report := f.run(t)

	if len(report.TrelloToCalendar) != 0 {
		t.Errorf("forward ops = %+v, deleted event must not be recreated", report.TrelloToCalendar)
	}
	if len(report.CalendarToTrello) != 1 || report.CalendarToTrello[0].Action != model.ActionDeleted {
		t.Fatalf("reverse ops = %+v, want one delete", report.CalendarToTrello)
	}
	if _, exists := f.tasks.cards["c1"]; exists {
		t.Error("card c1 should have been deleted")
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{ID: "c1", Title: "Broken", DueAt: &due, ListID: "l1"})
	f.tasks.add(model.Card{ID: "c2", Title: "Fine", DueAt: &due, ListID: "l1"})
	f.cal.failInsertTitle["Broken"] = errors.New("backend hiccup")

	report := f.run(t)

	if len(report.TrelloToCalendar) != 2 {
		t.Fatalf("forward ops = %+v, want 2", report.TrelloToCalendar)
	}
	var failed, ok *model.OpResult
	for i := range report.TrelloToCalendar {
		op := &report.TrelloToCalendar[i]
		if op.Success {
			ok = op
		} else {
			failed = op
		}
	}
	if failed == nil || failed.CardID != "c1" || failed.Error == "" {
		t.Errorf("failed op = %+v, want c1 with error text", failed)
	}
	if ok == nil || ok.CardID != "c2" {
		t.Errorf("successful op = %+v, want c2", ok)
	}

	// The failed card stays out of the snapshot so the create retries.
	snap := f.snaps.snaps[snapKey("u1", "b1")]
	if _, present := snapIndex(snap.Cards)["c1"]; present {
		t.Error("failed card leaked into the snapshot")
	}
	if _, present := snapIndex(snap.Cards)["c2"]; !present {
		t.Error("successful card missing from the snapshot")
	}

	// Next cycle retries only the failed one.
	delete(f.cal.failInsertTitle, "Broken")
	second := f.run(t)
	if len(second.TrelloToCalendar) != 1 || second.TrelloToCalendar[0].CardID != "c1" {
		t.Errorf("retry ops = %+v, want one create for c1", second.TrelloToCalendar)
	}
}

func TestSnapshotReplacedWholesale(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.snaps.snaps[snapKey("u1", "b1")] = &model.Snapshot{
		UserID: "u1", BoardID: "b1",
		Cards: []model.SnapshotCard{{ID: "c-stale", Title: "Stale", Due: &due, ListID: "l1"}},
	}

	// Board and calendar are both empty now: the stale card is gone and had
	// no event, so its deletion is a no-op against a missing card.
	report := f.run(t)
	if report.Ops() != 0 {
		t.Errorf("ops = %d, want 0", report.Ops())
	}
	snap := f.snaps.snaps[snapKey("u1", "b1")]
	if len(snap.Cards) != 0 || len(snap.Events) != 0 {
		t.Errorf("snapshot = %+v, stale entries must not survive replacement", snap)
	}
	if !snap.LastSync.Equal(testNow) {
		t.Errorf("LastSync = %v, want %v", snap.LastSync, testNow)
	}
}

func TestFailedCardDeletionKeepsSnapshotEntry(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{ID: "c1", Title: "Report", DueAt: &due, ListID: "l1"})
	f.tasks.failDeleteID["c1"] = errors.New("boom")
	f.snaps.snaps[snapKey("u1", "b1")] = &model.Snapshot{
		UserID: "u1", BoardID: "b1",
		Cards:  []model.SnapshotCard{{ID: "c1", Title: "Report", Due: &due, ListID: "l1"}},
		Events: []model.SnapshotEvent{{ID: "e1", Title: "Report", Start: due}},
	}

	report := f.run(t)
	if report.Failures() != 1 {
		t.Fatalf("failures = %d, want 1", report.Failures())
	}
	snap := f.snaps.snaps[snapKey("u1", "b1")]
	if _, present := snapIndex(snap.Cards)["c1"]; !present {
		t.Error("card entry must survive a failed deletion so it retries")
	}
}

func TestDueOnlySkipsDuelessCards(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{ID: "c1", Title: "Dated", DueAt: &due, ListID: "l1"})
	f.tasks.add(model.Card{ID: "c2", Title: "Undated", ListID: "l1"})

	job := testJob
	job.DueOnly = true
	report, err := f.eng.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.TrelloToCalendar) != 1 || report.TrelloToCalendar[0].CardID != "c1" {
		t.Errorf("forward ops = %+v, want only the dated card", report.TrelloToCalendar)
	}
}

func TestAuditLogEntriesWritten(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	f.tasks.add(model.Card{ID: "c1", Title: "Report", DueAt: &due, ListID: "l1"})

	f.run(t)

	if len(f.logs.entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(f.logs.entries))
	}
	entry := f.logs.entries[0]
	if entry.UserID != "u1" || entry.Direction != model.DirectionTrelloToCalendar || entry.Action != model.ActionCreated {
		t.Errorf("entry = %+v", entry)
	}
	if entry.ID == "" {
		t.Error("entry should carry a generated id")
	}
}

func TestRunRejectsIncompleteJob(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.Run(context.Background(), Job{UserID: "u1"}); err == nil {
		t.Error("Run() should reject a job without board and list")
	}
}

func snapIndex(cards []model.SnapshotCard) map[string]model.SnapshotCard {
	idx := make(map[string]model.SnapshotCard, len(cards))
	for _, c := range cards {
		idx[c.ID] = c
	}
	return idx
}

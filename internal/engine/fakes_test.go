package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/adiwijaya/boardsync/internal/gcal"
	"github.com/adiwijaya/boardsync/internal/model"
	"github.com/adiwijaya/boardsync/internal/trello"
)

// fakeTasks is an in-memory TaskAPI with per-operation error injection.
type fakeTasks struct {
	boardID string
	cards   map[string]*model.Card
	nextID  int

	failCreateTitle map[string]error
	failUpdateID    map[string]error
	failDeleteID    map[string]error

	creates, updates, deletes int
}

func newFakeTasks(boardID string) *fakeTasks {
	return &fakeTasks{
		boardID:         boardID,
		cards:           make(map[string]*model.Card),
		failCreateTitle: make(map[string]error),
		failUpdateID:    make(map[string]error),
		failDeleteID:    make(map[string]error),
	}
}

func (f *fakeTasks) add(card model.Card) {
	c := card
	if c.BoardID == "" {
		c.BoardID = f.boardID
	}
	f.cards[c.ID] = &c
}

func (f *fakeTasks) ListCards(ctx context.Context, boardID string) ([]model.Card, error) {
	var out []model.Card
	for _, c := range f.cards {
		if c.BoardID == boardID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTasks) CreateCard(ctx context.Context, listID, title string, due *time.Time) (*model.Card, error) {
	if err := f.failCreateTitle[title]; err != nil {
		return nil, err
	}
	f.creates++
	f.nextID++
	c := &model.Card{
		ID:      fmt.Sprintf("card-%d", f.nextID),
		Title:   title,
		DueAt:   due,
		ListID:  listID,
		BoardID: f.boardID,
	}
	f.cards[c.ID] = c
	out := *c
	return &out, nil
}

func (f *fakeTasks) UpdateCard(ctx context.Context, cardID string, patch trello.CardPatch) (*model.Card, error) {
	if err := f.failUpdateID[cardID]; err != nil {
		return nil, err
	}
	c, ok := f.cards[cardID]
	if !ok {
		return nil, fmt.Errorf("card %s not found", cardID)
	}
	f.updates++
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.Due != nil {
		if patch.Due.IsZero() {
			c.DueAt = nil
		} else {
			due := *patch.Due
			c.DueAt = &due
		}
	}
	if patch.ListID != nil {
		c.ListID = *patch.ListID
	}
	out := *c
	return &out, nil
}

func (f *fakeTasks) DeleteCard(ctx context.Context, cardID string) error {
	if err := f.failDeleteID[cardID]; err != nil {
		return err
	}
	f.deletes++
	delete(f.cards, cardID)
	return nil
}

// fakeCal is an in-memory CalendarAPI with per-operation error injection.
type fakeCal struct {
	events map[string]*model.Event
	nextID int

	failInsertTitle map[string]error
	failPatchID     map[string]error
	failDeleteID    map[string]error

	inserts, patches, deletes int
}

func newFakeCal() *fakeCal {
	return &fakeCal{
		events:          make(map[string]*model.Event),
		failInsertTitle: make(map[string]error),
		failPatchID:     make(map[string]error),
		failDeleteID:    make(map[string]error),
	}
}

func (f *fakeCal) add(ev model.Event) {
	e := ev
	f.events[e.ID] = &e
}

func (f *fakeCal) ListUpcoming(ctx context.Context, now time.Time) ([]model.Event, error) {
	var out []model.Event
	for _, ev := range f.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCal) InsertEvent(ctx context.Context, ev *model.Event) (*model.Event, error) {
	if err := f.failInsertTitle[ev.Title]; err != nil {
		return nil, err
	}
	f.inserts++
	f.nextID++
	created := *ev
	created.ID = fmt.Sprintf("event-%d", f.nextID)
	f.events[created.ID] = &created
	out := created
	return &out, nil
}

func (f *fakeCal) PatchEvent(ctx context.Context, eventID string, patch gcal.EventPatch) (*model.Event, error) {
	if err := f.failPatchID[eventID]; err != nil {
		return nil, err
	}
	ev, ok := f.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s not found", eventID)
	}
	f.patches++
	if patch.Title != nil {
		ev.Title = *patch.Title
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Start != nil {
		ev.Start = *patch.Start
		ev.AllDay = patch.AllDay
	}
	if patch.End != nil {
		ev.End = *patch.End
	}
	if patch.Link != nil {
		ev.Link = *patch.Link
	}
	out := *ev
	return &out, nil
}

func (f *fakeCal) DeleteEvent(ctx context.Context, eventID string) error {
	if err := f.failDeleteID[eventID]; err != nil {
		return err
	}
	f.deletes++
	delete(f.events, eventID)
	return nil
}

// fakeSnaps keeps snapshots in memory.
type fakeSnaps struct {
	snaps    map[string]*model.Snapshot
	replaces int
}

func newFakeSnaps() *fakeSnaps {
	return &fakeSnaps{snaps: make(map[string]*model.Snapshot)}
}

func snapKey(userID, boardID string) string { return userID + "/" + boardID }

func (f *fakeSnaps) GetSnapshot(ctx context.Context, userID, boardID string) (*model.Snapshot, error) {
	if s, ok := f.snaps[snapKey(userID, boardID)]; ok {
		out := *s
		return &out, nil
	}
	return model.EmptySnapshot(userID, boardID), nil
}

func (f *fakeSnaps) ReplaceSnapshot(ctx context.Context, snap *model.Snapshot) error {
	f.replaces++
	s := *snap
	f.snaps[snapKey(snap.UserID, snap.BoardID)] = &s
	return nil
}

// fakeLogs collects audit entries.
type fakeLogs struct {
	entries []*model.SyncLogEntry
}

func (f *fakeLogs) AppendLog(ctx context.Context, entry *model.SyncLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

// Package gcal implements the Google Calendar side of the bridge on the
// official calendar/v3 API client.
//
// A Client is built per sync job with the job's own access token via a
// static token source. Refreshing expired tokens is the token guard's
// responsibility; by the time a client exists the token is known fresh.
//
// Card correlation metadata rides in each event's private extended
// properties under the trelloCardId and trelloBoardId keys.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/adiwijaya/boardsync/internal/model"
	"github.com/adiwijaya/boardsync/internal/retry"
	"github.com/adiwijaya/boardsync/internal/syncerr"
)

const (
	// propCardID and propBoardID are the extended-property keys carrying
	// link metadata.
	propCardID  = "trelloCardId"
	propBoardID = "trelloBoardId"

	// apiTimeout bounds each individual API call.
	apiTimeout = 30 * time.Second

	// maxPageSize is the events.list page size.
	maxPageSize = 250
)

// Client talks to one user's calendar.
type Client struct {
	svc        *calendar.Service
	calendarID string
	retry      retry.Policy
}

// callPolicy is the retry budget for a single API call. Rate limits and
// transient failures are retried; a Retry-After header overrides the backoff.
func callPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		Retryable:   syncerr.Retryable,
	}
}

// New creates a client authenticated with the given access token against the
// user's primary calendar.
func New(ctx context.Context, accessToken string) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return NewWithOptions(ctx, "primary", option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
}

// NewWithOptions creates a client with explicit calendar ID and client
// options. Tests use this to point the client at a local server.
func NewWithOptions(ctx context.Context, calendarID string, opts ...option.ClientOption) (*Client, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{svc: svc, calendarID: calendarID, retry: callPolicy()}, nil
}

// ListUpcoming returns every event starting at or after now, expanded to
// single instances in start order, following pagination to the end.
func (c *Client) ListUpcoming(ctx context.Context, now time.Time) ([]model.Event, error) {
	var events []model.Event
	pageToken := ""
	for {
		call := c.svc.Events.List(c.calendarID).
			TimeMin(now.UTC().Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(maxPageSize)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var page *calendar.Events
		err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, apiTimeout)
			defer cancel()
			p, err := call.Context(ctx).Do()
			if err != nil {
				return wrapErr("failed to list events", err)
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			ev, err := fromAPI(item)
			if err != nil {
				// Malformed items are skipped rather than failing the listing.
				continue
			}
			events = append(events, ev)
		}
		if page.NextPageToken == "" {
			return events, nil
		}
		pageToken = page.NextPageToken
	}
}

// GetEvent returns a single event by ID.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	if eventID == "" {
		return nil, &syncerr.ValidationError{Err: fmt.Errorf("event id is required")}
	}
	var got *calendar.Event
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, apiTimeout)
		defer cancel()
		g, err := c.svc.Events.Get(c.calendarID, eventID).Context(ctx).Do()
		if err != nil {
			return wrapErr(fmt.Sprintf("failed to get event %s", eventID), err)
		}
		got = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	out, err := fromAPI(got)
	if err != nil {
		return nil, fmt.Errorf("failed to read event %s: %w", eventID, err)
	}
	return &out, nil
}

// InsertEvent creates a calendar event and returns it with the assigned ID.
func (c *Client) InsertEvent(ctx context.Context, ev *model.Event) (*model.Event, error) {
	if ev == nil {
		return nil, &syncerr.ValidationError{Err: fmt.Errorf("event cannot be nil")}
	}
	if ev.Title == "" {
		return nil, &syncerr.ValidationError{Err: fmt.Errorf("event title is required")}
	}
	var created *calendar.Event
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, apiTimeout)
		defer cancel()
		got, err := c.svc.Events.Insert(c.calendarID, toAPI(ev)).Context(ctx).Do()
		if err != nil {
			return wrapErr(fmt.Sprintf("failed to insert event %q", ev.Title), err)
		}
		created = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	out, err := fromAPI(created)
	if err != nil {
		return nil, fmt.Errorf("failed to read created event: %w", err)
	}
	return &out, nil
}

// EventPatch holds the fields PatchEvent may change. Nil fields are left
// untouched on the server.
type EventPatch struct {
	Title       *string
	Description *string
	Start       *time.Time
	End         *time.Time
	AllDay      bool // interpret Start/End as date-only
	Link        *model.LinkMeta
}

// PatchEvent applies a partial update to an event.
func (c *Client) PatchEvent(ctx context.Context, eventID string, patch EventPatch) (*model.Event, error) {
	if eventID == "" {
		return nil, &syncerr.ValidationError{Err: fmt.Errorf("event id is required")}
	}
	ev := &calendar.Event{}
	if patch.Title != nil {
		ev.Summary = *patch.Title
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Start != nil {
		ev.Start = toAPITime(*patch.Start, patch.AllDay)
	}
	if patch.End != nil {
		ev.End = toAPITime(*patch.End, patch.AllDay)
	}
	if patch.Link != nil {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{
				propCardID:  patch.Link.CardID,
				propBoardID: patch.Link.BoardID,
			},
		}
	}

	var updated *calendar.Event
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, apiTimeout)
		defer cancel()
		got, err := c.svc.Events.Patch(c.calendarID, eventID, ev).Context(ctx).Do()
		if err != nil {
			return wrapErr(fmt.Sprintf("failed to patch event %s", eventID), err)
		}
		updated = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	out, err := fromAPI(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to read patched event: %w", err)
	}
	return &out, nil
}

// DeleteEvent removes an event. Deleting an already-gone event is not an
// error, which keeps deletion idempotent across cycles.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return &syncerr.ValidationError{Err: fmt.Errorf("event id is required")}
	}
	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, apiTimeout)
		defer cancel()
		err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
				return nil
			}
			return wrapErr(fmt.Sprintf("failed to delete event %s", eventID), err)
		}
		return nil
	})
}

// toAPI converts a model event to the wire representation.
func toAPI(ev *model.Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       toAPITime(ev.Start, ev.AllDay),
		End:         toAPITime(ev.End, ev.AllDay),
	}
	if ev.Link.Linked() {
		out.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{
				propCardID:  ev.Link.CardID,
				propBoardID: ev.Link.BoardID,
			},
		}
	}
	if ev.SourceURL != "" {
		out.Source = &calendar.EventSource{Title: "Trello", Url: ev.SourceURL}
	}
	return out
}

func toAPITime(t time.Time, allDay bool) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: t.UTC().Format("2006-01-02")}
	}
	return &calendar.EventDateTime{DateTime: t.UTC().Format(time.RFC3339)}
}

// fromAPI converts a wire event into the model representation.
func fromAPI(ev *calendar.Event) (model.Event, error) {
	out := model.Event{
		ID:          ev.Id,
		Title:       ev.Summary,
		Description: ev.Description,
	}
	if ev.Source != nil {
		out.SourceURL = ev.Source.Url
	}

	start, allDay, err := fromAPITime(ev.Start)
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s has invalid start: %w", ev.Id, err)
	}
	out.Start = start
	out.AllDay = allDay
	if end, _, err := fromAPITime(ev.End); err == nil {
		out.End = end
	}

	if ev.ExtendedProperties != nil && ev.ExtendedProperties.Private != nil {
		out.Link = model.LinkMeta{
			CardID:  ev.ExtendedProperties.Private[propCardID],
			BoardID: ev.ExtendedProperties.Private[propBoardID],
		}
	}
	return out, nil
}

func fromAPITime(edt *calendar.EventDateTime) (time.Time, bool, error) {
	if edt == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, false, err
		}
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, edt.DateTime)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}

// wrapErr classifies API errors into the shared taxonomy, preserving the
// HTTP status when the error came from the server.
func wrapErr(msg string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return syncerr.FromStatus("calendar", gerr.Code, fmt.Errorf("%s: %w", msg, err))
	}
	// Anything without an HTTP status is a network-level failure.
	return &syncerr.TransientError{Service: "calendar", Err: fmt.Errorf("%s: %w", msg, err)}
}

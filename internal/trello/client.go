// Package trello implements a minimal client for the Trello REST API.
//
// Authentication uses the key+token query parameters Trello expects. A
// Client is built per sync job with the job's own credentials and is
// immutable afterwards, so concurrent jobs for different users never share
// credential state.
package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adiwijaya/boardsync/internal/model"
	"github.com/adiwijaya/boardsync/internal/retry"
	"github.com/adiwijaya/boardsync/internal/syncerr"
)

const (
	// DefaultBaseURL is the production Trello API endpoint.
	DefaultBaseURL = "https://api.trello.com/1"

	// apiTimeout bounds each individual API call.
	apiTimeout = 30 * time.Second
)

// Client talks to the Trello API on behalf of one user.
type Client struct {
	apiKey     string
	token      string
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// New creates a client with the given application key and user token.
func New(apiKey, token string) *Client {
	return NewWithHTTPClient(apiKey, token, DefaultBaseURL, &http.Client{Timeout: apiTimeout})
}

// NewWithHTTPClient creates a client with a custom base URL and HTTP client.
// Tests use this to point the client at a local server.
func NewWithHTTPClient(apiKey, token, baseURL string, httpClient *http.Client) *Client {
	return &Client{
		apiKey:     apiKey,
		token:      token,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		retry:      callPolicy(),
	}
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

// ListBoards returns the boards visible to the token's user.
func (c *Client) ListBoards(ctx context.Context) ([]model.Board, error) {
	var boards []model.Board
	err := c.do(ctx, http.MethodGet, "/members/me/boards", url.Values{"fields": {"id,name"}}, &boards)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	return boards, nil
}

// ListLists returns the open lists on a board.
func (c *Client) ListLists(ctx context.Context, boardID string) ([]model.List, error) {
	var lists []model.List
	path := fmt.Sprintf("/boards/%s/lists", url.PathEscape(boardID))
	err := c.do(ctx, http.MethodGet, path, url.Values{"fields": {"id,name"}}, &lists)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists for board %s: %w", boardID, err)
	}
	return lists, nil
}

// ListCards returns every open card on a board.
func (c *Client) ListCards(ctx context.Context, boardID string) ([]model.Card, error) {
	var cards []model.Card
	path := fmt.Sprintf("/boards/%s/cards", url.PathEscape(boardID))
	params := url.Values{"fields": {"id,name,desc,due,idList,idBoard,url"}}
	if err := c.do(ctx, http.MethodGet, path, params, &cards); err != nil {
		return nil, fmt.Errorf("failed to list cards for board %s: %w", boardID, err)
	}
	return cards, nil
}

// CreateCard creates a card in the given list and returns the created card
// with its server-assigned ID.
func (c *Client) CreateCard(ctx context.Context, listID, title string, due *time.Time) (*model.Card, error) {
	if listID == "" {
		return nil, &syncerr.ValidationError{Err: fmt.Errorf("list id is required")}
	}
	if title == "" {
		return nil, &syncerr.ValidationError{Err: fmt.Errorf("card title is required")}
	}

	params := url.Values{
		"idList": {listID},
		"name":   {title},
	}
	if due != nil {
		params.Set("due", due.UTC().Format(time.RFC3339))
	}

	var card model.Card
	if err := c.do(ctx, http.MethodPost, "/cards", params, &card); err != nil {
		return nil, fmt.Errorf("failed to create card %q: %w", title, err)
	}
	return &card, nil
}

// CardPatch holds the fields UpdateCard may change. Nil fields are left
// untouched; a non-nil Due pointing at a zero time clears the due date.
type CardPatch struct {
	Title  *string
	Due    *time.Time
	ListID *string
}

// UpdateCard applies a partial update to a card.
func (c *Client) UpdateCard(ctx context.Context, cardID string, patch CardPatch) (*model.Card, error) {
	if cardID == "" {
		return nil, &syncerr.ValidationError{Err: fmt.Errorf("card id is required")}
	}

	params := url.Values{}
	if patch.Title != nil {
		params.Set("name", *patch.Title)
	}
	if patch.Due != nil {
		if patch.Due.IsZero() {
			params.Set("due", "null")
		} else {
			params.Set("due", patch.Due.UTC().Format(time.RFC3339))
		}
	}
	if patch.ListID != nil {
		params.Set("idList", *patch.ListID)
	}
	if len(params) == 0 {
		return nil, &syncerr.ValidationError{Err: fmt.Errorf("empty card patch")}
	}

	var card model.Card
	path := fmt.Sprintf("/cards/%s", url.PathEscape(cardID))
	if err := c.do(ctx, http.MethodPut, path, params, &card); err != nil {
		return nil, fmt.Errorf("failed to update card %s: %w", cardID, err)
	}
	return &card, nil
}

// DeleteCard removes a card permanently.
func (c *Client) DeleteCard(ctx context.Context, cardID string) error {
	if cardID == "" {
		return &syncerr.ValidationError{Err: fmt.Errorf("card id is required")}
	}
	path := fmt.Sprintf("/cards/%s", url.PathEscape(cardID))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete card %s: %w", cardID, err)
	}
	return nil
}

// do performs one API call with credentials appended and the response decoded
// into out (when non-nil). Non-2xx statuses are classified into the shared
// error taxonomy. Rate-limited and transient failures are retried within the
// call's retry budget.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.apiKey)
	params.Set("token", c.token)
	reqURL := c.baseURL + path + "?" + params.Encode()

	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.doOnce(ctx, method, path, reqURL, out)
	})
}

// doOnce is a single attempt with its own timeout.
func (c *Client) doOnce(ctx context.Context, method, path, reqURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &syncerr.TransientError{Service: "trello", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
		classified := syncerr.FromStatus("trello", resp.StatusCode, apiErr)
		if rl, ok := classified.(*syncerr.RateLimitError); ok {
			rl.RetryAfter = resp.Header.Get("Retry-After")
		}
		return classified
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Package auth implements the calendar credential guard that runs before
// every sync job.
//
// The guard checks whether the stored access token expires inside a safety
// margin and, if so, exchanges the refresh token for a new one and persists
// it before the job is allowed to build its calendar client. A job therefore
// never starts with a token that could lapse mid-flight, and a failed
// refresh surfaces as an auth failure instead of being retried with the
// stale credential.
package auth

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/adiwijaya/boardsync/internal/model"
	"github.com/adiwijaya/boardsync/internal/syncerr"
)

// DefaultMargin is how close to expiry a token may get before the guard
// refreshes it.
const DefaultMargin = 60 * time.Second

// TokenStore persists refreshed credentials.
type TokenStore interface {
	SaveGoogleToken(ctx context.Context, userID string, tok model.GoogleToken) error
}

// Guard checks and refreshes calendar credentials.
type Guard struct {
	store  TokenStore
	cfg    *oauth2.Config
	margin time.Duration
	now    func() time.Time
	logger *log.Logger
}

// New creates a guard using Google's token endpoint.
func New(store TokenStore, clientID, clientSecret string, logger *log.Logger) *Guard {
	return NewWithEndpoint(store, clientID, clientSecret, google.Endpoint, logger)
}

// NewWithEndpoint creates a guard against an explicit OAuth endpoint.
// Tests use this to point the refresh exchange at a local server.
func NewWithEndpoint(store TokenStore, clientID, clientSecret string, endpoint oauth2.Endpoint, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Guard{
		store: store,
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
		},
		margin: DefaultMargin,
		now:    time.Now,
		logger: logger,
	}
}

// Ensure returns a credential guaranteed to outlive the margin. Fresh tokens
// pass through untouched; expiring ones are refreshed and persisted first.
func (g *Guard) Ensure(ctx context.Context, userID string, tok model.GoogleToken) (model.GoogleToken, error) {
	if !tok.ExpiresWithin(g.now(), g.margin) {
		return tok, nil
	}

	if tok.RefreshToken == "" {
		return model.GoogleToken{}, &syncerr.AuthError{
			Service: "calendar",
			Err:     fmt.Errorf("token for user %s expired and no refresh token is stored", userID),
		}
	}

	g.logger.Printf("refreshing calendar token for user %s", userID)

	src := g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return model.GoogleToken{}, &syncerr.AuthError{
			Service: "calendar",
			Err:     fmt.Errorf("refresh failed for user %s: %w", userID, err),
		}
	}

	out := model.GoogleToken{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		Expiry:       fresh.Expiry,
	}
	// Google omits the refresh token when it hasn't rotated.
	if out.RefreshToken == "" {
		out.RefreshToken = tok.RefreshToken
	}

	if err := g.store.SaveGoogleToken(ctx, userID, out); err != nil {
		return model.GoogleToken{}, fmt.Errorf("failed to persist refreshed token for user %s: %w", userID, err)
	}
	return out, nil
}

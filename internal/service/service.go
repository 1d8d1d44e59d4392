// Package service wires the stores, the credential guard and the API
// clients into the operations the CLI and the scheduler call.
//
// Clients are built fresh per sync run from the user's stored credentials,
// after the guard has verified (and if needed refreshed) the calendar token.
// Nothing credential-bearing is cached between runs.
package service

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/adiwijaya/boardsync/internal/auth"
	"github.com/adiwijaya/boardsync/internal/engine"
	"github.com/adiwijaya/boardsync/internal/gcal"
	"github.com/adiwijaya/boardsync/internal/model"
	"github.com/adiwijaya/boardsync/internal/store"
	"github.com/adiwijaya/boardsync/internal/trello"
)

// ClientFactory builds per-run API clients from a user's credentials. The
// default implementation talks to the real services; tests substitute fakes.
type ClientFactory func(ctx context.Context, user *model.User, tok model.GoogleToken) (engine.TaskAPI, engine.CalendarAPI, error)

// Service exposes the sync operations.
type Service struct {
	store   *store.Store
	guard   *auth.Guard
	clients ClientFactory
	logger  *log.Logger
}

// Config carries the credentials the default client factory needs.
type Config struct {
	// TrelloAPIKey is the application key paired with each user's token.
	TrelloAPIKey string
}

// New creates a Service with the default client factory. If logger is nil,
// logs go to stderr.
func New(st *store.Store, guard *auth.Guard, cfg Config, logger *log.Logger) *Service {
	s := NewWithFactory(st, guard, nil, logger)
	s.clients = func(ctx context.Context, user *model.User, tok model.GoogleToken) (engine.TaskAPI, engine.CalendarAPI, error) {
		cal, err := gcal.New(ctx, tok.AccessToken)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build calendar client: %w", err)
		}
		return trello.New(cfg.TrelloAPIKey, user.TrelloToken), cal, nil
	}
	return s
}

// NewWithFactory creates a Service with an explicit client factory.
func NewWithFactory(st *store.Store, guard *auth.Guard, factory ClientFactory, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[service] ", log.LstdFlags)
	}
	return &Service{
		store:   st,
		guard:   guard,
		clients: factory,
		logger:  logger,
	}
}

// RunSyncOnce executes one reconciliation cycle for the given pair.
func (s *Service) RunSyncOnce(ctx context.Context, userID, boardID, listID string) (*model.SyncReport, error) {
	return s.RunSync(ctx, engine.Job{UserID: userID, BoardID: boardID, ListID: listID})
}

// RunSync executes one reconciliation cycle for a fully specified job.
func (s *Service) RunSync(ctx context.Context, job engine.Job) (*model.SyncReport, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserContext(ctx, job.UserID)
	if err != nil {
		return nil, err
	}

	tok, err := s.guard.Ensure(ctx, user.ID, user.Google)
	if err != nil {
		return nil, err
	}

	tasks, cal, err := s.clients(ctx, user, tok)
	if err != nil {
		return nil, err
	}

	eng := engine.New(tasks, cal, s.store, s.store, s.logger)
	return eng.Run(ctx, job)
}

// GetSyncLogs returns a user's audit records, newest first.
func (s *Service) GetSyncLogs(ctx context.Context, userID string, limit int) ([]*model.SyncLogEntry, error) {
	return s.store.ListLogs(ctx, userID, limit)
}

// SetSyncEnrollment replaces a user's board enrollments and flips the
// enabled flag.
func (s *Service) SetSyncEnrollment(ctx context.Context, userID string, boards []model.Enrollment, enable bool) error {
	return s.store.SetEnrollment(ctx, userID, boards, enable)
}

// ValidateEnrollment checks against the live task service that each enrolled
// board exists and that its list belongs to it.
func (s *Service) ValidateEnrollment(ctx context.Context, userID string, boards []model.Enrollment) error {
	user, err := s.store.GetUserContext(ctx, userID)
	if err != nil {
		return err
	}
	tasks, _, err := s.clients(ctx, user, user.Google)
	if err != nil {
		return err
	}
	lister, ok := tasks.(interface {
		ListBoards(ctx context.Context) ([]model.Board, error)
		ListLists(ctx context.Context, boardID string) ([]model.List, error)
	})
	if !ok {
		return fmt.Errorf("task client does not support board discovery")
	}

	known, err := lister.ListBoards(ctx)
	if err != nil {
		return err
	}
	knownBoards := make(map[string]bool, len(known))
	for _, b := range known {
		knownBoards[b.ID] = true
	}

	for _, e := range boards {
		if err := e.Validate(); err != nil {
			return err
		}
		if !knownBoards[e.BoardID] {
			return fmt.Errorf("board %s is not visible to this user", e.BoardID)
		}
		lists, err := lister.ListLists(ctx, e.BoardID)
		if err != nil {
			return err
		}
		found := false
		for _, l := range lists {
			if l.ID == e.ListID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("list %s does not belong to board %s", e.ListID, e.BoardID)
		}
	}
	return nil
}

// ListSyncEnabledUsers exposes the scheduler's tick query.
func (s *Service) ListSyncEnabledUsers(ctx context.Context) ([]*model.User, error) {
	return s.store.ListSyncEnabledUsers(ctx)
}

// Package store provides the durable state layer for the sync bridge:
// per-user sync configuration, per-board snapshots and the append-only sync
// log, all on embedded SQLite with WAL mode for concurrent access.
//
// Layout:
//   - users: configuration + credentials, enrollments as a JSON column
//   - snapshots: one row per (user, board), card/event arrays as JSON
//   - sync_logs: append-only audit records, indexed (user_id, timestamp DESC)
//
// Snapshots are replaced wholesale, never patched: the reconciler writes a
// complete new snapshot only after a cycle finishes both passes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adiwijaya/boardsync/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with bridge-specific queries.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created along with the schema.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// InitSchema creates the tables and indexes if they don't exist.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext is InitSchema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		sync_enabled INTEGER NOT NULL DEFAULT 0,
		enrollments TEXT NOT NULL DEFAULT '[]',
		trello_token TEXT NOT NULL DEFAULT '',
		google_access_token TEXT NOT NULL DEFAULT '',
		google_refresh_token TEXT NOT NULL DEFAULT '',
		google_expiry TEXT
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		user_id TEXT NOT NULL,
		board_id TEXT NOT NULL,
		cards TEXT NOT NULL DEFAULT '[]',
		events TEXT NOT NULL DEFAULT '[]',
		last_sync TEXT NOT NULL,
		PRIMARY KEY (user_id, board_id)
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		direction TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sync_logs_user_time
		ON sync_logs(user_id, timestamp DESC);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// UpsertUser inserts or replaces a user's configuration and credentials.
func (s *Store) UpsertUser(user *model.User) error {
	return s.UpsertUserContext(context.Background(), user)
}

// UpsertUserContext is UpsertUser with context support.
func (s *Store) UpsertUserContext(ctx context.Context, user *model.User) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}
	if user.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	enrollments, err := json.Marshal(user.Boards)
	if err != nil {
		return fmt.Errorf("failed to marshal enrollments: %w", err)
	}

	query := `
	INSERT INTO users (id, email, sync_enabled, enrollments, trello_token,
		google_access_token, google_refresh_token, google_expiry)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		email = excluded.email,
		sync_enabled = excluded.sync_enabled,
		enrollments = excluded.enrollments,
		trello_token = excluded.trello_token,
		google_access_token = excluded.google_access_token,
		google_refresh_token = excluded.google_refresh_token,
		google_expiry = excluded.google_expiry
	`
	_, err = s.conn.ExecContext(ctx, query,
		user.ID,
		user.Email,
		boolToInt(user.SyncEnabled),
		string(enrollments),
		user.TrelloToken,
		user.Google.AccessToken,
		user.Google.RefreshToken,
		timeToNullString(nonZeroTime(user.Google.Expiry)),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return nil
}

// GetUser returns the user with the given ID, or an error if absent.
func (s *Store) GetUser(userID string) (*model.User, error) {
	return s.GetUserContext(context.Background(), userID)
}

// GetUserContext is GetUser with context support.
func (s *Store) GetUserContext(ctx context.Context, userID string) (*model.User, error) {
	query := `
	SELECT id, email, sync_enabled, enrollments, trello_token,
		google_access_token, google_refresh_token, google_expiry
	FROM users WHERE id = ?
	`
	row := s.conn.QueryRowContext(ctx, query, userID)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return user, nil
}

// ListSyncEnabledUsers returns every user with sync enabled and at least one
// enrollment. The scheduler calls this on each tick.
func (s *Store) ListSyncEnabledUsers(ctx context.Context) ([]*model.User, error) {
	query := `
	SELECT id, email, sync_enabled, enrollments, trello_token,
		google_access_token, google_refresh_token, google_expiry
	FROM users
	WHERE sync_enabled = 1 AND enrollments != '[]'
	ORDER BY id
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync-enabled users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// SetEnrollment enables or disables sync for a user and replaces the board
// enrollments in the same statement.
func (s *Store) SetEnrollment(ctx context.Context, userID string, boards []model.Enrollment, enable bool) error {
	for i := range boards {
		if err := boards[i].Validate(); err != nil {
			return err
		}
	}
	enrollments, err := json.Marshal(boards)
	if err != nil {
		return fmt.Errorf("failed to marshal enrollments: %w", err)
	}

	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET sync_enabled = ?, enrollments = ? WHERE id = ?`,
		boolToInt(enable), string(enrollments), userID)
	if err != nil {
		return fmt.Errorf("failed to set enrollment for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check enrollment update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}

// SaveGoogleToken persists a refreshed calendar credential for a user.
func (s *Store) SaveGoogleToken(ctx context.Context, userID string, tok model.GoogleToken) error {
	res, err := s.conn.ExecContext(ctx, `
	UPDATE users SET
		google_access_token = ?,
		google_refresh_token = ?,
		google_expiry = ?
	WHERE id = ?
	`,
		tok.AccessToken,
		tok.RefreshToken,
		timeToNullString(nonZeroTime(tok.Expiry)),
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to save token for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check token update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}

// GetSnapshot returns the stored snapshot for a (user, board) pair. A pair
// that has never synced gets an empty snapshot, not an error.
func (s *Store) GetSnapshot(ctx context.Context, userID, boardID string) (*model.Snapshot, error) {
	query := `SELECT cards, events, last_sync FROM snapshots WHERE user_id = ? AND board_id = ?`
	var cardsJSON, eventsJSON, lastSync string
	err := s.conn.QueryRowContext(ctx, query, userID, boardID).Scan(&cardsJSON, &eventsJSON, &lastSync)
	if err == sql.ErrNoRows {
		return model.EmptySnapshot(userID, boardID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s/%s: %w", userID, boardID, err)
	}

	snap := &model.Snapshot{UserID: userID, BoardID: boardID}
	if err := json.Unmarshal([]byte(cardsJSON), &snap.Cards); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot cards: %w", err)
	}
	if err := json.Unmarshal([]byte(eventsJSON), &snap.Events); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot events: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, lastSync); err == nil {
		snap.LastSync = t
	}
	return snap, nil
}

// ReplaceSnapshot swaps in a complete new snapshot for a (user, board) pair.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if snap.UserID == "" || snap.BoardID == "" {
		return fmt.Errorf("snapshot must be keyed by user and board")
	}

	cards, err := json.Marshal(snap.Cards)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot cards: %w", err)
	}
	events, err := json.Marshal(snap.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot events: %w", err)
	}
	lastSync := snap.LastSync
	if lastSync.IsZero() {
		lastSync = time.Now().UTC()
	}

	query := `
	INSERT INTO snapshots (user_id, board_id, cards, events, last_sync)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, board_id) DO UPDATE SET
		cards = excluded.cards,
		events = excluded.events,
		last_sync = excluded.last_sync
	`
	_, err = s.conn.ExecContext(ctx, query,
		snap.UserID, snap.BoardID, string(cards), string(events),
		lastSync.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to replace snapshot %s/%s: %w", snap.UserID, snap.BoardID, err)
	}
	return nil
}

// AppendLog writes one audit record. Entries are immutable once written.
func (s *Store) AppendLog(ctx context.Context, entry *model.SyncLogEntry) error {
	if entry == nil {
		return fmt.Errorf("log entry cannot be nil")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.ID == "" {
		return fmt.Errorf("log entry id cannot be empty")
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_logs (id, user_id, timestamp, direction, action, details)
	VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.UserID, ts.Format(time.RFC3339Nano),
		string(entry.Direction), string(entry.Action), entry.Details)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// ListLogs returns a user's audit records, newest first, capped at limit.
// A non-positive limit defaults to 100.
func (s *Store) ListLogs(ctx context.Context, userID string, limit int) ([]*model.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, user_id, timestamp, direction, action, details
	FROM sync_logs
	WHERE user_id = ?
	ORDER BY timestamp DESC
	LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs for %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []*model.SyncLogEntry
	for rows.Next() {
		var e model.SyncLogEntry
		var ts, direction, action string
		if err := rows.Scan(&e.ID, &e.UserID, &ts, &direction, &action, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		e.Direction = model.SyncDirection(direction)
		e.Action = model.SyncAction(action)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync logs: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var enabled int
	var enrollments string
	var expiry sql.NullString
	err := row.Scan(&u.ID, &u.Email, &enabled, &enrollments,
		&u.TrelloToken, &u.Google.AccessToken, &u.Google.RefreshToken, &expiry)
	if err != nil {
		return nil, err
	}
	u.SyncEnabled = enabled != 0
	if err := json.Unmarshal([]byte(enrollments), &u.Boards); err != nil {
		return nil, fmt.Errorf("failed to decode enrollments: %w", err)
	}
	if t := nullStringToTime(expiry); t != nil {
		u.Google.Expiry = *t
	}
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nonZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

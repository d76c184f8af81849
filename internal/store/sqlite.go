// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides thread/chat persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Concurrent pairing attempts contend on writes; wait rather than fail
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id          TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			owner_token TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,

			CHECK (status IN ('connecting', 'connected', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_threads_status ON threads(status);
		CREATE INDEX IF NOT EXISTS idx_threads_owner_token ON threads(owner_token);

		CREATE TABLE IF NOT EXISTS chats (
			id             TEXT PRIMARY KEY,
			thread_a       TEXT NOT NULL REFERENCES threads(id),
			thread_b       TEXT NOT NULL REFERENCES threads(id),
			token_a        TEXT NOT NULL DEFAULT '',
			token_b        TEXT NOT NULL DEFAULT '',
			mode_active    INTEGER NOT NULL DEFAULT 0,
			opt_in_a       INTEGER NOT NULL DEFAULT 0,
			opt_in_b       INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			last_active_at TEXT NOT NULL,
			closed_at      TEXT,

			CHECK (thread_a != thread_b)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_open_a ON chats(thread_a) WHERE closed_at IS NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_open_b ON chats(thread_b) WHERE closed_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_chats_last_active ON chats(last_active_at);
		CREATE INDEX IF NOT EXISTS idx_chats_token_a ON chats(token_a);
		CREATE INDEX IF NOT EXISTS idx_chats_token_b ON chats(token_b);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateThread creates a new thread in connecting status. If a thread with
// the same id already exists, the existing record is returned unchanged.
func (s *SQLiteStore) CreateThread(ctx context.Context, id, ownerToken string) (*Thread, error) {
	query := `
		INSERT INTO threads (id, status, owner_token, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query, id, StatusConnecting, ownerToken, now.Format(time.RFC3339))
	if err != nil {
		return nil, storagef("inserting thread", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("created thread", "id", id)
	}

	return s.GetThread(ctx, id)
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `
		SELECT id, status, owner_token, created_at
		FROM threads
		WHERE id = ?
	`

	var thread Thread
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&thread.ID,
		&thread.Status,
		&thread.OwnerToken,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storagef("querying thread", err)
	}

	thread.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, storagef("parsing created_at", err)
	}

	return &thread, nil
}

// SetThreadStatus updates a thread's status. The closed status is terminal:
// closed->closed is a no-op, any other transition out of closed returns
// ErrThreadClosed.
func (s *SQLiteStore) SetThreadStatus(ctx context.Context, id, status string) error {
	query := `UPDATE threads SET status = ? WHERE id = ? AND status != ?`

	result, err := s.db.ExecContext(ctx, query, status, id, StatusClosed)
	if err != nil {
		return storagef("updating thread status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storagef("getting rows affected", err)
	}
	if rowsAffected > 0 {
		s.logger.Debug("updated thread status", "id", id, "status", status)
		return nil
	}

	// No row changed: the thread is missing or already closed.
	current, err := s.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == StatusClosed {
		if status == StatusClosed {
			return nil
		}
		return ErrThreadClosed
	}
	return nil
}

// scanChat reads a chat row from any row scanner.
func scanChat(scan func(dest ...any) error) (*Chat, error) {
	var chat Chat
	var modeActive, optInA, optInB int
	var createdAtStr, lastActiveStr string
	var closedAtStr sql.NullString

	err := scan(
		&chat.ID,
		&chat.ThreadA,
		&chat.ThreadB,
		&chat.TokenA,
		&chat.TokenB,
		&modeActive,
		&optInA,
		&optInB,
		&createdAtStr,
		&lastActiveStr,
		&closedAtStr,
	)
	if err != nil {
		return nil, err
	}

	chat.ModeActive = modeActive != 0
	chat.OptInA = optInA != 0
	chat.OptInB = optInB != 0

	chat.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	chat.LastActiveAt, err = time.Parse(time.RFC3339, lastActiveStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_active_at: %w", err)
	}
	if closedAtStr.Valid {
		t, err := time.Parse(time.RFC3339, closedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
		chat.ClosedAt = &t
	}

	return &chat, nil
}

const chatColumns = `id, thread_a, thread_b, token_a, token_b, mode_active, opt_in_a, opt_in_b, created_at, last_active_at, closed_at`

// FindChatByThread returns the open chat containing the thread on either
// side. Returns ErrNotFound if the thread has no open chat.
func (s *SQLiteStore) FindChatByThread(ctx context.Context, threadID string) (*Chat, error) {
	query := `
		SELECT ` + chatColumns + `
		FROM chats
		WHERE closed_at IS NULL AND (thread_a = ? OR thread_b = ?)
	`

	row := s.db.QueryRowContext(ctx, query, threadID, threadID)
	chat, err := scanChat(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storagef("querying chat by thread", err)
	}
	return chat, nil
}

// GetChat retrieves a chat by ID, open or closed.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	chat, err := scanChat(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storagef("querying chat", err)
	}
	return chat, nil
}

// ListWaitingThreads returns up to limit threads in connecting status,
// excluding the requester and (when known) its owner token. Threads without
// an owner token are never filtered by token; two token-less participants
// may match each other repeatedly, which is the intended permissive
// fallback.
func (s *SQLiteStore) ListWaitingThreads(ctx context.Context, excludeID, excludeToken string, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, status, owner_token, created_at
		FROM threads
		WHERE status = ? AND id != ?
	`
	args := []any{StatusConnecting, excludeID}

	if excludeToken != "" {
		query += ` AND owner_token != ?`
		args = append(args, excludeToken)
	}

	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storagef("querying waiting threads", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		var thread Thread
		var createdAtStr string

		if err := rows.Scan(&thread.ID, &thread.Status, &thread.OwnerToken, &createdAtStr); err != nil {
			return nil, storagef("scanning thread row", err)
		}

		thread.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, storagef("parsing created_at", err)
		}

		threads = append(threads, &thread)
	}

	if err := rows.Err(); err != nil {
		return nil, storagef("iterating thread rows", err)
	}

	return threads, nil
}

// RecentPartnerTokens returns the owner tokens that appeared opposite the
// given token in chats active since the given time. Closed chats count
// until their activity falls out of the window. Empty tokens (token-less
// participants) are not returned.
func (s *SQLiteStore) RecentPartnerTokens(ctx context.Context, token string, since time.Time) ([]string, error) {
	if token == "" {
		return nil, nil
	}

	query := `
		SELECT token_a, token_b
		FROM chats
		WHERE last_active_at >= ? AND (token_a = ? OR token_b = ?)
	`

	rows, err := s.db.QueryContext(ctx, query, since.UTC().Format(time.RFC3339), token, token)
	if err != nil {
		return nil, storagef("querying recent partners", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var tokenA, tokenB string
		if err := rows.Scan(&tokenA, &tokenB); err != nil {
			return nil, storagef("scanning partner row", err)
		}

		other := tokenA
		if tokenA == token {
			other = tokenB
		}
		if other != "" {
			tokens = append(tokens, other)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, storagef("iterating partner rows", err)
	}

	return tokens, nil
}

// PairThreads atomically claims both threads and creates the chat linking
// them. The guarded UPDATEs only succeed while a thread is still in
// connecting status, so two concurrent pairing attempts can never claim the
// same candidate: the loser's transaction rolls back with ErrConflict.
func (s *SQLiteStore) PairThreads(ctx context.Context, requesterID, candidateID string, chat *Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storagef("beginning pairing transaction", err)
	}
	defer tx.Rollback()

	claim := `UPDATE threads SET status = ? WHERE id = ? AND status = ?`

	for _, id := range []string{requesterID, candidateID} {
		result, err := tx.ExecContext(ctx, claim, StatusConnected, id, StatusConnecting)
		if err != nil {
			return storagef("claiming thread", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return storagef("getting rows affected", err)
		}
		if rowsAffected == 0 {
			return ErrConflict
		}
	}

	insert := `
		INSERT INTO chats (id, thread_a, thread_b, token_a, token_b, mode_active, opt_in_a, opt_in_b, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insert,
		chat.ID,
		chat.ThreadA,
		chat.ThreadB,
		chat.TokenA,
		chat.TokenB,
		chat.CreatedAt.UTC().Format(time.RFC3339),
		chat.LastActiveAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return storagef("inserting chat", err)
	}

	if err := tx.Commit(); err != nil {
		return storagef("committing pairing transaction", err)
	}

	s.logger.Debug("paired threads", "chat_id", chat.ID, "thread_a", chat.ThreadA, "thread_b", chat.ThreadB)
	return nil
}

// CloseChat marks the chat closed and forces both member threads to closed
// in a single transaction. Closing an already-closed chat is a no-op.
func (s *SQLiteStore) CloseChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storagef("beginning close transaction", err)
	}
	defer tx.Rollback()

	var threadA, threadB string
	err = tx.QueryRowContext(ctx, `SELECT thread_a, thread_b FROM chats WHERE id = ?`, chatID).Scan(&threadA, &threadB)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return storagef("querying chat members", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := tx.ExecContext(ctx, `UPDATE chats SET closed_at = ? WHERE id = ? AND closed_at IS NULL`, now, chatID)
	if err != nil {
		return storagef("closing chat", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storagef("getting rows affected", err)
	}
	if rowsAffected == 0 {
		// Already closed by a concurrent close; nothing left to do.
		return nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE threads SET status = ? WHERE id IN (?, ?)`, StatusClosed, threadA, threadB); err != nil {
		return storagef("closing member threads", err)
	}

	if err := tx.Commit(); err != nil {
		return storagef("committing close transaction", err)
	}

	s.logger.Debug("closed chat", "chat_id", chatID)
	return nil
}

// TouchChat updates the chat's last-activity timestamp.
func (s *SQLiteStore) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE chats SET last_active_at = ? WHERE id = ?`, at.UTC().Format(time.RFC3339), chatID)
	if err != nil {
		return storagef("touching chat", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storagef("getting rows affected", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOptIn records the opt-in flag on whichever side threadID occupies.
func (s *SQLiteStore) SetOptIn(ctx context.Context, chatID, threadID string, optIn bool) error {
	val := 0
	if optIn {
		val = 1
	}

	query := `
		UPDATE chats
		SET opt_in_a = CASE WHEN thread_a = ? THEN ? ELSE opt_in_a END,
		    opt_in_b = CASE WHEN thread_b = ? THEN ? ELSE opt_in_b END
		WHERE id = ? AND (thread_a = ? OR thread_b = ?)
	`

	result, err := s.db.ExecContext(ctx, query, threadID, val, threadID, val, chatID, threadID, threadID)
	if err != nil {
		return storagef("setting opt-in", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storagef("getting rows affected", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivateMode flips the mode flag on if it is currently off, reporting
// whether this call performed the flip. The guard makes concurrent
// activations resolve to exactly one winner.
func (s *SQLiteStore) ActivateMode(ctx context.Context, chatID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE chats SET mode_active = 1 WHERE id = ? AND mode_active = 0`, chatID)
	if err != nil {
		return false, storagef("activating mode", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storagef("getting rows affected", err)
	}
	return rowsAffected > 0, nil
}

// DeactivateMode turns the mode off and clears both opt-in flags. A
// single-sided disable is authoritative; no re-consensus is needed.
func (s *SQLiteStore) DeactivateMode(ctx context.Context, chatID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE chats SET mode_active = 0, opt_in_a = 0, opt_in_b = 0 WHERE id = ?`, chatID)
	if err != nil {
		return storagef("deactivating mode", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storagef("getting rows affected", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountWaitingThreads returns the number of threads in connecting status.
func (s *SQLiteStore) CountWaitingThreads(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads WHERE status = ?`, StatusConnecting).Scan(&n)
	if err != nil {
		return 0, storagef("counting waiting threads", err)
	}
	return n, nil
}

// CountOpenChats returns the number of chats that have not been closed.
func (s *SQLiteStore) CountOpenChats(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE closed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, storagef("counting open chats", err)
	}
	return n, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

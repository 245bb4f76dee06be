package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store using SQLite for persistence.
// This store provides durable usage state and is suitable for
// single-instance deployments where counters must survive restarts.
//
// SQLiteStore uses a write-ahead log (WAL) and restricts the pool to a
// single connection: every Update runs as one transaction on that
// connection, which serializes read-modify-write cycles per user and makes
// the rate-limit check-and-increment path linearizable.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	// prepared statements for the hot read paths
	getStmt    *sql.Stmt
	deleteStmt *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite usage store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig creates a new SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	// Apply defaults
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer; one connection keeps every
	// Update transaction serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	// Start background checkpoint goroutine
	go store.checkpointLoop()

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_states (
		user_id TEXT PRIMARY KEY,
		explanations INTEGER NOT NULL DEFAULT 0,
		refactorings INTEGER NOT NULL DEFAULT 0,
		error_analyses INTEGER NOT NULL DEFAULT 0,
		security_scans INTEGER NOT NULL DEFAULT 0,
		api_requests INTEGER NOT NULL DEFAULT 0,
		last_daily_reset INTEGER NOT NULL,
		last_weekly_reset INTEGER NOT NULL,
		window_start INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_states_updated_at ON usage_states(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(selectStateSQL + ` WHERE user_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM usage_states WHERE user_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	return nil
}

const selectStateSQL = `
	SELECT user_id, explanations, refactorings, error_analyses, security_scans,
	       api_requests, last_daily_reset, last_weekly_reset, window_start,
	       created_at, updated_at
	FROM usage_states`

const upsertStateSQL = `
	INSERT INTO usage_states (user_id, explanations, refactorings, error_analyses,
	                          security_scans, api_requests, last_daily_reset,
	                          last_weekly_reset, window_start, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		explanations = excluded.explanations,
		refactorings = excluded.refactorings,
		error_analyses = excluded.error_analyses,
		security_scans = excluded.security_scans,
		api_requests = excluded.api_requests,
		last_daily_reset = excluded.last_daily_reset,
		last_weekly_reset = excluded.last_weekly_reset,
		window_start = excluded.window_start,
		updated_at = excluded.updated_at`

// Get retrieves the usage state for a user.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*UsageState, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	state, err := scanState(s.getStmt.QueryRowContext(ctx, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage state: %w", err)
	}

	return state, nil
}

// Update atomically applies mutate to the user's state inside a single
// transaction, creating a fresh state stamped at now if none exists.
func (s *SQLiteStore) Update(ctx context.Context, userID string, now time.Time, mutate func(*UsageState) error) (*UsageState, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if mutate == nil {
		return nil, fmt.Errorf("mutate function cannot be nil")
	}
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	state, err := scanState(tx.QueryRowContext(ctx, selectStateSQL+` WHERE user_id = ?`, userID))
	if err == sql.ErrNoRows {
		state = NewUsageState(userID, now)
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage state: %w", err)
	}

	if err := mutate(state); err != nil {
		return nil, err
	}

	state.UpdatedAt = now

	_, err = tx.ExecContext(ctx, upsertStateSQL,
		state.UserID,
		state.Explanations,
		state.Refactorings,
		state.ErrorAnalyses,
		state.SecurityScans,
		state.APIRequests,
		state.LastDailyReset.UnixNano(),
		state.LastWeeklyReset.UnixNano(),
		state.WindowStart.UnixNano(),
		state.CreatedAt.UnixNano(),
		state.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save usage state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit usage state: %w", err)
	}

	return state, nil
}

// Delete removes the usage state for a user.
func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if s.isClosed() {
		return ErrStoreClosed
	}

	if _, err := s.deleteStmt.ExecContext(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete usage state: %w", err)
	}

	return nil
}

// Cleanup removes states not updated since olderThan.
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	if s.isClosed() {
		return 0, ErrStoreClosed
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_states WHERE updated_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup usage states: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(deleted), nil
}

// Close releases any resources held by the store.
// Close is idempotent; operations after Close return ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		if s.getStmt != nil {
			s.getStmt.Close()
		}
		if s.deleteStmt != nil {
			s.deleteStmt.Close()
		}

		if s.db != nil {
			// Run final checkpoint
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// isClosed reports whether Close has been called.
func (s *SQLiteStore) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// scanner abstracts *sql.Row for use inside and outside transactions.
type scanner interface {
	Scan(dest ...any) error
}

// scanState reads one usage_states row into a UsageState.
func scanState(row scanner) (*UsageState, error) {
	var (
		state                              UsageState
		daily, weekly, window, created, up int64
	)

	err := row.Scan(
		&state.UserID,
		&state.Explanations,
		&state.Refactorings,
		&state.ErrorAnalyses,
		&state.SecurityScans,
		&state.APIRequests,
		&daily,
		&weekly,
		&window,
		&created,
		&up,
	)
	if err != nil {
		return nil, err
	}

	state.LastDailyReset = time.Unix(0, daily)
	state.LastWeeklyReset = time.Unix(0, weekly)
	state.WindowStart = time.Unix(0, window)
	state.CreatedAt = time.Unix(0, created)
	state.UpdatedAt = time.Unix(0, up)

	return &state, nil
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

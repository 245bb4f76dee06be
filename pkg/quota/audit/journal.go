package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Event is a single recorded usage occurrence.
type Event struct {
	// ID is a unique event identifier.
	ID string

	// UserID is the user the usage was recorded for.
	UserID string

	// Capability is the capability that was consumed.
	Capability string

	// RecordedAt is when the usage was recorded.
	RecordedAt time.Time
}

// Journal is an append-only SQLite store of usage events.
// It is safe for concurrent use.
type Journal struct {
	db        *sql.DB
	mu        sync.Mutex
	closeOnce sync.Once

	appendStmt *sql.Stmt
}

// JournalConfig configures the journal.
type JournalConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// Open opens (creating if necessary) a usage event journal at dbPath.
func Open(dbPath string) (*Journal, error) {
	return OpenWithConfig(JournalConfig{DBPath: dbPath})
}

// OpenWithConfig opens a journal with custom configuration.
func OpenWithConfig(cfg JournalConfig) (*Journal, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}

	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	j.appendStmt, err = db.Prepare(`
		INSERT INTO usage_events (id, user_id, capability, recorded_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare append statement: %w", err)
	}

	return j, nil
}

// initSchema creates the journal schema if it doesn't exist.
func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		capability TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_events_user ON usage_events(user_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_usage_events_recorded_at ON usage_events(recorded_at);
	`

	_, err := j.db.Exec(schema)
	return err
}

// Append writes one usage event. The event ID is assigned here.
func (j *Journal) Append(ctx context.Context, userID, capability string, at time.Time) (*Event, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	if capability == "" {
		return nil, fmt.Errorf("capability cannot be empty")
	}

	event := &Event{
		ID:         uuid.New().String(),
		UserID:     userID,
		Capability: capability,
		RecordedAt: at,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.appendStmt.ExecContext(ctx,
		event.ID, event.UserID, event.Capability, event.RecordedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to append usage event: %w", err)
	}

	return event, nil
}

// ListByUser returns the events for a user within [since, until), newest first.
func (j *Journal) ListByUser(ctx context.Context, userID string, since, until time.Time) ([]*Event, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, user_id, capability, recorded_at
		FROM usage_events
		WHERE user_id = ? AND recorded_at >= ? AND recorded_at < ?
		ORDER BY recorded_at DESC
	`, userID, since.UnixNano(), until.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			event      Event
			recordedAt int64
		)
		if err := rows.Scan(&event.ID, &event.UserID, &event.Capability, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		event.RecordedAt = time.Unix(0, recordedAt)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage events: %w", err)
	}

	return events, nil
}

// Prune deletes events recorded before olderThan.
// Returns the number of events deleted.
func (j *Journal) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := j.db.ExecContext(ctx,
		`DELETE FROM usage_events WHERE recorded_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(deleted), nil
}

// Close releases the journal's resources.
// Close is idempotent and safe to call multiple times.
func (j *Journal) Close() error {
	var closeErr error

	j.closeOnce.Do(func() {
		if j.appendStmt != nil {
			j.appendStmt.Close()
		}
		if j.db != nil {
			closeErr = j.db.Close()
		}
	})

	return closeErr
}

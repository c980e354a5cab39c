package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a SQLite database file.
// It is suitable for single-instance deployments where replay and rate
// state must survive restarts.
//
// The connection pool is limited to one connection, so every statement and
// transaction is serialized by the driver; Update runs inside a transaction
// on that connection.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	clock     clock.Clock
	closeOnce sync.Once
	logger    *slog.Logger

	getStmt         *sql.Stmt
	putStmt         *sql.Stmt
	putIfAbsentStmt *sql.Stmt
	deleteStmt      *sql.Stmt
	cleanupStmt     *sql.Stmt
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Clock overrides the time source. Default: wall clock.
	Clock clock.Clock
}

// NewSQLiteStore opens (or creates) the store at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		path:   cfg.Path,
		clock:  cfg.Clock,
		logger: slog.Default().With("component", "store.sqlite"),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	s.logger.Info("sqlite store opened", "path", cfg.Path)
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv_entries(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`
		SELECT value FROM kv_entries
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.putStmt, err = s.db.Prepare(`
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare put statement: %w", err)
	}

	// The conflict branch only fires for an expired row, so a live entry
	// leaves the statement with zero affected rows.
	s.putIfAbsentStmt, err = s.db.Prepare(`
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
		WHERE kv_entries.expires_at != 0 AND kv_entries.expires_at <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare put-if-absent statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM kv_entries WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`
		DELETE FROM kv_entries WHERE expires_at != 0 AND expires_at <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

func expiresAtMillis(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixMilli()
}

// Get returns the value of key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.getStmt.QueryRowContext(ctx, key, s.clock.Now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &OpError{Backend: "sqlite", Op: "get", Key: key, Err: err}
	}
	return value, nil
}

// Put stores value under key.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.putStmt.ExecContext(ctx, key, value, expiresAtMillis(s.clock.Now(), ttl))
	if err != nil {
		return &OpError{Backend: "sqlite", Op: "put", Key: key, Err: err}
	}
	return nil
}

// PutIfAbsent stores value when key is absent or expired.
func (s *SQLiteStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	res, err := s.putIfAbsentStmt.ExecContext(ctx, key, value, expiresAtMillis(now, ttl), now.UnixMilli())
	if err != nil {
		return false, &OpError{Backend: "sqlite", Op: "put_if_absent", Key: key, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &OpError{Backend: "sqlite", Op: "put_if_absent", Key: key, Err: err}
	}
	return n == 1, nil
}

// Update applies fn to key inside a transaction.
func (s *SQLiteStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &OpError{Backend: "sqlite", Op: "update", Key: key, Err: err}
	}
	defer tx.Rollback()

	now := s.clock.Now()
	var current []byte
	err = tx.StmtContext(ctx, s.getStmt).QueryRowContext(ctx, key, now.UnixMilli()).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return &OpError{Backend: "sqlite", Op: "update", Key: key, Err: err}
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if _, err := tx.StmtContext(ctx, s.putStmt).ExecContext(ctx, key, next, expiresAtMillis(now, ttl)); err != nil {
		return &OpError{Backend: "sqlite", Op: "update", Key: key, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &OpError{Backend: "sqlite", Op: "update", Key: key, Err: err}
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, key); err != nil {
		return &OpError{Backend: "sqlite", Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Cleanup removes expired entries.
func (s *SQLiteStore) Cleanup(ctx context.Context) (int, error) {
	res, err := s.cleanupStmt.ExecContext(ctx, s.clock.Now().UnixMilli())
	if err != nil {
		return 0, &OpError{Backend: "sqlite", Op: "cleanup", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &OpError{Backend: "sqlite", Op: "cleanup", Err: err}
	}
	return int(n), nil
}

// Close closes prepared statements and the database.
func (s *SQLiteStore) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.getStmt, s.putStmt, s.putIfAbsentStmt, s.deleteStmt, s.cleanupStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		closeErr = s.db.Close()
	})
	return closeErr
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrCorrupt signals unrecoverable storage damage. The caller is
// expected to Reset the database and re-pull from the server.
var ErrCorrupt = errors.New("local database is corrupt")

// DB is the durable local cache: entity table, pending action log and
// sync state, all in one sqlite file so cross-table writes share a
// transaction. Writes are serialized through writeMu; sqlite handles
// concurrent readers on its own.
type DB struct {
	*sql.DB
	path    string
	writeMu sync.Mutex
	logger  zerolog.Logger
}

func NewDB(path string, logger zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("local database initialized")
	return &DB{DB: conn, path: path, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Таблица сущностей (задачи и события календаря)
		`CREATE TABLE IF NOT EXISTS entities (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            updated_at DATETIME NOT NULL,
            dirty BOOLEAN NOT NULL DEFAULT 0,
            deleted BOOLEAN NOT NULL DEFAULT 0,
            payload TEXT NOT NULL
        )`,
		// Журнал отложенных действий
		`CREATE TABLE IF NOT EXISTS pending_actions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            action_kind TEXT NOT NULL,
            entity_kind TEXT NOT NULL,
            entity_id TEXT NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,
		// Состояние синхронизации (курсоры, отметки времени)
		`CREATE TABLE IF NOT EXISTS sync_state (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_dirty ON entities(dirty)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_entity_id ON pending_actions(entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_status ON pending_actions(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// withTx runs fn inside a write transaction under the single-writer
// lock. The remap path relies on this: every multi-record write is
// all-or-nothing.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return db.wrap(fmt.Errorf("begin transaction: %w", err))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("transaction rollback failed")
		}
		return db.wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return db.wrap(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// wrap promotes storage-level corruption to ErrCorrupt; everything
// else stays a retryable error.
func (db *DB) wrap(err error) error {
	if err == nil {
		return nil
	}
	if isCorrupt(err) {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return err
}

func isCorrupt(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrCorrupt || sqliteErr.Code == sqlite3.ErrNotADB
	}
	return false
}

// CheckIntegrity runs sqlite's integrity check. A failed check is
// reported as ErrCorrupt.
func (db *DB) CheckIntegrity(ctx context.Context) error {
	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return db.wrap(err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity_check: %s", ErrCorrupt, result)
	}
	return nil
}

// Reset drops and recreates the schema. Used after corruption: all
// local state is lost and the next sync re-pulls from the server.
func (db *DB) Reset(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.logger.Warn().Str("path", db.path).Msg("resetting local database")

	for _, table := range []string{"entities", "pending_actions", "sync_state"} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	return createTables(db.DB)
}

// ClearAll empties every table but keeps the schema. Used on logout
// and account deletion.
func (db *DB) ClearAll(ctx context.Context) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"entities", "pending_actions", "sync_state"} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				return fmt.Errorf("clear table %s: %w", table, err)
			}
		}
		return nil
	})
}

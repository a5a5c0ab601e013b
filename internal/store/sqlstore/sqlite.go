package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/harrison/ingestagent/internal/models"
)

var sqliteDialect = &dialect{
	name:         "sqlite",
	insertIgnore: sqliteInsertIgnore,
	migrations:   sqliteMigrations,
	classify:     classifySQLite,
	retryable:    isSQLiteBusy,
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Per-connection settings go in the DSN so every pooled connection
	// gets them. _txlock=immediate takes the write lock at BEGIN, which
	// avoids busy errors on lock upgrade inside CompleteMove.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA cache_size=-16000", // 16MB cache
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	return open(db, sqliteDialect)
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked")
}

func classifySQLite(err error) (models.StorageErrorKind, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return models.StorageOther, false
	}
	switch sqliteErr.Code {
	case sqlite3.ErrConstraint:
		return models.StorageConstraintViolation, true
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return models.StorageTimeout, true
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrCorrupt, sqlite3.ErrReadonly:
		return models.StorageConnectionLost, true
	default:
		return models.StorageOther, true
	}
}

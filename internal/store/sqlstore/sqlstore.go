// Package sqlstore implements store.Store on database/sql for SQLite
// (github.com/mattn/go-sqlite3) and MySQL (github.com/go-sql-driver/mysql).
// The two share every query; a dialect supplies the schema, the
// insert-ignore form and error classification.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/store"
)

const outcomeColumns = "id, rule_name, source_path, source_mtime_us, destination_path, verdict, reason, file_date_us, file_version, attempted_at_us, error_detail"

const intentColumns = "id, rule_name, source_path, source_mtime_us, destination_path, file_date_us, file_version, created_at_us"

// Store is a database/sql backed outcome store.
type Store struct {
	db      *sql.DB
	dialect *dialect
}

var _ store.Store = (*Store)(nil)

// open wraps db, applies migrations and returns the store.
func open(db *sql.DB, d *dialect) (*Store, error) {
	s := &Store{db: db, dialect: d}
	if err := s.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for diagnostics and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the dialect name ("sqlite" or "mysql").
func (s *Store) Dialect() string {
	return s.dialect.name
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.wrap("ping", s.db.PingContext(ctx))
}

func (s *Store) wrap(op string, err error) error {
	return store.Wrap(op, err, s.dialect.classify)
}

// withRetry runs fn, retrying with exponential backoff while the dialect
// reports the error as transient (SQLite busy, MySQL deadlock).
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 5
	delay := 10 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if err == nil || !s.dialect.retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (s *Store) insertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 11), ", ")
	return s.dialect.insertIgnore("outcomes", outcomeColumns, placeholders, "id")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, ex execer, rec *models.OutcomeRecord) error {
	_, err := ex.ExecContext(ctx, s.insertSQL(),
		rec.ID,
		rec.RuleName,
		rec.SourcePath,
		micros(rec.SourceModTime),
		nullString(rec.DestinationPath),
		string(rec.Verdict),
		rec.Reason,
		nullMicros(rec.FileDate),
		rec.FileVersion,
		micros(rec.Timestamp),
		nullString(rec.ErrorDetail),
	)
	return err
}

// InsertOutcome writes rec. A record with the same (source_path,
// attempted_at) already present is left untouched and no error is returned.
func (s *Store) InsertOutcome(ctx context.Context, rec *models.OutcomeRecord) error {
	store.Normalize(rec)
	err := s.withRetry(ctx, func() error {
		return s.insert(ctx, s.db, rec)
	})
	return s.wrap("insert outcome", err)
}

// HasTerminalOutcome implements store.Store.
func (s *Store) HasTerminalOutcome(ctx context.Context, sourcePath string, modTime time.Time) (bool, error) {
	const q = `SELECT 1 FROM outcomes
WHERE source_path = ? AND source_mtime_us = ?
  AND (verdict <> 'valid' OR destination_path IS NOT NULL)
LIMIT 1`

	var one int
	err := s.db.QueryRowContext(ctx, q, sourcePath, micros(store.Truncate(modTime))).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.wrap("lookup outcome", err)
	}
	return true, nil
}

// Outcomes implements store.Store.
func (s *Store) Outcomes(ctx context.Context, f store.Filter) ([]models.OutcomeRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.SourcePath != "" {
		where = append(where, "source_path = ?")
		args = append(args, f.SourcePath)
	}
	if !f.Since.IsZero() {
		where = append(where, "attempted_at_us >= ?")
		args = append(args, micros(store.Truncate(f.Since)))
	}
	if !f.Until.IsZero() {
		where = append(where, "attempted_at_us < ?")
		args = append(args, micros(store.Truncate(f.Until)))
	}

	q := "SELECT " + outcomeColumns + " FROM outcomes"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY attempted_at_us, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("query outcomes", err)
	}
	defer rows.Close()

	var out []models.OutcomeRecord
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, s.wrap("scan outcome", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("query outcomes", err)
	}
	return out, nil
}

func scanOutcome(rows *sql.Rows) (models.OutcomeRecord, error) {
	var (
		rec        models.OutcomeRecord
		mtime, at  int64
		dest, edet sql.NullString
		fileDate   sql.NullInt64
		verdict    string
	)
	if err := rows.Scan(&rec.ID, &rec.RuleName, &rec.SourcePath, &mtime, &dest, &verdict, &rec.Reason, &fileDate, &rec.FileVersion, &at, &edet); err != nil {
		return rec, err
	}
	rec.SourceModTime = fromMicros(mtime)
	rec.Timestamp = fromMicros(at)
	rec.Verdict = models.Verdict(verdict)
	rec.DestinationPath = stringPtr(dest)
	rec.ErrorDetail = stringPtr(edet)
	rec.FileDate = timePtr(fileDate)
	return rec, nil
}

// BeginMove implements store.Journal.
func (s *Store) BeginMove(ctx context.Context, intent *models.MoveIntent) error {
	store.NormalizeIntent(intent)
	q := "INSERT INTO move_intents (" + intentColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q,
			intent.ID,
			intent.RuleName,
			intent.SourcePath,
			micros(intent.SourceModTime),
			intent.DestinationPath,
			nullMicros(intent.FileDate),
			intent.FileVersion,
			micros(intent.CreatedAt),
		)
		return err
	})
	return s.wrap("begin move", err)
}

// CompleteMove implements store.Journal.
func (s *Store) CompleteMove(ctx context.Context, intentID string, rec *models.OutcomeRecord) error {
	store.Normalize(rec)
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() // no-op if committed

		if err := s.insert(ctx, tx, rec); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM move_intents WHERE id = ?", intentID); err != nil {
			return err
		}
		return tx.Commit()
	})
	return s.wrap("complete move", err)
}

// AbortMove implements store.Journal.
func (s *Store) AbortMove(ctx context.Context, intentID string) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM move_intents WHERE id = ?", intentID)
		return err
	})
	return s.wrap("abort move", err)
}

// PendingMoves implements store.Journal.
func (s *Store) PendingMoves(ctx context.Context) ([]models.MoveIntent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+intentColumns+" FROM move_intents ORDER BY created_at_us, id")
	if err != nil {
		return nil, s.wrap("pending moves", err)
	}
	defer rows.Close()

	var out []models.MoveIntent
	for rows.Next() {
		var (
			intent    models.MoveIntent
			mtime, at int64
			fileDate  sql.NullInt64
		)
		if err := rows.Scan(&intent.ID, &intent.RuleName, &intent.SourcePath, &mtime, &intent.DestinationPath, &fileDate, &intent.FileVersion, &at); err != nil {
			return nil, s.wrap("scan move intent", err)
		}
		intent.SourceModTime = fromMicros(mtime)
		intent.CreatedAt = fromMicros(at)
		intent.FileDate = timePtr(fileDate)
		out = append(out, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("pending moves", err)
	}
	return out, nil
}

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	t := time.UnixMicro(ni.Int64).UTC()
	return &t
}

// Package pgstore implements store.Store on PostgreSQL with pgxpool.
// The schema is managed by golang-migrate from embedded SQL files.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const outcomeColumns = "id, rule_name, source_path, source_mtime, destination_path, verdict, reason, file_date, file_version, attempted_at, error_detail"

const intentColumns = "id, rule_name, source_path, source_mtime, destination_path, file_date, file_version, created_at"

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL outcome store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Params are the connection fields used when no DSN is given.
type Params struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN returns a connection string for p.
func DSN(p Params) string {
	if p.DSN != "" {
		return p.DSN
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		u.User = url.User(p.User)
	}
	return u.String()
}

// Open connects, pings and migrates the database. password, when set,
// fills in a DSN that carries none.
func Open(ctx context.Context, dsn, password string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if poolCfg.ConnConfig.Password == "" && password != "" {
		poolCfg.ConnConfig.Password = password
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := migrateUp(pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// migrateUp applies the embedded migrations through a database/sql view of
// the pool.
func migrateUp(pool *pgxpool.Pool) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.pool.Ping(ctx))
}

func insert(ctx context.Context, q dbtx, rec *models.OutcomeRecord) error {
	_, err := q.Exec(ctx, "INSERT INTO outcomes ("+outcomeColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (source_path, attempted_at) DO NOTHING`,
		rec.ID,
		rec.RuleName,
		rec.SourcePath,
		rec.SourceModTime,
		rec.DestinationPath,
		string(rec.Verdict),
		rec.Reason,
		rec.FileDate,
		rec.FileVersion,
		rec.Timestamp,
		rec.ErrorDetail,
	)
	return err
}

// InsertOutcome implements store.Recorder.
func (s *Store) InsertOutcome(ctx context.Context, rec *models.OutcomeRecord) error {
	store.Normalize(rec)
	return wrap("insert outcome", insert(ctx, s.pool, rec))
}

// HasTerminalOutcome implements store.Store.
func (s *Store) HasTerminalOutcome(ctx context.Context, sourcePath string, modTime time.Time) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (
    SELECT 1 FROM outcomes
    WHERE source_path = $1 AND source_mtime = $2
      AND (verdict <> 'valid' OR destination_path IS NOT NULL)
)`, sourcePath, store.Truncate(modTime)).Scan(&found)
	if err != nil {
		return false, wrap("lookup outcome", err)
	}
	return found, nil
}

// Outcomes implements store.Store.
func (s *Store) Outcomes(ctx context.Context, f store.Filter) ([]models.OutcomeRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.SourcePath != "" {
		add("source_path = $%d", f.SourcePath)
	}
	if !f.Since.IsZero() {
		add("attempted_at >= $%d", store.Truncate(f.Since))
	}
	if !f.Until.IsZero() {
		add("attempted_at < $%d", store.Truncate(f.Until))
	}

	q := "SELECT " + outcomeColumns + " FROM outcomes"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY attempted_at, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, wrap("query outcomes", err)
	}
	defer rows.Close()

	var out []models.OutcomeRecord
	for rows.Next() {
		var (
			rec     models.OutcomeRecord
			verdict string
		)
		if err := rows.Scan(&rec.ID, &rec.RuleName, &rec.SourcePath, &rec.SourceModTime, &rec.DestinationPath,
			&verdict, &rec.Reason, &rec.FileDate, &rec.FileVersion, &rec.Timestamp, &rec.ErrorDetail); err != nil {
			return nil, wrap("scan outcome", err)
		}
		rec.Verdict = models.Verdict(verdict)
		rec.SourceModTime = rec.SourceModTime.UTC()
		rec.Timestamp = rec.Timestamp.UTC()
		if rec.FileDate != nil {
			d := rec.FileDate.UTC()
			rec.FileDate = &d
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query outcomes", err)
	}
	return out, nil
}

// BeginMove implements store.Journal.
func (s *Store) BeginMove(ctx context.Context, intent *models.MoveIntent) error {
	store.NormalizeIntent(intent)
	_, err := s.pool.Exec(ctx, "INSERT INTO move_intents ("+intentColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		intent.ID,
		intent.RuleName,
		intent.SourcePath,
		intent.SourceModTime,
		intent.DestinationPath,
		intent.FileDate,
		intent.FileVersion,
		intent.CreatedAt,
	)
	return wrap("begin move", err)
}

// CompleteMove implements store.Journal.
func (s *Store) CompleteMove(ctx context.Context, intentID string, rec *models.OutcomeRecord) error {
	store.Normalize(rec)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insert(ctx, tx, rec); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM move_intents WHERE id = $1", intentID)
		return err
	})
	return wrap("complete move", err)
}

// AbortMove implements store.Journal.
func (s *Store) AbortMove(ctx context.Context, intentID string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM move_intents WHERE id = $1", intentID)
	return wrap("abort move", err)
}

// PendingMoves implements store.Journal.
func (s *Store) PendingMoves(ctx context.Context) ([]models.MoveIntent, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+intentColumns+" FROM move_intents ORDER BY created_at, id")
	if err != nil {
		return nil, wrap("pending moves", err)
	}
	intents, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MoveIntent, error) {
		var intent models.MoveIntent
		err := row.Scan(&intent.ID, &intent.RuleName, &intent.SourcePath, &intent.SourceModTime,
			&intent.DestinationPath, &intent.FileDate, &intent.FileVersion, &intent.CreatedAt)
		intent.SourceModTime = intent.SourceModTime.UTC()
		intent.CreatedAt = intent.CreatedAt.UTC()
		if intent.FileDate != nil {
			d := intent.FileDate.UTC()
			intent.FileDate = &d
		}
		return intent, err
	})
	if err != nil {
		return nil, wrap("pending moves", err)
	}
	return intents, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

var sqliteMigrations = []Migration{
	{
		Version:     1,
		Description: "Outcome records and move intent journal",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS outcomes (
    id TEXT PRIMARY KEY,
    rule_name TEXT NOT NULL,
    source_path TEXT NOT NULL,
    source_mtime_us INTEGER NOT NULL,
    destination_path TEXT,
    verdict TEXT NOT NULL,
    reason TEXT NOT NULL,
    file_date_us INTEGER,
    file_version TEXT NOT NULL DEFAULT '',
    attempted_at_us INTEGER NOT NULL,
    error_detail TEXT,
    UNIQUE (source_path, attempted_at_us)
)`,
			`CREATE INDEX IF NOT EXISTS idx_outcomes_source ON outcomes(source_path, source_mtime_us)`,
			`CREATE INDEX IF NOT EXISTS idx_outcomes_attempted ON outcomes(attempted_at_us)`,
			`CREATE TABLE IF NOT EXISTS move_intents (
    id TEXT PRIMARY KEY,
    rule_name TEXT NOT NULL,
    source_path TEXT NOT NULL,
    source_mtime_us INTEGER NOT NULL,
    destination_path TEXT NOT NULL,
    file_date_us INTEGER,
    file_version TEXT NOT NULL DEFAULT '',
    created_at_us INTEGER NOT NULL
)`,
		},
	},
	{
		Version:     2,
		Description: "Index outcomes by rule and verdict for history queries",
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_outcomes_rule_verdict ON outcomes(rule_name, verdict)`,
		},
	},
}

// MySQL limits index key length, so paths are capped at 700 characters.
var mysqlMigrations = []Migration{
	{
		Version:     1,
		Description: "Outcome records and move intent journal",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS outcomes (
    id CHAR(36) NOT NULL PRIMARY KEY,
    rule_name VARCHAR(255) NOT NULL,
    source_path VARCHAR(700) NOT NULL,
    source_mtime_us BIGINT NOT NULL,
    destination_path VARCHAR(1024) NULL,
    verdict VARCHAR(32) NOT NULL,
    reason TEXT NOT NULL,
    file_date_us BIGINT NULL,
    file_version VARCHAR(255) NOT NULL DEFAULT '',
    attempted_at_us BIGINT NOT NULL,
    error_detail TEXT NULL,
    UNIQUE KEY uq_outcomes_source_attempt (source_path, attempted_at_us),
    KEY idx_outcomes_source (source_path, source_mtime_us),
    KEY idx_outcomes_attempted (attempted_at_us)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS move_intents (
    id CHAR(36) NOT NULL PRIMARY KEY,
    rule_name VARCHAR(255) NOT NULL,
    source_path VARCHAR(700) NOT NULL,
    source_mtime_us BIGINT NOT NULL,
    destination_path VARCHAR(1024) NOT NULL,
    file_date_us BIGINT NULL,
    file_version VARCHAR(255) NOT NULL DEFAULT '',
    created_at_us BIGINT NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
	{
		Version:     2,
		Description: "Index outcomes by rule and verdict for history queries",
		Statements: []string{
			`CREATE INDEX idx_outcomes_rule_verdict ON outcomes(rule_name, verdict)`,
		},
	},
}

// ApplyMigrations brings the schema up to date. Each pending migration runs
// in its own transaction together with its schema_version row.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL PRIMARY KEY,
    applied_at_us BIGINT NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	for _, migration := range s.dialect.migrations {
		if applied[migration.Version] {
			continue
		}
		if err := s.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // no-op if committed

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// a concurrent agent may already have recorded this version
	q := s.dialect.insertIgnore("schema_version", "version, applied_at_us", "?, ?", "version")
	if _, err := tx.ExecContext(ctx, q, m.Version, time.Now().UnixMicro()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

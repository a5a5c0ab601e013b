package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/store"
	"github.com/harrison/ingestagent/internal/store/storetest"
)

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "outcomes.db"))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteInMemoryConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := OpenSQLite(":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestMySQLConformance(t *testing.T) {
	dsn := os.Getenv("INGESTAGENT_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("INGESTAGENT_TEST_MYSQL_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := OpenMySQL(dsn)
		require.NoError(t, err)
		_, err = s.DB().Exec("DELETE FROM outcomes")
		require.NoError(t, err)
		_, err = s.DB().Exec("DELETE FROM move_intents")
		require.NoError(t, err)
		return s
	})
}

func TestSQLite_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "outcomes.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(sqliteMigrations), v)
	assert.Equal(t, "sqlite", s.Dialect())
	require.NoError(t, s.Close())

	// reopening applies nothing and keeps data
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	v, err = s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(sqliteMigrations), v)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outcomes.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	mtime := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertOutcome(ctx, &models.OutcomeRecord{
		RuleName:      "a",
		SourcePath:    "/drop/a/bad.m3u",
		SourceModTime: mtime,
		Verdict:       models.VerdictInvalidPrefix,
		Reason:        "no prefix",
		Timestamp:     time.Now(),
	}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	found, err := s.HasTerminalOutcome(ctx, "/drop/a/bad.m3u", mtime)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSQLite_ConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "outcomes.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.InsertOutcome(ctx, &models.OutcomeRecord{
				RuleName:   "a",
				SourcePath: "/drop/a/f.m3u",
				Verdict:    models.VerdictInvalidDate,
				Reason:     "bad",
				Timestamp:  base.Add(time.Duration(i) * time.Millisecond),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := s.Outcomes(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestClassifySQLite(t *testing.T) {
	tests := []struct {
		code sqlite3.ErrNo
		want models.StorageErrorKind
	}{
		{sqlite3.ErrConstraint, models.StorageConstraintViolation},
		{sqlite3.ErrBusy, models.StorageTimeout},
		{sqlite3.ErrLocked, models.StorageTimeout},
		{sqlite3.ErrCantOpen, models.StorageConnectionLost},
		{sqlite3.ErrMisuse, models.StorageOther},
	}
	for _, tt := range tests {
		kind, ok := classifySQLite(sqlite3.Error{Code: tt.code})
		assert.True(t, ok)
		assert.Equal(t, tt.want, kind, tt.code.Error())
	}

	_, ok := classifySQLite(assert.AnError)
	assert.False(t, ok)
}

func TestClassifyMySQL(t *testing.T) {
	tests := []struct {
		err  error
		want models.StorageErrorKind
	}{
		{&mysql.MySQLError{Number: 1062}, models.StorageConstraintViolation},
		{&mysql.MySQLError{Number: 1205}, models.StorageTimeout},
		{&mysql.MySQLError{Number: 2013}, models.StorageConnectionLost},
		{mysql.ErrInvalidConn, models.StorageConnectionLost},
		{&mysql.MySQLError{Number: 1146}, models.StorageOther},
	}
	for _, tt := range tests {
		kind, ok := classifyMySQL(tt.err)
		assert.True(t, ok)
		assert.Equal(t, tt.want, kind, tt.err.Error())
	}

	assert.True(t, isMySQLDeadlock(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isMySQLDeadlock(&mysql.MySQLError{Number: 1062}))
}

func TestMySQLDSN(t *testing.T) {
	t.Run("from parts", func(t *testing.T) {
		dsn, err := MySQLDSN(MySQLParams{Host: "db.internal", User: "agent", Password: "pw", Database: "playlists", Timeout: 5 * time.Second})
		require.NoError(t, err)

		cfg, err := mysql.ParseDSN(dsn)
		require.NoError(t, err)
		assert.Equal(t, "db.internal:3306", cfg.Addr)
		assert.Equal(t, "agent", cfg.User)
		assert.Equal(t, "pw", cfg.Passwd)
		assert.Equal(t, "playlists", cfg.DBName)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("dsn with separate password", func(t *testing.T) {
		dsn, err := MySQLDSN(MySQLParams{DSN: "agent@tcp(db:3307)/playlists", Password: "fromenv"})
		require.NoError(t, err)

		cfg, err := mysql.ParseDSN(dsn)
		require.NoError(t, err)
		assert.Equal(t, "db:3307", cfg.Addr)
		assert.Equal(t, "fromenv", cfg.Passwd)
	})

	t.Run("invalid dsn", func(t *testing.T) {
		_, err := MySQLDSN(MySQLParams{DSN: "not a dsn"})
		assert.Error(t, err)
	})
}

func TestInsertIgnoreSQL(t *testing.T) {
	assert.Equal(t, "INSERT OR IGNORE INTO t (a, b) VALUES (?, ?)", sqliteInsertIgnore("t", "a, b", "?, ?", "a"))
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?, ?) ON DUPLICATE KEY UPDATE a = a", mysqlInsertIgnore("t", "a, b", "?, ?", "a"))
}

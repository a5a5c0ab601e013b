package driver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ingestagent/internal/config"
	"github.com/harrison/ingestagent/internal/store/memstore"
	"github.com/harrison/ingestagent/internal/store/sqlstore"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(ctx, config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "o.db")})
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &sqlstore.Store{}, s)
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, config.StorageConfig{Driver: config.DriverMemory})
		require.NoError(t, err)
		assert.IsType(t, &memstore.Store{}, s)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(ctx, config.StorageConfig{Driver: "oracle"})
		assert.Error(t, err)
	})

	t.Run("bad mysql dsn", func(t *testing.T) {
		_, err := Open(ctx, config.StorageConfig{Driver: config.DriverMySQL, DSN: "no slash"})
		assert.Error(t, err)
	})
}

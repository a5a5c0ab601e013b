// Package driver opens the store backend named in configuration.
package driver

import (
	"context"
	"fmt"

	"github.com/harrison/ingestagent/internal/config"
	"github.com/harrison/ingestagent/internal/store"
	"github.com/harrison/ingestagent/internal/store/memstore"
	"github.com/harrison/ingestagent/internal/store/pgstore"
	"github.com/harrison/ingestagent/internal/store/sqlstore"
)

// Open connects to the configured backend and brings its schema up to date.
func Open(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlstore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
		}
		return s, nil

	case config.DriverMySQL:
		dsn, err := sqlstore.MySQLDSN(sqlstore.MySQLParams{
			DSN:      cfg.DSN,
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Database,
			Timeout:  cfg.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		s, err := sqlstore.OpenMySQL(dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		return s, nil

	case config.DriverPostgres:
		dsn := pgstore.DSN(pgstore.Params{
			DSN:      cfg.DSN,
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Database: cfg.Database,
		})
		s, err := pgstore.Open(ctx, dsn, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil

	case config.DriverMemory:
		return memstore.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

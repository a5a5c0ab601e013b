package sqlstore

import (
	"fmt"

	"github.com/harrison/ingestagent/internal/models"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name string

	// insertIgnore builds an insert that skips unique-key conflicts. key
	// is any column of the table.
	insertIgnore func(table, columns, placeholders, key string) string

	migrations []Migration

	classify  func(err error) (models.StorageErrorKind, bool)
	retryable func(err error) bool
}

func sqliteInsertIgnore(table, columns, placeholders, _ string) string {
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, columns, placeholders)
}

// mysqlInsertIgnore uses a no-op update instead of INSERT IGNORE, which
// would also downgrade non-key errors to warnings.
func mysqlInsertIgnore(table, columns, placeholders, key string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s = %s", table, columns, placeholders, key, key)
}

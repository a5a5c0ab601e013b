package pgstore

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/store"
)

func wrap(op string, err error) error {
	return store.Wrap(op, err, classify)
}

func classify(err error) (models.StorageErrorKind, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code):
			return models.StorageConstraintViolation, true
		case pgErr.Code == pgerrcode.QueryCanceled, pgErr.Code == pgerrcode.LockNotAvailable:
			return models.StorageTimeout, true
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CrashShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return models.StorageConnectionLost, true
		default:
			return models.StorageOther, true
		}
	}
	if pgconn.Timeout(err) {
		return models.StorageTimeout, true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return models.StorageConnectionLost, true
	}
	return models.StorageOther, false
}

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/harrison/ingestagent/internal/models"
)

// Classifier maps a backend-specific error to a storage error kind. It
// returns false when it does not recognise the error.
type Classifier func(err error) (models.StorageErrorKind, bool)

// Wrap converts err into a *models.StorageError. Backend-specific
// classification runs first, then the generic rules. A nil err stays nil and
// an existing StorageError is returned unchanged.
func Wrap(op string, err error, classify Classifier) error {
	if err == nil {
		return nil
	}
	var existing *models.StorageError
	if errors.As(err, &existing) {
		return err
	}
	kind, ok := models.StorageOther, false
	if classify != nil {
		kind, ok = classify(err)
	}
	if !ok {
		kind, _ = ClassifyCommon(err)
	}
	return &models.StorageError{Kind: kind, Op: op, Err: err}
}

// ClassifyCommon recognises errors shared by every driver: deadlines,
// dropped connections and network failures.
func ClassifyCommon(err error) (models.StorageErrorKind, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.StorageTimeout, true
	case errors.Is(err, context.Canceled):
		return models.StorageTimeout, true
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return models.StorageConnectionLost, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.StorageTimeout, true
		}
		return models.StorageConnectionLost, true
	}
	return models.StorageOther, false
}

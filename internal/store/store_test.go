package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ingestagent/internal/models"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.FixedZone("CET", 3600))
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	rec := &models.OutcomeRecord{Timestamp: ts, SourceModTime: ts, FileDate: &date}

	Normalize(rec)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.Equal(t, 123456000, rec.Timestamp.Nanosecond())
	assert.True(t, rec.Timestamp.Equal(ts.Truncate(time.Microsecond)))
	assert.Equal(t, 123456000, rec.SourceModTime.Nanosecond())

	id := rec.ID
	Normalize(rec)
	assert.Equal(t, id, rec.ID, "existing IDs are kept")
}

func TestTruncate_Zero(t *testing.T) {
	assert.True(t, Truncate(time.Time{}).IsZero())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrap(t *testing.T) {
	backend := errors.New("duplicate key")
	classify := func(err error) (models.StorageErrorKind, bool) {
		if errors.Is(err, backend) {
			return models.StorageConstraintViolation, true
		}
		return models.StorageOther, false
	}

	tests := []struct {
		name string
		err  error
		want models.StorageErrorKind
	}{
		{"backend specific", fmt.Errorf("insert: %w", backend), models.StorageConstraintViolation},
		{"deadline", context.DeadlineExceeded, models.StorageTimeout},
		{"bad conn", driver.ErrBadConn, models.StorageConnectionLost},
		{"net timeout", timeoutErr{}, models.StorageTimeout},
		{"unknown", errors.New("syntax error"), models.StorageOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Wrap("insert outcome", tt.err, classify)

			var storageErr *models.StorageError
			require.ErrorAs(t, err, &storageErr)
			assert.Equal(t, tt.want, storageErr.Kind)
			assert.Equal(t, "insert outcome", storageErr.Op)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, Wrap("op", nil, classify))

	already := &models.StorageError{Kind: models.StorageTimeout, Op: "inner", Err: errors.New("x")}
	assert.Same(t, already, Wrap("outer", already, classify))
}

// Package store defines the persistence boundary for outcome records and the
// move-intent journal. Backends live in the sqlstore, pgstore and memstore
// subpackages; driver.Open selects one from configuration.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/ingestagent/internal/models"
)

// Recorder is the narrow interface the pipeline writes through.
type Recorder interface {
	InsertOutcome(ctx context.Context, rec *models.OutcomeRecord) error
}

// Journal brackets moves so a crash between rename and insert can be repaired.
type Journal interface {
	// BeginMove persists intent before the file is renamed.
	BeginMove(ctx context.Context, intent *models.MoveIntent) error
	// CompleteMove inserts rec and deletes the intent in one transaction.
	CompleteMove(ctx context.Context, intentID string, rec *models.OutcomeRecord) error
	// AbortMove drops the intent after a failed move.
	AbortMove(ctx context.Context, intentID string) error
	// PendingMoves lists intents left behind, oldest first.
	PendingMoves(ctx context.Context) ([]models.MoveIntent, error)
}

// Filter selects outcome records. Zero fields do not constrain the query.
type Filter struct {
	SourcePath string
	Since      time.Time // inclusive
	Until      time.Time // exclusive
	Limit      int
}

// Store is the full backend contract.
type Store interface {
	Recorder
	Journal

	// HasTerminalOutcome reports whether a record exists for the path and
	// modification time after which the file must not be processed again.
	HasTerminalOutcome(ctx context.Context, sourcePath string, modTime time.Time) (bool, error)

	// Outcomes returns matching records ordered by attempt time.
	Outcomes(ctx context.Context, f Filter) ([]models.OutcomeRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// OutcomesBySource returns every attempt recorded for path.
func OutcomesBySource(ctx context.Context, s Store, path string) ([]models.OutcomeRecord, error) {
	return s.Outcomes(ctx, Filter{SourcePath: path})
}

// OutcomesBetween returns attempts in [from, to).
func OutcomesBetween(ctx context.Context, s Store, from, to time.Time) ([]models.OutcomeRecord, error) {
	return s.Outcomes(ctx, Filter{Since: from, Until: to})
}

// Precision is the timestamp resolution every backend stores.
const Precision = time.Microsecond

// Truncate converts t to UTC at storage precision.
func Truncate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(Precision)
}

// Normalize prepares rec for insertion: assigns an ID when missing and
// truncates timestamps so the idempotency key (source_path, attempted_at)
// compares equal on every backend.
func Normalize(rec *models.OutcomeRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Timestamp = Truncate(rec.Timestamp)
	rec.SourceModTime = Truncate(rec.SourceModTime)
	if rec.FileDate != nil {
		d := Truncate(*rec.FileDate)
		rec.FileDate = &d
	}
}

// NormalizeIntent is Normalize for move intents.
func NormalizeIntent(intent *models.MoveIntent) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	intent.CreatedAt = Truncate(intent.CreatedAt)
	intent.SourceModTime = Truncate(intent.SourceModTime)
	if intent.FileDate != nil {
		d := Truncate(*intent.FileDate)
		intent.FileDate = &d
	}
}

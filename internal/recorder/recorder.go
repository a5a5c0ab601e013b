// Package recorder persists one outcome record per processing attempt and
// brackets moves with journal entries.
package recorder

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/ingestagent/internal/logger"
	"github.com/harrison/ingestagent/internal/metrics"
	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/mover"
	"github.com/harrison/ingestagent/internal/store"
)

// ReasonRecovered marks records written by Reconcile.
const ReasonRecovered = "recovered after restart"

// Backend is the storage a Recorder writes to.
type Backend interface {
	store.Recorder
	store.Journal
}

// Recorder writes outcome records with a per-call timeout.
type Recorder struct {
	backend Backend
	timeout time.Duration
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Recorder. A zero timeout defaults to five seconds.
func New(backend Backend, timeout time.Duration, log logger.Logger, m *metrics.Metrics) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Recorder{backend: backend, timeout: timeout, log: log, metrics: m, now: time.Now}
}

// Record persists rec. Failures are logged, counted and returned as
// *models.StorageError; the caller continues with the next file.
func (r *Recorder) Record(ctx context.Context, rec *models.OutcomeRecord) error {
	r.stamp(rec)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.backend.InsertOutcome(ctx, rec); err != nil {
		return r.failed("record outcome", err, "path", rec.SourcePath, "verdict", rec.Verdict)
	}
	r.metrics.Outcome(rec.Verdict)
	r.log.LogDebug("outcome recorded", "path", rec.SourcePath, "verdict", rec.Verdict, "id", rec.ID)
	return nil
}

// BeginMove journals intent ahead of the rename.
func (r *Recorder) BeginMove(ctx context.Context, intent *models.MoveIntent) error {
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.backend.BeginMove(ctx, intent); err != nil {
		return r.failed("begin move", err, "path", intent.SourcePath)
	}
	return nil
}

// CompleteMove writes the Valid record for a finished move and clears its
// intent atomically.
func (r *Recorder) CompleteMove(ctx context.Context, intentID string, rec *models.OutcomeRecord) error {
	r.stamp(rec)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.backend.CompleteMove(ctx, intentID, rec); err != nil {
		return r.failed("complete move", err, "path", rec.SourcePath, "destination", rec.Destination(), "intent", intentID)
	}
	r.metrics.Outcome(rec.Verdict)
	return nil
}

// AbortMove drops the intent of a move that did not happen.
func (r *Recorder) AbortMove(ctx context.Context, intentID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.backend.AbortMove(ctx, intentID); err != nil {
		return r.failed("abort move", err, "intent", intentID)
	}
	return nil
}

func (r *Recorder) stamp(rec *models.OutcomeRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
}

func (r *Recorder) failed(op string, err error, kv ...any) error {
	err = store.Wrap(op, err, nil)
	kind, _ := models.StorageKindOf(err)
	r.metrics.StorageError(kind)
	r.log.LogError(op+" failed", append(kv, "kind", kind, "error", err)...)
	return err
}

// ReconcileReport summarizes a Reconcile pass.
type ReconcileReport struct {
	Recovered int
	Dropped   int
	Failed    int
}

// Reconcile resolves intents left by a crash.
//
// When the source is gone and a file with the source's modification time
// sits at the planned destination (or one of its -dupN variants), the move
// happened and the missing Valid record is written. Otherwise the intent is
// dropped; a source still in place is retried by the next round.
func (r *Recorder) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	listCtx, cancel := context.WithTimeout(ctx, r.timeout)
	intents, err := r.backend.PendingMoves(listCtx)
	cancel()
	if err != nil {
		return report, r.failed("pending moves", err)
	}

	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if _, err := os.Lstat(intent.SourcePath); err == nil {
			r.log.LogInfo("dropping move intent, source still present", "path", intent.SourcePath)
			if err := r.AbortMove(ctx, intent.ID); err != nil {
				report.Failed++
				continue
			}
			report.Dropped++
			continue
		}

		dest, found := locateMoved(intent)
		if !found {
			r.log.LogWarn("dropping move intent, neither source nor destination found",
				"path", intent.SourcePath, "destination", intent.DestinationPath)
			if err := r.AbortMove(ctx, intent.ID); err != nil {
				report.Failed++
				continue
			}
			report.Dropped++
			continue
		}

		rec := &models.OutcomeRecord{
			RuleName:        intent.RuleName,
			SourcePath:      intent.SourcePath,
			SourceModTime:   intent.SourceModTime,
			DestinationPath: &dest,
			Verdict:         models.VerdictValid,
			Reason:          ReasonRecovered,
			FileDate:        intent.FileDate,
			FileVersion:     intent.FileVersion,
		}
		if err := r.CompleteMove(ctx, intent.ID, rec); err != nil {
			report.Failed++
			continue
		}
		r.log.LogInfo("recovered move", "path", intent.SourcePath, "destination", dest)
		report.Recovered++
	}

	return report, nil
}

// locateMoved looks for the moved file at the planned destination and its
// collision variants. Moves preserve mtime, which identifies the file.
func locateMoved(intent models.MoveIntent) (string, bool) {
	dir := filepath.Dir(intent.DestinationPath)
	name := filepath.Base(intent.DestinationPath)

	for n := 0; n <= mover.DefaultMaxCollisions; n++ {
		candidate := filepath.Join(dir, mover.CollisionName(name, n))
		info, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return "", false
		}
		if err != nil {
			continue
		}
		if store.Truncate(info.ModTime()).Equal(store.Truncate(intent.SourceModTime)) {
			return candidate, true
		}
	}
	return "", false
}

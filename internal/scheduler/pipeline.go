package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/harrison/ingestagent/internal/logger"
	"github.com/harrison/ingestagent/internal/metrics"
	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/mover"
	"github.com/harrison/ingestagent/internal/recorder"
	"github.com/harrison/ingestagent/internal/scanner"
	"github.com/harrison/ingestagent/internal/seen"
	"github.com/harrison/ingestagent/internal/validator"
)

// Mover relocates a candidate into the destination directory.
type Mover interface {
	Move(c models.Candidate, destDir string) (mover.MoveResult, error)
}

// PipelineConfig wires the collaborators of a Pipeline.
type PipelineConfig struct {
	Destination string
	Scan        scanner.Options
	Mover       Mover
	Recorder    *recorder.Recorder
	Seen        *seen.Set
	Logger      logger.Logger
	Metrics     *metrics.Metrics

	// DryRun validates and logs without moving or recording.
	DryRun bool
}

// Pipeline runs scan, validate, move and record for one rule.
type Pipeline struct {
	cfg PipelineConfig
	log logger.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Destination == "" {
		return nil, fmt.Errorf("pipeline: destination is required")
	}
	if cfg.Seen == nil {
		return nil, fmt.Errorf("pipeline: seen-set is required")
	}
	if cfg.Recorder == nil && !cfg.DryRun {
		return nil, fmt.Errorf("pipeline: recorder is required")
	}
	if cfg.Mover == nil {
		cfg.Mover = mover.New(mover.CrossDeviceCopy)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Pipeline{cfg: cfg, log: log}, nil
}

// ProcessRule handles every new file in rule.Directory once. Failures are
// contained: a directory error ends this rule's pass, a move or storage
// failure skips one file.
func (p *Pipeline) ProcessRule(ctx context.Context, rule models.WatchRule) models.RoundStats {
	var stats models.RoundStats
	log := logger.With(p.log, "rule", rule.Label())

	opts := p.cfg.Scan
	opts.OnDeferred = func(c models.Candidate) {
		stats.Deferred++
		p.cfg.Metrics.Deferred()
		log.LogDebug("deferring unsettled file", "path", c.Path)
	}
	opts.OnError = func(err error) {
		stats.DirectoryErrors++
		p.cfg.Metrics.DirectoryError(rule.Label())
		log.LogError("directory listing interrupted", "error", err)
	}

	candidates, err := scanner.New(opts).Scan(rule, p.cfg.Seen)
	if err != nil {
		stats.DirectoryErrors++
		p.cfg.Metrics.DirectoryError(rule.Label())
		log.LogError("cannot scan directory", "directory", rule.Directory, "error", err)
		return stats
	}

	for c := range candidates {
		stats.Scanned++
		p.handle(ctx, log, rule, c, &stats)
	}
	return stats
}

func (p *Pipeline) handle(ctx context.Context, log logger.Logger, rule models.WatchRule, c models.Candidate, stats *models.RoundStats) {
	result := validator.Validate(c, rule)
	log = logger.With(log, "path", c.Path)

	if !result.Verdict.IsValid() {
		stats.Rejected++
		log.LogWarn("file rejected", "verdict", result.Verdict, "reason", result.Reason)
		if p.cfg.DryRun {
			p.cfg.Seen.Mark(c)
			return
		}
		rec := p.outcome(rule, result)
		if err := p.cfg.Recorder.Record(ctx, rec); err != nil {
			stats.RecordFailed++
			return
		}
		p.cfg.Seen.Mark(c)
		return
	}

	if p.cfg.DryRun {
		log.LogInfo("dry run: would move", "destination", filepath.Join(p.cfg.Destination, c.Name))
		p.cfg.Seen.Mark(c)
		return
	}

	intent := &models.MoveIntent{
		RuleName:        rule.Label(),
		SourcePath:      c.Path,
		SourceModTime:   c.ModTime,
		DestinationPath: filepath.Join(p.cfg.Destination, c.Name),
		FileDate:        timePtr(result.FileDate),
		FileVersion:     result.FileVersion,
	}
	if err := p.cfg.Recorder.BeginMove(ctx, intent); err != nil {
		// Without an intent a crash mid-move could not be repaired, so the
		// file waits for the next round.
		stats.RecordFailed++
		return
	}

	moved, err := p.cfg.Mover.Move(c, p.cfg.Destination)
	if err != nil {
		stats.MoveFailed++
		_ = p.cfg.Recorder.AbortMove(ctx, intent.ID)

		kind, _ := models.MoveKindOf(err)
		p.cfg.Metrics.MoveError(kind)
		log.LogError("move failed", "kind", kind, "error", err)

		rec := p.outcome(rule, result)
		rec.Reason = "move failed: " + kind.String()
		rec.ErrorDetail = models.PtrString(err.Error())
		if err := p.cfg.Recorder.Record(ctx, rec); err != nil {
			stats.RecordFailed++
		}
		return
	}

	stats.Moved++
	p.cfg.Metrics.Move(moved.CrossDevice)
	p.cfg.Seen.Mark(c)
	log.LogInfo("file moved", "destination", moved.NewPath, "cross_device", moved.CrossDevice)

	rec := p.outcome(rule, result)
	rec.DestinationPath = models.PtrString(moved.NewPath)
	if err := p.cfg.Recorder.CompleteMove(ctx, intent.ID, rec); err != nil {
		// The intent stays behind and is resolved by the next reconcile.
		stats.RecordFailed++
	}
}

func (p *Pipeline) outcome(rule models.WatchRule, result models.ValidationResult) *models.OutcomeRecord {
	return &models.OutcomeRecord{
		RuleName:      rule.Label(),
		SourcePath:    result.Candidate.Path,
		SourceModTime: result.Candidate.ModTime,
		Verdict:       result.Verdict,
		Reason:        result.Reason,
		FileDate:      timePtr(result.FileDate),
		FileVersion:   result.FileVersion,
	}
}

// CheckDestination returns a *models.FatalError when the destination
// directory cannot be read.
func CheckDestination(dir string) error {
	if err := readableDir(dir); err != nil {
		return &models.FatalError{Reason: "destination directory unreadable", Err: err}
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

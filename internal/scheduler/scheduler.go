// Package scheduler drives the ingestion loop: each round scans every watch
// rule, validates new files, moves the valid ones and records every outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/ingestagent/internal/logger"
	"github.com/harrison/ingestagent/internal/metrics"
	"github.com/harrison/ingestagent/internal/models"
)

// Policy selects when the next round starts.
type Policy int

const (
	// FixedDelay waits the interval after a round finishes.
	FixedDelay Policy = iota
	// FixedRate starts rounds interval apart measured from round start.
	// Ticks missed by a long round are not replayed.
	FixedRate
)

// ParsePolicy maps the config value onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fixed-delay":
		return FixedDelay, nil
	case "fixed-rate":
		return FixedRate, nil
	default:
		return FixedDelay, fmt.Errorf("unknown schedule %q (want fixed-delay or fixed-rate)", s)
	}
}

// String returns the config spelling of the policy.
func (p Policy) String() string {
	if p == FixedRate {
		return "fixed-rate"
	}
	return "fixed-delay"
}

// RuleProcessor handles one rule for one round.
type RuleProcessor interface {
	ProcessRule(ctx context.Context, rule models.WatchRule) models.RoundStats
}

// Config configures a Scheduler.
type Config struct {
	Rules       []models.WatchRule
	Destination string
	Interval    time.Duration
	Policy      Policy
	MaxParallel int

	// Wake, when set, delivers early wake-up signals (see Watcher).
	Wake <-chan struct{}

	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// Scheduler runs rounds until stopped.
type Scheduler struct {
	cfg       Config
	processor RuleProcessor
	log       logger.Logger

	// now and after are replaced in tests.
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a Scheduler.
func New(cfg Config, processor RuleProcessor) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", cfg.Interval)
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("scheduler: no rules")
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Scheduler{
		cfg:       cfg,
		processor: processor,
		log:       log,
		now:       time.Now,
		after:     time.After,
	}, nil
}

// Run loops Idle → Scanning → Idle until ctx is cancelled, checking the stop
// signal only between rounds. A round in progress always completes; it runs
// on a context detached from ctx's cancellation.
//
// Run returns nil after a stop and a *models.FatalError when the destination
// directory becomes unreadable.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.LogInfo("scheduler started",
		"rules", len(s.cfg.Rules),
		"interval", s.cfg.Interval,
		"schedule", s.cfg.Policy,
		"parallel", s.cfg.MaxParallel)

	for {
		if ctx.Err() != nil {
			s.log.LogInfo("scheduler stopped")
			return nil
		}

		start := s.now()
		if _, err := s.RunOnce(context.WithoutCancel(ctx)); err != nil {
			return err
		}

		if !s.wait(ctx, s.nextDelay(start)) {
			s.log.LogInfo("scheduler stopped")
			return nil
		}
	}
}

// nextDelay computes the idle time after a round that started at start.
func (s *Scheduler) nextDelay(start time.Time) time.Duration {
	if s.cfg.Policy == FixedDelay {
		return s.cfg.Interval
	}
	elapsed := s.now().Sub(start)
	if elapsed < s.cfg.Interval {
		return s.cfg.Interval - elapsed
	}
	// Overran: align to the next tick on the original grid.
	return s.cfg.Interval - elapsed%s.cfg.Interval
}

// wait blocks for d, returning early on a wake-up signal. It returns false
// when ctx was cancelled.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	timer := s.after(d)
	select {
	case <-ctx.Done():
		return false
	case <-timer:
		return true
	case <-s.cfg.Wake:
		s.log.LogDebug("woken early by filesystem event")
		return true
	}
}

// RunOnce executes a single round over all rules and returns its summary.
func (s *Scheduler) RunOnce(ctx context.Context) (models.RoundStats, error) {
	stats := models.RoundStats{RoundID: uuid.NewString(), Rules: len(s.cfg.Rules)}
	start := s.now()

	if err := CheckDestination(s.cfg.Destination); err != nil {
		s.log.LogError("destination unavailable, stopping", "destination", s.cfg.Destination, "error", err)
		return stats, err
	}

	results := make([]models.RoundStats, len(s.cfg.Rules))
	semaphore := make(chan struct{}, s.cfg.MaxParallel)
	var wg sync.WaitGroup

	for i, rule := range s.cfg.Rules {
		semaphore <- struct{}{}
		wg.Add(1)
		go func(i int, rule models.WatchRule) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results[i] = s.processRule(ctx, rule)
		}(i, rule)
	}
	wg.Wait()

	for _, r := range results {
		stats.Add(r)
	}
	finished := s.now()
	stats.Duration = finished.Sub(start)
	s.cfg.Metrics.Round(stats.Duration, finished)

	kv := []any{
		"round", stats.RoundID,
		"scanned", stats.Scanned,
		"moved", stats.Moved,
		"rejected", stats.Rejected,
		"move_failed", stats.MoveFailed,
		"record_failed", stats.RecordFailed,
		"deferred", stats.Deferred,
		"directory_errors", stats.DirectoryErrors,
		"duration", stats.Duration.Round(time.Millisecond),
	}
	if stats.Empty() {
		s.log.LogDebug("round complete", kv...)
	} else {
		s.log.LogInfo("round complete", kv...)
	}
	return stats, nil
}

// processRule isolates a rule so a panic in one directory does not take the
// round down.
func (s *Scheduler) processRule(ctx context.Context, rule models.WatchRule) (stats models.RoundStats) {
	defer func() {
		if r := recover(); r != nil {
			stats.DirectoryErrors++
			s.log.LogError("rule processing panicked", "rule", rule.Label(), "panic", r)
		}
	}()
	return s.processor.ProcessRule(ctx, rule)
}

var errNotDir = errors.New("not a directory")

func readableDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, errNotDir)
	}
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

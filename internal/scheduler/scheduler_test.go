package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ingestagent/internal/metrics"
	"github.com/harrison/ingestagent/internal/models"
)

type funcProcessor func(ctx context.Context, rule models.WatchRule) models.RoundStats

func (f funcProcessor) ProcessRule(ctx context.Context, rule models.WatchRule) models.RoundStats {
	return f(ctx, rule)
}

func rules(dirs ...string) []models.WatchRule {
	out := make([]models.WatchRule, len(dirs))
	for i, d := range dirs {
		out[i] = models.WatchRule{Name: d, Directory: d}
	}
	return out
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func never(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", FixedDelay, false},
		{"fixed-delay", FixedDelay, false},
		{"fixed-rate", FixedRate, false},
		{"cron", FixedDelay, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "fixed-rate", FixedRate.String())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Rules: rules("a")}, nil)
	assert.ErrorContains(t, err, "interval")

	_, err = New(Config{Interval: time.Second}, nil)
	assert.ErrorContains(t, err, "no rules")
}

func TestNextDelay(t *testing.T) {
	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		policy  Policy
		elapsed time.Duration
		want    time.Duration
	}{
		{"fixed delay ignores round length", FixedDelay, 3 * time.Second, 10 * time.Second},
		{"fixed rate subtracts round length", FixedRate, 3 * time.Second, 7 * time.Second},
		{"fixed rate skips missed ticks", FixedRate, 23 * time.Second, 7 * time.Second},
		{"fixed rate exact overrun waits a full tick", FixedRate, 20 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(Config{Rules: rules("a"), Interval: 10 * time.Second, Policy: tt.policy}, nil)
			require.NoError(t, err)
			s.now = func() time.Time { return start.Add(tt.elapsed) }
			assert.Equal(t, tt.want, s.nextDelay(start))
		})
	}
}

func TestRunOnce_MergesRulesAndIsolatesFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	proc := funcProcessor(func(_ context.Context, rule models.WatchRule) models.RoundStats {
		switch rule.Name {
		case "bad":
			return models.RoundStats{DirectoryErrors: 1}
		case "panics":
			panic("boom")
		default:
			return models.RoundStats{Scanned: 2, Moved: 1, Rejected: 1}
		}
	})

	s, err := New(Config{
		Rules:       rules("a", "bad", "panics", "b"),
		Destination: t.TempDir(),
		Interval:    time.Second,
		Metrics:     m,
	}, proc)
	require.NoError(t, err)

	stats, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Rules)
	assert.Equal(t, 4, stats.Scanned)
	assert.Equal(t, 2, stats.Moved)
	assert.Equal(t, 2, stats.Rejected)
	assert.Equal(t, 2, stats.DirectoryErrors)
	assert.NotEmpty(t, stats.RoundID)
	assert.False(t, m.LastRound().IsZero())
}

func TestRunOnce_BoundedParallelism(t *testing.T) {
	var active, peak, total int32
	proc := funcProcessor(func(context.Context, models.WatchRule) models.RoundStats {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		atomic.AddInt32(&total, 1)
		return models.RoundStats{}
	})

	s, err := New(Config{
		Rules:       rules("a", "b", "c", "d", "e"),
		Destination: t.TempDir(),
		Interval:    time.Second,
		MaxParallel: 2,
	}, proc)
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(&total))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRun_StopsAfterCurrentRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rounds int32
	var roundCtxErr error
	proc := funcProcessor(func(ctx context.Context, _ models.WatchRule) models.RoundStats {
		atomic.AddInt32(&rounds, 1)
		cancel()
		roundCtxErr = ctx.Err()
		return models.RoundStats{Scanned: 1}
	})

	s, err := New(Config{Rules: rules("a"), Destination: t.TempDir(), Interval: time.Hour}, proc)
	require.NoError(t, err)
	s.after = immediate

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&rounds))
	assert.NoError(t, roundCtxErr, "in-flight round is detached from the stop signal")
}

func TestRun_NoRoundWhenAlreadyStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	proc := funcProcessor(func(context.Context, models.WatchRule) models.RoundStats {
		called = true
		return models.RoundStats{}
	})
	s, err := New(Config{Rules: rules("a"), Destination: t.TempDir(), Interval: time.Second}, proc)
	require.NoError(t, err)

	require.NoError(t, s.Run(ctx))
	assert.False(t, called)
}

func TestRun_FatalWhenDestinationDisappears(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.Mkdir(dest, 0755))

	var rounds int32
	proc := funcProcessor(func(context.Context, models.WatchRule) models.RoundStats {
		if atomic.AddInt32(&rounds, 1) == 2 {
			assert.NoError(t, os.Remove(dest))
		}
		return models.RoundStats{}
	})
	s, err := New(Config{Rules: rules("a"), Destination: dest, Interval: time.Second}, proc)
	require.NoError(t, err)
	s.after = immediate

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsFatal(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&rounds))
}

func TestRun_WakeStartsRoundEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := make(chan struct{}, 1)
	started := make(chan struct{}, 4)
	var mu sync.Mutex
	rounds := 0
	proc := funcProcessor(func(context.Context, models.WatchRule) models.RoundStats {
		mu.Lock()
		rounds++
		n := rounds
		mu.Unlock()
		if n == 2 {
			cancel()
		}
		started <- struct{}{}
		return models.RoundStats{}
	})

	s, err := New(Config{Rules: rules("a"), Destination: t.TempDir(), Interval: time.Hour, Wake: wake}, proc)
	require.NoError(t, err)
	s.after = never

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-started
	wake <- struct{}{}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not wake up")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, rounds)
}

func TestRun_FixedDelayWaitsFullInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	proc := funcProcessor(func(context.Context, models.WatchRule) models.RoundStats {
		return models.RoundStats{}
	})
	s, err := New(Config{Rules: rules("a"), Destination: t.TempDir(), Interval: 10 * time.Second}, proc)
	require.NoError(t, err)
	s.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		if len(waits) == 3 {
			cancel()
		}
		return immediate(d)
	}

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, waits)
}

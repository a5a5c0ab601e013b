// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var base = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func rejected(path string, mtime, at time.Time) *models.OutcomeRecord {
	return &models.OutcomeRecord{
		RuleName:      "channel-a",
		SourcePath:    path,
		SourceModTime: mtime,
		Verdict:       models.VerdictInvalidDate,
		Reason:        "date does not match",
		Timestamp:     at,
	}
}

func moved(path, dest string, mtime, at time.Time) *models.OutcomeRecord {
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	return &models.OutcomeRecord{
		RuleName:        "channel-a",
		SourcePath:      path,
		SourceModTime:   mtime,
		DestinationPath: &dest,
		Verdict:         models.VerdictValid,
		Reason:          "ok",
		FileDate:        &date,
		FileVersion:     "v2",
		Timestamp:       at,
	}
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	open := func(t *testing.T) store.Store {
		s := newStore(t)
		t.Cleanup(func() { s.Close() })
		require.NoError(t, s.Ping(ctx))
		return s
	}

	t.Run("insert and read back", func(t *testing.T) {
		s := open(t)
		mtime := base.Add(-time.Hour).Add(1500 * time.Nanosecond)
		rec := moved("/drop/a/PL_20240115-v2.m3u", "/out/PL_20240115-v2.m3u", mtime, base.Add(789*time.Nanosecond))
		require.NoError(t, s.InsertOutcome(ctx, rec))

		got, err := store.OutcomesBySource(ctx, s, rec.SourcePath)
		require.NoError(t, err)
		require.Len(t, got, 1)

		r := got[0]
		assert.Equal(t, rec.ID, r.ID)
		assert.Equal(t, "channel-a", r.RuleName)
		assert.Equal(t, models.VerdictValid, r.Verdict)
		assert.Equal(t, "ok", r.Reason)
		assert.Equal(t, "/out/PL_20240115-v2.m3u", r.Destination())
		assert.Equal(t, "v2", r.FileVersion)
		require.NotNil(t, r.FileDate)
		assert.True(t, r.FileDate.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
		assert.True(t, r.Timestamp.Equal(base), "timestamp truncated to microseconds")
		assert.True(t, r.SourceModTime.Equal(mtime.Truncate(time.Microsecond)))
		assert.Nil(t, r.ErrorDetail)
	})

	t.Run("null destination and error detail", func(t *testing.T) {
		s := open(t)
		rec := rejected("/drop/a/bad.m3u", base, base)
		rec.ErrorDetail = models.PtrString("source_vanished")
		require.NoError(t, s.InsertOutcome(ctx, rec))

		got, err := store.OutcomesBySource(ctx, s, rec.SourcePath)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.False(t, got[0].Moved())
		assert.Nil(t, got[0].FileDate)
		assert.Equal(t, "source_vanished", got[0].Error())
	})

	t.Run("duplicate key is ignored", func(t *testing.T) {
		s := open(t)
		first := rejected("/drop/a/x.m3u", base, base)
		require.NoError(t, s.InsertOutcome(ctx, first))

		dup := rejected("/drop/a/x.m3u", base, base.Add(100*time.Nanosecond))
		dup.Reason = "second attempt"
		require.NoError(t, s.InsertOutcome(ctx, dup))

		got, err := store.OutcomesBySource(ctx, s, "/drop/a/x.m3u")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, first.ID, got[0].ID)
	})

	t.Run("terminal outcomes", func(t *testing.T) {
		s := open(t)
		mtime := base.Add(-time.Minute)

		failedMove := moved("/drop/a/retry.m3u", "", mtime, base)
		failedMove.DestinationPath = nil
		failedMove.ErrorDetail = models.PtrString("permission_denied")
		require.NoError(t, s.InsertOutcome(ctx, failedMove))
		require.NoError(t, s.InsertOutcome(ctx, rejected("/drop/a/bad.m3u", mtime, base)))
		require.NoError(t, s.InsertOutcome(ctx, moved("/drop/a/ok.m3u", "/out/ok.m3u", mtime, base)))

		tests := []struct {
			path  string
			mtime time.Time
			want  bool
		}{
			{"/drop/a/retry.m3u", mtime, false},
			{"/drop/a/bad.m3u", mtime, true},
			{"/drop/a/ok.m3u", mtime, true},
			{"/drop/a/ok.m3u", mtime.Add(time.Second), false},
			{"/drop/a/unknown.m3u", mtime, false},
		}
		for _, tt := range tests {
			got, err := s.HasTerminalOutcome(ctx, tt.path, tt.mtime)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, tt.path)
		}
	})

	t.Run("outcomes filter", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.InsertOutcome(ctx, rejected("/drop/a/f.m3u", base, base.Add(time.Duration(i)*time.Hour))))
		}
		require.NoError(t, s.InsertOutcome(ctx, rejected("/drop/a/g.m3u", base, base.Add(2*time.Hour))))

		between, err := store.OutcomesBetween(ctx, s, base.Add(time.Hour), base.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Len(t, between, 3)
		for i := 1; i < len(between); i++ {
			assert.False(t, between[i].Timestamp.Before(between[i-1].Timestamp), "ordered by attempt time")
		}

		limited, err := s.Outcomes(ctx, store.Filter{SourcePath: "/drop/a/f.m3u", Limit: 2})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.True(t, limited[0].Timestamp.Equal(base))

		all, err := s.Outcomes(ctx, store.Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 6)
	})

	t.Run("move journal", func(t *testing.T) {
		s := open(t)
		date := base.Truncate(24 * time.Hour)
		intent := &models.MoveIntent{
			RuleName:        "channel-a",
			SourcePath:      "/drop/a/PL_20240115.m3u",
			SourceModTime:   base.Add(-time.Minute),
			DestinationPath: "/out/PL_20240115.m3u",
			FileDate:        &date,
			FileVersion:     "v1",
			CreatedAt:       base,
		}
		require.NoError(t, s.BeginMove(ctx, intent))
		require.NotEmpty(t, intent.ID)

		pending, err := s.PendingMoves(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, intent.ID, pending[0].ID)
		assert.Equal(t, "/out/PL_20240115.m3u", pending[0].DestinationPath)
		assert.Equal(t, "v1", pending[0].FileVersion)
		require.NotNil(t, pending[0].FileDate)
		assert.True(t, pending[0].FileDate.Equal(date))

		rec := moved(intent.SourcePath, intent.DestinationPath, intent.SourceModTime, base.Add(time.Second))
		require.NoError(t, s.CompleteMove(ctx, intent.ID, rec))

		pending, err = s.PendingMoves(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		got, err := store.OutcomesBySource(ctx, s, intent.SourcePath)
		require.NoError(t, err)
		assert.Len(t, got, 1)

		other := &models.MoveIntent{ID: uuid.NewString(), SourcePath: "/drop/a/y.m3u", DestinationPath: "/out/y.m3u", CreatedAt: base}
		require.NoError(t, s.BeginMove(ctx, other))
		require.NoError(t, s.AbortMove(ctx, other.ID))
		pending, err = s.PendingMoves(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		assert.NoError(t, s.AbortMove(ctx, "does-not-exist"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := open(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := s.InsertOutcome(cctx, rejected("/drop/a/z.m3u", base, base))
		require.Error(t, err)
		kind, ok := models.StorageKindOf(err)
		require.True(t, ok)
		assert.Equal(t, models.StorageTimeout, kind)
	})
}

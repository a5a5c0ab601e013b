package seen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ingestagent/internal/models"
)

type fakeLookup struct {
	mu       sync.Mutex
	terminal map[string]bool
	err      error
	calls    int
}

func (f *fakeLookup) HasTerminalOutcome(_ context.Context, path string, modTime time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.terminal[path+"@"+modTime.String()], nil
}

var mtime = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

func candidate(name string) models.Candidate {
	return models.NewCandidate("/drop/a", name, mtime, 10)
}

func TestSet_MarkAndContains(t *testing.T) {
	s, err := New(10, nil, 0, nil)
	require.NoError(t, err)

	c := candidate("PL_20240115.m3u")
	assert.False(t, s.Contains(c))

	s.Mark(c)
	assert.True(t, s.Contains(c))
	assert.Equal(t, 1, s.Len())

	// a new mtime is a new key
	rewritten := c
	rewritten.ModTime = mtime.Add(time.Second)
	assert.False(t, s.Contains(rewritten))

	s.Forget(c)
	assert.False(t, s.Contains(c))
}

func TestSet_FallsBackToStore(t *testing.T) {
	c := candidate("PL_20240115.m3u")
	lookup := &fakeLookup{terminal: map[string]bool{c.Path + "@" + mtime.String(): true}}

	s, err := New(10, lookup, time.Second, nil)
	require.NoError(t, err)

	assert.True(t, s.Contains(c))
	assert.True(t, s.Contains(c))
	assert.Equal(t, 1, lookup.calls, "store hit is cached")

	other := candidate("PL_20240116.m3u")
	assert.False(t, s.Contains(other))
	assert.False(t, s.Contains(other))
	assert.Equal(t, 3, lookup.calls, "misses are not cached")
}

func TestSet_LookupErrorDefers(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("connection refused")}
	s, err := New(10, lookup, time.Second, nil)
	require.NoError(t, err)

	c := candidate("PL_20240115.m3u")
	assert.True(t, s.Contains(c))
	assert.Equal(t, 0, s.Len())

	lookup.err = nil
	assert.False(t, s.Contains(c), "retried once the store is back")
}

func TestSet_EvictionFallsThroughToStore(t *testing.T) {
	first := candidate("a.m3u")
	lookup := &fakeLookup{terminal: map[string]bool{first.Path + "@" + mtime.String(): true}}
	s, err := New(1, lookup, time.Second, nil)
	require.NoError(t, err)

	s.Mark(first)
	s.Mark(candidate("b.m3u"))
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Contains(first))
	assert.Equal(t, 1, lookup.calls)
}

func TestNew_InvalidSize(t *testing.T) {
	_, err := New(0, nil, 0, nil)
	assert.Error(t, err)
}

func TestSet_Concurrent(t *testing.T) {
	s, err := New(100, &fakeLookup{}, time.Second, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := candidate("f.m3u")
			c.ModTime = mtime.Add(time.Duration(i) * time.Second)
			s.Mark(c)
			s.Contains(c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}

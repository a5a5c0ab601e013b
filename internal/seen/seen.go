// Package seen remembers which files already reached a terminal outcome so
// later rounds skip them.
//
// The in-memory part is a bounded LRU. Misses fall through to the outcome
// store, so a restarted agent or an evicted key never reprocesses a file
// that was already rejected or moved.
package seen

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/harrison/ingestagent/internal/logger"
	"github.com/harrison/ingestagent/internal/models"
)

// Lookup is the store query backing the cache.
type Lookup interface {
	HasTerminalOutcome(ctx context.Context, sourcePath string, modTime time.Time) (bool, error)
}

// Set is a thread-safe seen-set keyed on (directory, filename, mtime).
type Set struct {
	cache   *lru.Cache[string, struct{}]
	lookup  Lookup
	timeout time.Duration
	log     logger.Logger
}

// New creates a Set holding at most size keys. lookup may be nil, in which
// case only the in-memory cache is consulted.
func New(size int, lookup Lookup, timeout time.Duration, log logger.Logger) (*Set, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Set{cache: cache, lookup: lookup, timeout: timeout, log: log}, nil
}

// Contains reports whether c was already handled.
//
// When the store cannot be queried the file is reported as seen for this
// round but not cached, so it is looked up again next round instead of
// producing a duplicate outcome.
func (s *Set) Contains(c models.Candidate) bool {
	key := c.Key()
	if s.cache.Contains(key) {
		return true
	}
	if s.lookup == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	found, err := s.lookup.HasTerminalOutcome(ctx, c.Path, c.ModTime)
	if err != nil {
		s.log.LogWarn("seen lookup failed, deferring file", "path", c.Path, "error", err)
		return true
	}
	if found {
		s.cache.Add(key, struct{}{})
	}
	return found
}

// Mark records that c reached a terminal outcome.
func (s *Set) Mark(c models.Candidate) {
	s.cache.Add(c.Key(), struct{}{})
}

// Forget drops c from the cache. The store is not touched.
func (s *Set) Forget(c models.Candidate) {
	s.cache.Remove(c.Key())
}

// Len returns the number of cached keys.
func (s *Set) Len() int {
	return s.cache.Len()
}

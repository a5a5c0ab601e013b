// Package memstore is an in-process Store for tests and dry runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/store"
)

type outcomeKey struct {
	path string
	at   time.Time
}

// Store keeps records in memory. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	outcomes []models.OutcomeRecord
	keys     map[outcomeKey]bool
	intents  map[string]models.MoveIntent
	closed   bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		keys:    make(map[outcomeKey]bool),
		intents: make(map[string]models.MoveIntent),
	}
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap(op, err, nil)
	}
	if s.closed {
		return &models.StorageError{Kind: models.StorageConnectionLost, Op: op, Err: fmt.Errorf("store closed")}
	}
	return nil
}

// InsertOutcome appends rec unless a record with the same key exists.
func (s *Store) InsertOutcome(ctx context.Context, rec *models.OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "insert outcome"); err != nil {
		return err
	}
	s.insertLocked(rec)
	return nil
}

func (s *Store) insertLocked(rec *models.OutcomeRecord) {
	store.Normalize(rec)
	key := outcomeKey{path: rec.SourcePath, at: rec.Timestamp}
	if s.keys[key] {
		return
	}
	s.keys[key] = true
	s.outcomes = append(s.outcomes, *rec)
}

// HasTerminalOutcome implements store.Store.
func (s *Store) HasTerminalOutcome(ctx context.Context, sourcePath string, modTime time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "lookup outcome"); err != nil {
		return false, err
	}
	modTime = store.Truncate(modTime)
	for i := range s.outcomes {
		r := &s.outcomes[i]
		if r.SourcePath == sourcePath && r.SourceModTime.Equal(modTime) && r.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// Outcomes implements store.Store.
func (s *Store) Outcomes(ctx context.Context, f store.Filter) ([]models.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "query outcomes"); err != nil {
		return nil, err
	}

	var out []models.OutcomeRecord
	for _, r := range s.outcomes {
		if f.SourcePath != "" && r.SourcePath != f.SourcePath {
			continue
		}
		if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !r.Timestamp.Before(f.Until) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// BeginMove implements store.Journal.
func (s *Store) BeginMove(ctx context.Context, intent *models.MoveIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "begin move"); err != nil {
		return err
	}
	store.NormalizeIntent(intent)
	if _, exists := s.intents[intent.ID]; exists {
		return &models.StorageError{Kind: models.StorageConstraintViolation, Op: "begin move", Err: fmt.Errorf("intent %s already exists", intent.ID)}
	}
	s.intents[intent.ID] = *intent
	return nil
}

// CompleteMove implements store.Journal.
func (s *Store) CompleteMove(ctx context.Context, intentID string, rec *models.OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "complete move"); err != nil {
		return err
	}
	s.insertLocked(rec)
	delete(s.intents, intentID)
	return nil
}

// AbortMove implements store.Journal.
func (s *Store) AbortMove(ctx context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "abort move"); err != nil {
		return err
	}
	delete(s.intents, intentID)
	return nil
}

// PendingMoves implements store.Journal.
func (s *Store) PendingMoves(ctx context.Context) ([]models.MoveIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "pending moves"); err != nil {
		return nil, err
	}
	out := make([]models.MoveIntent, 0, len(s.intents))
	for _, intent := range s.intents {
		out = append(out, intent)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx, "ping")
}

// Close marks the store closed. Later calls fail with ConnectionLost.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored outcome records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outcomes)
}

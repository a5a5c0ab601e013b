// Package scanner lists the files directly inside a watched directory and
// yields the ones that are new since they were last handled.
package scanner

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/harrison/ingestagent/internal/models"
)

// DefaultBatchSize is the number of directory entries read per ReadDir call.
const DefaultBatchSize = 256

// SeenSet answers whether a candidate was already handled.
type SeenSet interface {
	Contains(c models.Candidate) bool
}

// Options configures a Scanner.
type Options struct {
	// Settle defers files modified more recently than this.
	Settle time.Duration

	// TempSuffixes marks in-progress uploads (".part", ".tmp").
	TempSuffixes []string

	// BatchSize bounds how many entries are read at once. Defaults to DefaultBatchSize.
	BatchSize int

	// Now is the clock used for the settle check. Defaults to time.Now.
	Now func() time.Time

	// OnDeferred is called for every file skipped because it is too young.
	OnDeferred func(models.Candidate)

	// OnError is called when listing fails after the first batch. The
	// sequence ends at that point.
	OnError func(error)
}

// Scanner produces candidate sequences for watch rules.
type Scanner struct {
	opts Options
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scanner{opts: opts}
}

// Scan lists rule.Directory and returns a sequence of regular files not in
// seen. Directories, symlinks, devices, sockets, pipes, dot-files and files
// with a temp suffix are never yielded.
//
// The first batch is read eagerly so a missing or unreadable directory is
// reported as a *models.DirectoryError before iteration starts. Within a
// batch candidates are ordered by name. The sequence may be ranged over more
// than once; each pass lists the directory again. Callers must range over
// the sequence at least once to release the directory handle.
func (s *Scanner) Scan(rule models.WatchRule, seen SeenSet) (iter.Seq[models.Candidate], error) {
	dir := rule.Directory

	info, err := os.Stat(dir)
	if err != nil {
		return emptySeq, &models.DirectoryError{Rule: rule.Label(), Directory: dir, Err: err}
	}
	if !info.IsDir() {
		return emptySeq, &models.DirectoryError{Rule: rule.Label(), Directory: dir, Err: fmt.Errorf("not a directory")}
	}

	f, first, err := s.openDir(dir)
	if err != nil {
		return emptySeq, &models.DirectoryError{Rule: rule.Label(), Directory: dir, Err: err}
	}

	// pending holds the eagerly read handle for the first pass.
	pending := f
	return func(yield func(models.Candidate) bool) {
		handle, batch := pending, first
		pending, first = nil, nil
		if handle == nil {
			handle, batch, err = s.openDir(dir)
			if err != nil {
				s.reportError(&models.DirectoryError{Rule: rule.Label(), Directory: dir, Err: err})
				return
			}
		}
		defer handle.Close()

		for {
			for _, c := range s.filter(dir, batch, seen) {
				if !yield(c) {
					return
				}
			}
			if len(batch) < s.opts.BatchSize {
				return
			}
			batch, err = handle.ReadDir(s.opts.BatchSize)
			if err != nil && !errors.Is(err, io.EOF) {
				s.reportError(&models.DirectoryError{Rule: rule.Label(), Directory: dir, Err: err})
				return
			}
			if len(batch) == 0 {
				return
			}
		}
	}, nil
}

// openDir opens dir and reads its first batch of entries.
func (s *Scanner) openDir(dir string) (*os.File, []fs.DirEntry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	batch, err := f.ReadDir(s.opts.BatchSize)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, nil, err
	}
	return f, batch, nil
}

// filter converts one batch of entries into sorted candidates.
func (s *Scanner) filter(dir string, entries []fs.DirEntry, seen SeenSet) []models.Candidate {
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})

	now := s.opts.Now()
	out := make([]models.Candidate, 0, len(entries))
	for _, entry := range entries {
		// Type bits come from the directory listing without following links.
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if s.ignored(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// vanished between listing and stat
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		c := models.NewCandidate(dir, name, info.ModTime(), info.Size())
		if seen != nil && seen.Contains(c) {
			continue
		}
		if s.opts.Settle > 0 && now.Sub(c.ModTime) < s.opts.Settle {
			if s.opts.OnDeferred != nil {
				s.opts.OnDeferred(c)
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// ignored reports whether name looks like a hidden or in-progress file.
func (s *Scanner) ignored(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, suffix := range s.opts.TempSuffixes {
		if suffix != "" && strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func (s *Scanner) reportError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func emptySeq(func(models.Candidate) bool) {}

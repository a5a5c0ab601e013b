package models

import (
	"fmt"
	"path/filepath"
	"time"
)

// Candidate is a file observed during one scan round.
type Candidate struct {
	Path      string    // Absolute source path
	Directory string    // Watched directory the file was found in
	Name      string    // Base filename
	ModTime   time.Time // Modification time at listing
	Size      int64
}

// NewCandidate builds a Candidate for name inside dir.
func NewCandidate(dir, name string, modTime time.Time, size int64) Candidate {
	return Candidate{
		Path:      filepath.Join(dir, name),
		Directory: dir,
		Name:      name,
		ModTime:   modTime,
		Size:      size,
	}
}

// Key identifies a candidate across rounds: directory, filename and mtime.
// A file rewritten in place gets a new key and is processed again.
func (c Candidate) Key() string {
	return SeenKey(c.Directory, c.Name, c.ModTime)
}

// SeenKey formats the dedup key used by the seen-set.
func SeenKey(dir, name string, modTime time.Time) string {
	return fmt.Sprintf("%s\x00%s\x00%d", dir, name, modTime.UnixNano())
}

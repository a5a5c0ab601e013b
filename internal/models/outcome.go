package models

import "time"

// OutcomeRecord is the append-only audit row for one processing attempt.
// A nil DestinationPath means the file was not moved.
type OutcomeRecord struct {
	ID              string
	RuleName        string
	SourcePath      string
	SourceModTime   time.Time
	DestinationPath *string
	Verdict         Verdict
	Reason          string
	FileDate        *time.Time
	FileVersion     string
	Timestamp       time.Time
	ErrorDetail     *string
}

// Moved reports whether the record describes a relocated file.
func (r *OutcomeRecord) Moved() bool {
	return r.DestinationPath != nil
}

// Terminal reports whether the same file version must never be processed
// again: it was rejected by validation or it was moved.
func (r *OutcomeRecord) Terminal() bool {
	return !r.Verdict.IsValid() || r.DestinationPath != nil
}

// Destination returns the destination path or "" when not moved.
func (r *OutcomeRecord) Destination() string {
	if r.DestinationPath == nil {
		return ""
	}
	return *r.DestinationPath
}

// Error returns the error detail or "".
func (r *OutcomeRecord) Error() string {
	if r.ErrorDetail == nil {
		return ""
	}
	return *r.ErrorDetail
}

// MoveIntent brackets a move so a crash between the rename and the
// outcome insert can be reconciled on the next start.
type MoveIntent struct {
	ID              string
	RuleName        string
	SourcePath      string
	SourceModTime   time.Time
	DestinationPath string
	FileDate        *time.Time
	FileVersion     string
	CreatedAt       time.Time
}

// RoundStats summarizes one scheduler round.
type RoundStats struct {
	RoundID         string
	Rules           int
	Scanned         int
	Moved           int
	Rejected        int
	MoveFailed      int
	RecordFailed    int
	Deferred        int
	DirectoryErrors int
	Duration        time.Duration
}

// Add folds other into s. Used to merge per-rule stats into a round.
func (s *RoundStats) Add(other RoundStats) {
	s.Scanned += other.Scanned
	s.Moved += other.Moved
	s.Rejected += other.Rejected
	s.MoveFailed += other.MoveFailed
	s.RecordFailed += other.RecordFailed
	s.Deferred += other.Deferred
	s.DirectoryErrors += other.DirectoryErrors
}

// Empty reports whether the round touched no files and hit no errors.
func (s RoundStats) Empty() bool {
	return s.Scanned == 0 && s.DirectoryErrors == 0
}

// PtrString returns a pointer to s, or nil when s is empty.
func PtrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package models

import (
	"errors"
	"fmt"
	"strings"
)

// DirectoryError reports that a watched directory could not be listed.
// It is isolated to one rule and retried on the next tick.
type DirectoryError struct {
	Rule      string
	Directory string
	Err       error
}

// Error implements the error interface for DirectoryError.
func (e *DirectoryError) Error() string {
	return fmt.Sprintf("scan %s (%s): %v", e.Directory, e.Rule, e.Err)
}

// Unwrap returns the underlying filesystem error.
func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// MoveErrorKind classifies why a relocation failed.
type MoveErrorKind int

const (
	// MoveOther covers failures outside the named kinds.
	MoveOther MoveErrorKind = iota
	// MovePermissionDenied means the source or destination refused access.
	MovePermissionDenied
	// MoveSourceVanished means the file disappeared between scan and move.
	MoveSourceVanished
	// MoveDestinationFull means the destination ran out of space or quota.
	MoveDestinationFull
	// MoveCrossDeviceUnsupported means source and destination are on
	// different devices and copying is disabled.
	MoveCrossDeviceUnsupported
)

// String returns the string representation of MoveErrorKind.
func (k MoveErrorKind) String() string {
	switch k {
	case MovePermissionDenied:
		return "permission_denied"
	case MoveSourceVanished:
		return "source_vanished"
	case MoveDestinationFull:
		return "destination_full"
	case MoveCrossDeviceUnsupported:
		return "cross_device_unsupported"
	default:
		return "other"
	}
}

// MoveError is returned by the mover when a file could not be relocated.
// The source is left in place in every case.
type MoveError struct {
	Kind        MoveErrorKind
	Source      string
	Destination string
	Err         error
}

// Error implements the error interface for MoveError.
func (e *MoveError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("move %s: %s", e.Source, e.Kind))
	if e.Destination != "" {
		sb.WriteString(fmt.Sprintf(" (destination %s)", e.Destination))
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *MoveError) Unwrap() error {
	return e.Err
}

// StorageErrorKind classifies storage backend failures.
type StorageErrorKind int

const (
	// StorageOther covers failures outside the named kinds.
	StorageOther StorageErrorKind = iota
	// StorageConnectionLost means the backend connection is gone.
	StorageConnectionLost
	// StorageConstraintViolation means the row was rejected by the schema.
	StorageConstraintViolation
	// StorageTimeout means the operation exceeded its deadline or a lock wait.
	StorageTimeout
)

// String returns the string representation of StorageErrorKind.
func (k StorageErrorKind) String() string {
	switch k {
	case StorageConnectionLost:
		return "connection_lost"
	case StorageConstraintViolation:
		return "constraint_violation"
	case StorageTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// StorageError wraps a backend failure with its classification.
type StorageError struct {
	Kind StorageErrorKind
	Op   string
	Err  error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// FatalError is the one condition that stops the agent: configuration could
// not be loaded or the destination directory became unreadable.
type FatalError struct {
	Reason string
	Err    error
}

// Error implements the error interface for FatalError.
func (e *FatalError) Error() string {
	if e.Err == nil {
		return "fatal: " + e.Reason
	}
	return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// MoveKindOf returns the kind of a MoveError found in err's chain.
func MoveKindOf(err error) (MoveErrorKind, bool) {
	var moveErr *MoveError
	if errors.As(err, &moveErr) {
		return moveErr.Kind, true
	}
	return MoveOther, false
}

// StorageKindOf returns the kind of a StorageError found in err's chain.
func StorageKindOf(err error) (StorageErrorKind, bool) {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind, true
	}
	return StorageOther, false
}

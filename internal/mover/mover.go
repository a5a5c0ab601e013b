// Package mover relocates validated files into the destination directory
// without ever replacing an existing file.
package mover

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/ingestagent/internal/models"
)

// CrossDevicePolicy selects what happens when source and destination live on
// different filesystems.
type CrossDevicePolicy int

const (
	// CrossDeviceCopy copies to a temp file, links it into place, then
	// removes the source. Not atomic across a crash.
	CrossDeviceCopy CrossDevicePolicy = iota
	// CrossDeviceReject fails the move with MoveCrossDeviceUnsupported.
	CrossDeviceReject
)

// ParseCrossDevicePolicy maps the config value to a policy.
func ParseCrossDevicePolicy(s string) (CrossDevicePolicy, error) {
	switch s {
	case "", "copy":
		return CrossDeviceCopy, nil
	case "reject":
		return CrossDeviceReject, nil
	default:
		return CrossDeviceCopy, fmt.Errorf("unknown cross-device policy %q", s)
	}
}

// DefaultMaxCollisions bounds the -dupN search.
const DefaultMaxCollisions = 10000

// MoveResult describes a completed move.
type MoveResult struct {
	NewPath     string
	CrossDevice bool
}

// Mover moves candidates into a destination directory.
type Mover struct {
	policy        CrossDevicePolicy
	maxCollisions int

	// rename moves src to dst and fails with an fs.ErrExist error when dst
	// exists. Replaced in tests.
	rename func(src, dst string) error
}

// New creates a Mover using the platform's no-replace rename.
func New(policy CrossDevicePolicy) *Mover {
	return &Mover{
		policy:        policy,
		maxCollisions: DefaultMaxCollisions,
		rename:        renameNoReplace,
	}
}

// Move relocates c into destDir, keeping the filename unless it collides, in
// which case the first free "<stem>-dup<N><ext>" name (N >= 1) is used.
//
// On failure the source is left in place and a *models.MoveError is returned.
func (m *Mover) Move(c models.Candidate, destDir string) (MoveResult, error) {
	src := c.Path

	for n := 0; n <= m.maxCollisions; n++ {
		dst := filepath.Join(destDir, CollisionName(c.Name, n))
		err := m.rename(src, dst)
		if err == nil {
			return MoveResult{NewPath: dst}, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if isCrossDevice(err) {
			return m.moveAcrossDevices(c, destDir)
		}
		return MoveResult{}, m.failure(src, dst, err)
	}

	return MoveResult{}, &models.MoveError{
		Kind:   models.MoveOther,
		Source: src,
		Err:    fmt.Errorf("no free name in %s after %d attempts", destDir, m.maxCollisions),
	}
}

// CollisionName returns name for n == 0 and "<stem>-dup<n><ext>" otherwise.
// The extension is the final dot suffix; dot-files keep their full name as
// stem.
func CollisionName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	return fmt.Sprintf("%s-dup%d%s", stem, n, ext)
}

// moveAcrossDevices handles EXDEV according to the policy.
func (m *Mover) moveAcrossDevices(c models.Candidate, destDir string) (MoveResult, error) {
	if m.policy == CrossDeviceReject {
		return MoveResult{}, &models.MoveError{
			Kind:        models.MoveCrossDeviceUnsupported,
			Source:      c.Path,
			Destination: destDir,
			Err:         fmt.Errorf("source and destination are on different filesystems"),
		}
	}

	tmp, err := copyToTemp(c.Path, destDir)
	if err != nil {
		return MoveResult{}, m.failure(c.Path, destDir, err)
	}
	defer os.Remove(tmp)

	for n := 0; n <= m.maxCollisions; n++ {
		dst := filepath.Join(destDir, CollisionName(c.Name, n))
		err := os.Link(tmp, dst)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return MoveResult{}, m.failure(c.Path, dst, err)
		}
		if err := syncDir(destDir); err != nil {
			os.Remove(dst)
			return MoveResult{}, m.failure(c.Path, dst, err)
		}
		if err := os.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			// keep a single copy: the source stays, the destination goes
			os.Remove(dst)
			return MoveResult{}, m.failure(c.Path, dst, err)
		}
		return MoveResult{NewPath: dst, CrossDevice: true}, nil
	}

	return MoveResult{}, &models.MoveError{
		Kind:   models.MoveOther,
		Source: c.Path,
		Err:    fmt.Errorf("no free name in %s after %d attempts", destDir, m.maxCollisions),
	}
}

// copyToTemp streams src into a hidden temp file in destDir and fsyncs it.
// The copy keeps the source's permission bits and modification time.
func copyToTemp(src, destDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", err
	}

	out, err := os.CreateTemp(destDir, ".ingest-*.tmp")
	if err != nil {
		return "", err
	}
	tmp := out.Name()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := out.Chmod(info.Mode().Perm()); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Chtimes(tmp, info.ModTime(), info.ModTime()); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// failure wraps err in a *models.MoveError with its kind classified.
func (m *Mover) failure(src, dst string, err error) error {
	kind := classify(err)
	if errors.Is(err, fs.ErrNotExist) {
		// ENOENT is ambiguous: either the source vanished or the
		// destination directory is missing.
		if _, statErr := os.Lstat(src); errors.Is(statErr, fs.ErrNotExist) {
			kind = models.MoveSourceVanished
		} else {
			kind = models.MoveOther
		}
	}
	return &models.MoveError{Kind: kind, Source: src, Destination: dst, Err: err}
}

func classify(err error) models.MoveErrorKind {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return models.MoveSourceVanished
	case errors.Is(err, fs.ErrPermission):
		return models.MovePermissionDenied
	case isNoSpace(err):
		return models.MoveDestinationFull
	case isCrossDevice(err):
		return models.MoveCrossDeviceUnsupported
	default:
		return models.MoveOther
	}
}

// linkThenUnlink is the portable no-replace rename: link fails when dst
// exists, then the source name is dropped.
func linkThenUnlink(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Remove(dst)
		return err
	}
	return nil
}

package blob

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrNoFreeSpace reports that a blob could not be written because the
	// backing device is full or over quota.
	ErrNoFreeSpace = errors.New("no free space")
	// ErrNotFound is returned for ids with no stored blob.
	ErrNotFound = errors.New("blob not found")
)

// NoSpaceError carries the blob that failed to persist.
type NoSpaceError struct {
	ID   string
	Path string
	Err  error
}

func (e *NoSpaceError) Error() string {
	return fmt.Sprintf("write blob %s: %v: %v", e.ID, ErrNoFreeSpace, e.Err)
}

// Unwrap exposes both ErrNoFreeSpace and the underlying OS error.
func (e *NoSpaceError) Unwrap() []error { return []error{ErrNoFreeSpace, e.Err} }

func isNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}

// writeError maps a failed write onto NoSpaceError when the device is full.
func writeError(id, path string, err error) error {
	if isNoSpace(err) {
		return &NoSpaceError{ID: id, Path: path, Err: err}
	}
	return fmt.Errorf("write blob %s: %w", id, err)
}

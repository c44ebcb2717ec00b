package common

import (
	"errors"
	"fmt"
)

// Common error types used across the scanner packages
var (
	ErrRootUnavailable = errors.New("working tree root cannot be opened")
	ErrScanFailed      = errors.New("scan failed")
	ErrTreeReleased    = errors.New("directory tree has been released")
	ErrNotSorted       = errors.New("tracked records are not strictly sorted")
	ErrSnapshotMissing = errors.New("no tracked-record snapshot")
)

// InvariantError is the panic value raised when a collaborator breaks a
// contract the engine relies on, e.g. unsorted tracked records.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Op, e.Msg)
}

// Invariant panics with an *InvariantError when cond is false.
func Invariant(cond bool, op, format string, args ...any) {
	if !cond {
		panic(&InvariantError{Op: op, Msg: fmt.Sprintf(format, args...)})
	}
}

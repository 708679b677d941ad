// Package lfs models the Locutus File System: three fixed-size global tables
// (directories, files, forks), the menu tree built on them, a consistency
// validator and a differencing engine used to synchronize two layouts.
//
// This file contains error types and error handling utilities.
package lfs

import (
	"errors"
	"fmt"
	"strings"

	"locutusfs/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrCapacityExceeded indicates a table or directory is full
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrNotAllocated indicates a free or out-of-range table slot was released
	ErrNotAllocated = errors.New("slot not allocated")

	// ErrSlotUnavailable indicates an explicit slot reservation collided
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrCorruptFileSystem indicates a structural invariant does not hold.
	// A container reporting it must not be mutated until reloaded.
	ErrCorruptFileSystem = errors.New("corrupt file system")

	// ErrInvalidDestination indicates a mutation targeted a missing entry
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrNotFound indicates an entry reference does not resolve
	ErrNotFound = errors.New("entry not found")

	// ErrAlreadyAttached indicates a live entry was added a second time
	ErrAlreadyAttached = errors.New("entry already attached")

	// ErrCycle indicates a directory move into its own subtree
	ErrCycle = errors.New("move would create a cycle")

	// ErrIndexOutOfRange indicates an insertion index beyond the child list
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrRootImmutable indicates an attempt to move or remove the root
	ErrRootImmutable = errors.New("root directory cannot be moved or removed")

	// ErrNameTooLong indicates a long name beyond MaxLongNameLength
	ErrNameTooLong = errors.New("name too long")
)

// Error wraps a failed container operation with the operation name and the
// entry it concerned.
type Error struct {
	Op    string   // Operation that failed (e.g., "add", "move")
	Entry EntryRef // Affected entry, if any
	Err   error    // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Entry.IsZero() {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Entry, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, entry EntryRef, err error) *Error {
	lfsErr := &Error{Op: op, Entry: entry, Err: err}
	errLogger.Debug("Created new LFS error: %v", lfsErr)
	return lfsErr
}

// RejectionReason explains why admission control refused an operation.
type RejectionReason int

const (
	// RejectTooManyItems: the destination directory would exceed MaxItemCount
	RejectTooManyItems RejectionReason = iota + 1
	// RejectTableFull: a global table lacks free slots
	RejectTableFull
	// RejectInvalidDestination: the destination does not exist or has the wrong kind
	RejectInvalidDestination
)

func (r RejectionReason) String() string {
	switch r {
	case RejectTooManyItems:
		return "too many items"
	case RejectTableFull:
		return "table full"
	case RejectInvalidDestination:
		return "invalid destination"
	default:
		return fmt.Sprintf("RejectionReason(%d)", int(r))
	}
}

// Rejection is returned by CanAcceptMoreItems. Message is suitable for
// showing to a user as-is.
type Rejection struct {
	Reason  RejectionReason
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// Unwrap maps the reason onto the error taxonomy so callers can test with
// errors.Is(err, ErrCapacityExceeded).
func (r *Rejection) Unwrap() error {
	if r.Reason == RejectInvalidDestination {
		return ErrInvalidDestination
	}
	return ErrCapacityExceeded
}

// CorruptionError lists every structural problem the validator found.
type CorruptionError struct {
	Problems []string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCorruptFileSystem, strings.Join(e.Problems, "; "))
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *CorruptionError) Unwrap() error {
	return ErrCorruptFileSystem
}

// Common operation names for consistent logging and error reporting
const (
	OpAdd        = "add"        // Attaching a new entry
	OpInsert     = "insert"     // Attaching a new entry at an index
	OpMove       = "move"       // Relocating or reordering an entry
	OpRemove     = "remove"     // Detaching and freeing an entry
	OpSetFork    = "setfork"    // Attaching a fork to a file
	OpClearFork  = "clearfork"  // Detaching a fork from a file
	OpCleanup    = "cleanup"    // Freeing orphaned entries
	OpCompare    = "compare"    // Differencing two containers
	OpLookupPath = "lookuppath" // Resolving a path of long names
)

// IsRecoverable reports whether the user can fix the condition by editing
// the layout (deleting items, picking another destination) as opposed to a
// corrupt container that must be reloaded or reformatted.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrCorruptFileSystem) {
		return false
	}
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrInvalidDestination) ||
		errors.Is(err, ErrCycle) || errors.Is(err, ErrNameTooLong)
}

// Package mount serves a host layout through FUSE.
//
// This file contains error types and error handling utilities.
package mount

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrReadOnly indicates attempt to modify a read-only attribute or file
	ErrReadOnly = errors.New("read-only")

	// ErrDirectoryNotEmpty indicates attempt to remove non-empty directory
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrNotPermitted indicates an operation the menu cannot express
	ErrNotPermitted = errors.New("operation not permitted")
)

// Error wraps mount errors with the operation and affected node name.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "rename")
	Path string // Affected node
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op string, path string, err error) *Error {
	mountErr := &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
	errLogger.Debug("Created new mount error: %v", mountErr)
	return mountErr
}

// ToFuseError converts container and mount errors to the errno FUSE
// reports to the kernel.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	errLogger.Trace("Converting error to FUSE error: %v", err)
	switch {
	case errors.Is(err, lfs.ErrCorruptFileSystem):
		return syscall.EIO
	case errors.Is(err, lfs.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, lfs.ErrCapacityExceeded):
		return syscall.ENOSPC
	case errors.Is(err, lfs.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, lfs.ErrCycle), errors.Is(err, lfs.ErrInvalidDestination),
		errors.Is(err, lfs.ErrIndexOutOfRange):
		return syscall.EINVAL
	case errors.Is(err, lfs.ErrRootImmutable), errors.Is(err, ErrNotPermitted),
		errors.Is(err, os.ErrPermission):
		return syscall.EPERM
	case errors.Is(err, lfs.ErrAlreadyAttached):
		return syscall.EEXIST
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, ErrDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}

// Common operation names for consistent logging and error reporting
const (
	OpOpen     = "open"     // Opening a file
	OpMkdir    = "mkdir"    // Creating a new directory
	OpRemove   = "remove"   // Removing a file or directory
	OpRename   = "rename"   // Renaming/moving a file or directory
	OpImport   = "import"   // Adding a source file to the menu
	OpSetxattr = "setxattr" // Changing menu metadata
)

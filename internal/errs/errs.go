// Package errs defines the sentinel errors shared across the kernel and
// filesystem packages. Filesystem exhaustion surfaces as ErrNoSpace rather
// than a panic, so callers need a stable set of sentinels to compare
// against with errors.Is.
package errs

import "errors"

var (
	// ErrNoMem is returned when the frame allocator cannot satisfy a request.
	ErrNoMem = errors.New("errs: out of memory")
	// ErrNoSpace is returned when the filesystem's inode or data bitmap is
	// exhausted.
	ErrNoSpace = errors.New("errs: no space left on device")
	// ErrNotFound is returned when a lookup (inode, directory entry, PID)
	// fails to resolve.
	ErrNotFound = errors.New("errs: not found")
	// ErrExist is returned when a create would clobber an existing name.
	ErrExist = errors.New("errs: already exists")
	// ErrNotDir is returned when an operation requiring a directory inode is
	// given a file inode.
	ErrNotDir = errors.New("errs: not a directory")
	// ErrIsDir is returned when an operation requiring a file inode is given
	// a directory inode.
	ErrIsDir = errors.New("errs: is a directory")
	// ErrBadFD is returned when a file descriptor is out of range or closed.
	ErrBadFD = errors.New("errs: bad file descriptor")
	// ErrInval is returned for malformed arguments that don't fit a more
	// specific sentinel (e.g. a block id out of range, or a bad super-block
	// magic).
	ErrInval = errors.New("errs: invalid argument")
)

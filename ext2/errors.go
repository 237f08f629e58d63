package ext2

import "errors"

// The error kinds surfaced by the driver. Every failure of a public operation
// wraps exactly one of these (or the underlying I/O error unchanged), so
// callers can classify with errors.Is while still getting a human-readable
// message from the wrap site. Propagation is eager: operations return on the
// first error, leaving in-memory state only partially updated; callers should
// remount after I/O errors.
var (
	// ErrInvalidFilesystem the image does not hold a mountable filesystem
	ErrInvalidFilesystem = errors.New("invalid filesystem")
	// ErrInvalidSuperblock magic mismatch or a field out of range
	ErrInvalidSuperblock = errors.New("invalid superblock")
	// ErrInvalidInode inode number or group index out of range
	ErrInvalidInode = errors.New("invalid inode")
	// ErrInvalidBlockGroup block group descriptor out of range or malformed
	ErrInvalidBlockGroup = errors.New("invalid block group")
	// ErrInvalidJournal journal metadata malformed
	ErrInvalidJournal = errors.New("invalid journal")
	// ErrInvalidDirectory not a directory, or a malformed entry
	ErrInvalidDirectory = errors.New("invalid directory")
	// ErrInvalidFile not a regular file, or a path component not found
	ErrInvalidFile = errors.New("invalid file")
	// ErrInvalidOperation unsupported operation or precondition violated
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrNoSpace allocator exhaustion
	ErrNoSpace = errors.New("no space")
	// ErrInvalidBlock block number out of range
	ErrInvalidBlock = errors.New("invalid block")
)

// Package fs defines the filesystem interface used by the kernel and provides
// RamFS, an in-memory implementation.
package fs

import (
	"io"
	"kestrel/kernel"
)

// Inode identifies a file or directory.
type Inode uint32

const (
	// RootInode is the inode of the root directory.
	RootInode = Inode(1)

	// MaxNameLength is the maximum length of a file name.
	MaxNameLength = 11
)

var (
	// ErrNotFound is returned when a file, directory or inode does not
	// exist.
	ErrNotFound = &kernel.Error{Module: "fs", Message: "no such file or directory"}

	// ErrExists is returned when creating an entry whose name is taken.
	ErrExists = &kernel.Error{Module: "fs", Message: "file exists"}

	// ErrNotDir is returned when a directory operation targets a file.
	ErrNotDir = &kernel.Error{Module: "fs", Message: "not a directory"}

	// ErrNoSpace is returned when the filesystem has no room for an entry
	// or its contents.
	ErrNoSpace = &kernel.Error{Module: "fs", Message: "no space left"}

	// ErrBufferTooSmall is returned by ReadFile when the destination
	// cannot hold the whole file.
	ErrBufferTooSmall = &kernel.Error{Module: "fs", Message: "buffer too small"}

	// ErrInvalidName is returned for empty, overlong or reserved names.
	ErrInvalidName = &kernel.Error{Module: "fs", Message: "invalid name"}

	// ErrNotEmpty is returned when deleting a directory that has entries.
	ErrNotEmpty = &kernel.Error{Module: "fs", Message: "directory not empty"}
)

// Status is the numeric result code reported to user programs.
type Status uint8

// The list of filesystem status codes.
const (
	StatusOK Status = iota
	StatusNotFound
	StatusExists
	StatusNotDir
	StatusNoSpace
	StatusBufferTooSmall
	StatusInvalidName
	StatusNotEmpty
)

// StatusOf maps an error returned by a FileSystem to its status code. Errors
// that do not originate from this package map to StatusNotFound.
func StatusOf(err *kernel.Error) Status {
	switch err {
	case nil:
		return StatusOK
	case ErrExists:
		return StatusExists
	case ErrNotDir:
		return StatusNotDir
	case ErrNoSpace:
		return StatusNoSpace
	case ErrBufferTooSmall:
		return StatusBufferTooSmall
	case ErrInvalidName:
		return StatusInvalidName
	case ErrNotEmpty:
		return StatusNotEmpty
	default:
		return StatusNotFound
	}
}

// DirEntry describes a directory entry.
type DirEntry struct {
	Name  string
	Inode Inode
	Size  uint32
	IsDir bool
}

// File is an open regular file.
type File interface {
	io.ReaderAt

	// Size returns the file size in bytes.
	Size() uint32
}

// FileSystem is implemented by filesystems that the kernel can load programs
// from and expose to user programs.
type FileSystem interface {
	// ReadFile copies the whole contents of the file name in directory
	// parent into buf and returns the number of bytes copied.
	ReadFile(parent Inode, name string, buf []byte) (int, *kernel.Error)

	// WriteFile creates a file with the supplied contents, or an empty
	// directory if isDir is set.
	WriteFile(parent Inode, name string, data []byte, isDir bool) *kernel.Error

	// Delete removes a file, or an empty directory if isDir is set.
	Delete(parent Inode, name string, isDir bool) *kernel.Error

	// List returns the entries of directory parent.
	List(parent Inode) ([]DirEntry, *kernel.Error)

	// Lookup returns the entry called name in directory parent.
	Lookup(parent Inode, name string) (DirEntry, *kernel.Error)

	// Open opens the regular file called name in directory parent.
	Open(parent Inode, name string) (File, *kernel.Error)
}

// ValidName returns true if name can be used for a directory entry.
func ValidName(name string) bool {
	if len(name) == 0 || len(name) > MaxNameLength || name == "." || name == ".." {
		return false
	}

	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] < ' ' || name[i] > '~' {
			return false
		}
	}

	return true
}

// Package backend defines the storage capability every higher layer in
// this module is written against. Rather than accepting a structurally
// typed "anything with Read/Write/Readdir" value, callers depend on
// this single explicit interface, so a concrete driver is a normal Go
// value satisfying it rather than a duck-typed bag of methods.
//
// Two implementations ship with this module: backend/memory (a pure
// in-memory tree, used for tests and ephemeral repositories) and the
// billy adapter in backend/billyfs, which lets any github.com/go-git/
// go-billy/v5 filesystem act as a Backend. A concrete OS-filesystem
// driver is intentionally out of scope for this core: only the
// interface is specified.
package backend

import (
	"errors"
	"io"
	"io/fs"
)

// ErrNotExist is returned by Stat/Lstat/Open/ReadDir for a missing
// path. Implementations should return it (or a wrapped form such that
// errors.Is matches) rather than a driver-specific not-found error.
var ErrNotExist = fs.ErrNotExist

// ErrExist is returned by Rename/Create style operations when an
// exclusive-create target already exists.
var ErrExist = fs.ErrExist

// FileInfo is the subset of os.FileInfo this module's core relies on.
// It intentionally omits Sys(), since the object/ref/index layers
// never need backend-specific metadata.
type FileInfo interface {
	Name() string
	Size() int64
	Mode() fs.FileMode
	IsDir() bool
}

// DirEntry names one child of a listed directory.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Interface is the full storage capability surface. A Backend need not
// be backed by a real filesystem — backend/memory keeps everything in
// a map — but every implementation must honor these semantics:
//
//   - Write is not required to be atomic by itself; WriteAtomic is.
//   - Rename is atomic and overwrites an existing destination.
//   - Symlink/Readlink may return ErrNotExist-wrapping errors on
//     backends that cannot represent symlinks (e.g. some in-memory
//     test doubles); callers that need worktree fidelity should check
//     for that case explicitly.
type Interface interface {
	// Open opens path for reading. It returns ErrNotExist if absent.
	Open(path string) (io.ReadCloser, error)
	// Create opens (or truncates) path for writing, creating parent
	// directories as needed.
	Create(path string) (io.WriteCloser, error)
	// WriteAtomic writes the full contents of path atomically: the
	// data lands at path only once fully written (temp file + rename,
	// or the backend's equivalent).
	WriteAtomic(path string, data []byte, mode fs.FileMode) error
	// Stat follows symlinks; Lstat does not.
	Stat(path string) (FileInfo, error)
	Lstat(path string) (FileInfo, error)
	// ReadDir lists the immediate children of path.
	ReadDir(path string) ([]DirEntry, error)
	// MkdirAll creates path and any missing parents.
	MkdirAll(path string) error
	// Rename atomically moves oldpath to newpath, replacing any
	// existing file at newpath.
	Rename(oldpath, newpath string) error
	// Remove deletes a single file. It is not required to remove
	// directories; RemoveAll does that.
	Remove(path string) error
	RemoveAll(path string) error
	// Symlink creates newname as a symbolic link to oldname.
	Symlink(oldname, newname string) error
	// Readlink returns the target of a symbolic link.
	Readlink(name string) (string, error)
	// Exists is a convenience wrapper over Lstat.
	Exists(path string) (bool, error)
}

// Exists is the shared Lstat-based implementation backends can embed
// or call from their own Exists method.
func Exists(b Interface, path string) (bool, error) {
	_, err := b.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ReadFile is a convenience wrapper that opens, reads fully, and
// closes path.
func ReadFile(b Interface, path string) ([]byte, error) {
	f, err := b.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Package billyfs adapts any github.com/go-git/go-billy/v5 filesystem
// to backend.Interface. go-billy is the filesystem abstraction the
// teacher ecosystem standardizes on (osfs, memfs, chroot, ...); this
// adapter lets a caller hand this module a billy.Filesystem — for
// instance billy/osfs.New for a real on-disk gitdir — without this
// module depending on the concrete OS driver itself, which remains out
// of scope for the core per the specification.
package billyfs

import (
	"errors"
	"io"
	"io/fs"

	"github.com/go-git/go-billy/v5"

	"github.com/grahambrooks/gitkit/backend"
)

// Backend adapts a billy.Filesystem to backend.Interface.
type Backend struct {
	fs billy.Filesystem
}

// New wraps an already-rooted billy.Filesystem (e.g. osfs.New(gitdir)).
func New(fs billy.Filesystem) *Backend {
	return &Backend{fs: fs}
}

var _ backend.Interface = (*Backend)(nil)

func (b *Backend) Open(path string) (io.ReadCloser, error) {
	f, err := b.fs.Open(path)
	if err != nil {
		return nil, translate(err)
	}
	return f, nil
}

func (b *Backend) Create(path string) (io.WriteCloser, error) {
	f, err := b.fs.Create(path)
	if err != nil {
		return nil, translate(err)
	}
	return f, nil
}

func (b *Backend) WriteAtomic(path string, data []byte, mode fs.FileMode) error {
	tmp, err := b.fs.TempFile(dirname(path), "tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return err
	}
	if err := b.fs.Chmod(tmpName, mode); err != nil {
		_ = b.fs.Remove(tmpName)
		return err
	}
	return b.fs.Rename(tmpName, path)
}

type fileInfoAdapter struct{ fs.FileInfo }

func (b *Backend) Stat(path string) (backend.FileInfo, error) {
	fi, err := b.fs.Stat(path)
	if err != nil {
		return nil, translate(err)
	}
	return fileInfoAdapter{fi}, nil
}

func (b *Backend) Lstat(path string) (backend.FileInfo, error) {
	fi, err := b.fs.Lstat(path)
	if err != nil {
		return nil, translate(err)
	}
	return fileInfoAdapter{fi}, nil
}

func (b *Backend) ReadDir(path string) ([]backend.DirEntry, error) {
	infos, err := b.fs.ReadDir(path)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]backend.DirEntry, len(infos))
	for i, fi := range infos {
		out[i] = backend.DirEntry{Name: fi.Name(), IsDir: fi.IsDir()}
	}
	return out, nil
}

func (b *Backend) MkdirAll(path string) error {
	return b.fs.MkdirAll(path, 0755)
}

func (b *Backend) Rename(oldpath, newpath string) error {
	return b.fs.Rename(oldpath, newpath)
}

func (b *Backend) Remove(path string) error {
	return translate(b.fs.Remove(path))
}

func (b *Backend) RemoveAll(path string) error {
	entries, err := b.fs.ReadDir(path)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		child := path + "/" + e.Name()
		if e.IsDir() {
			if err := b.RemoveAll(child); err != nil {
				return err
			}
			continue
		}
		if err := b.fs.Remove(child); err != nil {
			return err
		}
	}
	return b.fs.Remove(path)
}

func (b *Backend) Symlink(oldname, newname string) error {
	return b.fs.Symlink(oldname, newname)
}

func (b *Backend) Readlink(name string) (string, error) {
	return b.fs.Readlink(name)
}

func (b *Backend) Exists(path string) (bool, error) {
	return backend.Exists(b, path)
}

func dirname(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}

func isNotExist(err error) bool {
	return err != nil && errors.Is(err, fs.ErrNotExist)
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return backend.ErrNotExist
	}
	return err
}

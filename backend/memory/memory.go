// Package memory implements backend.Interface entirely in memory. It
// backs ephemeral repositories and every unit test in this module that
// would otherwise need a real filesystem.
package memory

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/grahambrooks/gitkit/backend"
)

type node struct {
	isDir   bool
	mode    fs.FileMode
	data    []byte
	symlink string // target, if this node is a symlink
	isLink  bool
}

// Backend is an in-memory implementation of backend.Interface. Construct
// it with New; the zero value has no node map and is not usable. It is
// safe for concurrent use.
type Backend struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

// New returns an empty Backend.
func New() *Backend {
	b := &Backend{nodes: make(map[string]*node)}
	b.nodes["."] = &node{isDir: true, mode: fs.ModeDir | 0755}
	return b
}

var _ backend.Interface = (*Backend)(nil)

func clean(p string) string {
	p = path.Clean("/" + filepathToSlash(p))
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		p = "."
	}
	return p
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func dirOf(p string) string {
	d := path.Dir(p)
	return d
}

func (b *Backend) ensureDirs(p string) {
	d := dirOf(p)
	for d != "." && d != "/" {
		if n, ok := b.nodes[d]; ok && n.isDir {
			break
		}
		b.nodes[d] = &node{isDir: true, mode: fs.ModeDir | 0755}
		d = dirOf(d)
	}
}

type reader struct{ *bytes.Reader }

func (reader) Close() error { return nil }

// Open implements backend.Interface.
func (b *Backend) Open(p string) (io.ReadCloser, error) {
	p = clean(p)
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.nodes[p]
	if !ok || n.isDir {
		return nil, &fs.PathError{Op: "open", Path: p, Err: backend.ErrNotExist}
	}
	return reader{bytes.NewReader(n.data)}, nil
}

type writer struct {
	b    *Backend
	path string
	mode fs.FileMode
	buf  bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writer) Close() error {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	w.b.ensureDirs(w.path)
	w.b.nodes[w.path] = &node{data: append([]byte(nil), w.buf.Bytes()...), mode: w.mode}
	return nil
}

// Create implements backend.Interface.
func (b *Backend) Create(p string) (io.WriteCloser, error) {
	p = clean(p)
	return &writer{b: b, path: p, mode: 0644}, nil
}

// WriteAtomic implements backend.Interface.
func (b *Backend) WriteAtomic(p string, data []byte, mode fs.FileMode) error {
	p = clean(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureDirs(p)
	b.nodes[p] = &node{data: append([]byte(nil), data...), mode: mode}
	return nil
}

type fileInfo struct {
	name  string
	size  int64
	mode  fs.FileMode
	isDir bool
}

func (fi fileInfo) Name() string    { return fi.name }
func (fi fileInfo) Size() int64     { return fi.size }
func (fi fileInfo) Mode() fs.FileMode { return fi.mode }
func (fi fileInfo) IsDir() bool     { return fi.isDir }

func (b *Backend) statLocked(p string, followLink bool) (backend.FileInfo, error) {
	p = clean(p)
	n, ok := b.nodes[p]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: p, Err: backend.ErrNotExist}
	}
	if n.isLink && followLink {
		target := n.symlink
		if !path.IsAbs(target) {
			target = path.Join(dirOf(p), target)
		}
		return b.statLocked(target, followLink)
	}
	mode := n.mode
	if n.isLink {
		mode |= fs.ModeSymlink
	}
	return fileInfo{name: path.Base(p), size: int64(len(n.data)), mode: mode, isDir: n.isDir}, nil
}

// Stat implements backend.Interface.
func (b *Backend) Stat(p string) (backend.FileInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statLocked(p, true)
}

// Lstat implements backend.Interface.
func (b *Backend) Lstat(p string) (backend.FileInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statLocked(p, false)
}

// ReadDir implements backend.Interface.
func (b *Backend) ReadDir(p string) ([]backend.DirEntry, error) {
	p = clean(p)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n, ok := b.nodes[p]; !ok || !n.isDir {
		return nil, &fs.PathError{Op: "readdir", Path: p, Err: backend.ErrNotExist}
	}

	seen := map[string]bool{}
	var out []backend.DirEntry
	prefix := p + "/"
	if p == "." {
		prefix = ""
	}
	for k, n := range b.nodes {
		if k == p || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		name := rest
		isDir := n.isDir
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name = rest[:i]
			isDir = true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, backend.DirEntry{Name: name, IsDir: isDir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MkdirAll implements backend.Interface.
func (b *Backend) MkdirAll(p string) error {
	p = clean(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := strings.Split(p, "/")
	cur := ""
	for _, part := range parts {
		if part == "." || part == "" {
			continue
		}
		if cur == "" {
			cur = part
		} else {
			cur = cur + "/" + part
		}
		if n, ok := b.nodes[cur]; ok {
			if !n.isDir {
				return &fs.PathError{Op: "mkdir", Path: cur, Err: fs.ErrExist}
			}
			continue
		}
		b.nodes[cur] = &node{isDir: true, mode: fs.ModeDir | 0755}
	}
	return nil
}

// Rename implements backend.Interface.
func (b *Backend) Rename(oldpath, newpath string) error {
	oldpath, newpath = clean(oldpath), clean(newpath)
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[oldpath]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: backend.ErrNotExist}
	}
	b.ensureDirs(newpath)
	b.nodes[newpath] = n
	delete(b.nodes, oldpath)
	return nil
}

// Remove implements backend.Interface.
func (b *Backend) Remove(p string) error {
	p = clean(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[p]; !ok {
		return &fs.PathError{Op: "remove", Path: p, Err: backend.ErrNotExist}
	}
	delete(b.nodes, p)
	return nil
}

// RemoveAll implements backend.Interface.
func (b *Backend) RemoveAll(p string) error {
	p = clean(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := p + "/"
	for k := range b.nodes {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(b.nodes, k)
		}
	}
	return nil
}

// Symlink implements backend.Interface.
func (b *Backend) Symlink(oldname, newname string) error {
	newname = clean(newname)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureDirs(newname)
	b.nodes[newname] = &node{isLink: true, symlink: oldname, mode: fs.ModeSymlink | 0777}
	return nil
}

// Readlink implements backend.Interface.
func (b *Backend) Readlink(name string) (string, error) {
	name = clean(name)
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.nodes[name]
	if !ok || !n.isLink {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: backend.ErrNotExist}
	}
	return n.symlink, nil
}

// Exists implements backend.Interface.
func (b *Backend) Exists(p string) (bool, error) {
	return backend.Exists(b, p)
}

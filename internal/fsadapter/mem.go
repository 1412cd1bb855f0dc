package fsadapter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemFileSystem is an in-memory FileSystem used by engine, cache
// inspector/purger, and reconciliation loop tests so they never touch
// real disk. Paths are treated as slash-separated regardless of OS.
type MemFileSystem struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMem creates an empty in-memory filesystem.
func NewMem() *MemFileSystem {
	return &MemFileSystem{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
	}
}

func clean(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

func (m *MemFileSystem) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	_, isFile := m.files[p]
	return isFile || m.dirs[p]
}

type memFileInfo struct {
	name  string
	isDir bool
	size  int64
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi memFileInfo) ModTime() time.Time { return time.Time{} }
func (fi memFileInfo) IsDir() bool        { return fi.isDir }
func (fi memFileInfo) Sys() any           { return nil }

func (m *MemFileSystem) Stat(p string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if data, ok := m.files[p]; ok {
		return memFileInfo{name: path.Base(p), size: int64(len(data))}, nil
	}
	if m.dirs[p] {
		return memFileInfo{name: path.Base(p), isDir: true}, nil
	}
	return nil, &os.PathError{Op: "stat", Path: p, Err: os.ErrNotExist}
}

type memDirEntry struct {
	name  string
	isDir bool
}

func (e memDirEntry) Name() string               { return e.name }
func (e memDirEntry) IsDir() bool                { return e.isDir }
func (e memDirEntry) Type() os.FileMode          { return 0 }
func (e memDirEntry) Info() (os.FileInfo, error) { return memFileInfo{name: e.name, isDir: e.isDir}, nil }

func (m *MemFileSystem) ReadDir(p string) ([]os.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if !m.dirs[p] {
		return nil, &os.PathError{Op: "readdir", Path: p, Err: os.ErrNotExist}
	}

	seen := make(map[string]bool)
	var entries []os.DirEntry
	prefix := p
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}

	add := func(name string, isDir bool) {
		if seen[name] {
			return
		}
		seen[name] = true
		entries = append(entries, memDirEntry{name: name, isDir: isDir})
	}

	for fp := range m.files {
		if !strings.HasPrefix(fp, prefix) || fp == prefix {
			continue
		}
		rest := strings.TrimPrefix(fp, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			add(rest[:i], true)
		} else {
			add(rest, false)
		}
	}
	for d := range m.dirs {
		if d == p || !strings.HasPrefix(d, prefix) {
			continue
		}
		rest := strings.TrimPrefix(d, prefix)
		if rest == "" {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			add(rest[:i], true)
		} else {
			add(rest, true)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (m *MemFileSystem) MkdirAll(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	for p != "/" && p != "." {
		m.dirs[p] = true
		p = path.Dir(p)
	}
	m.dirs["/"] = true
	return nil
}

func (m *MemFileSystem) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		return nil
	}
	if m.dirs[p] {
		return fmt.Errorf("remove %s: is a directory", p)
	}
	return &os.PathError{Op: "remove", Path: p, Err: os.ErrNotExist}
}

func (m *MemFileSystem) RemoveAll(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	prefix := p + "/"
	for fp := range m.files {
		if fp == p || strings.HasPrefix(fp, prefix) {
			delete(m.files, fp)
		}
	}
	for d := range m.dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(m.dirs, d)
		}
	}
	return nil
}

type memWriter struct {
	m    *MemFileSystem
	path string
	buf  bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.m.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
	dir := path.Dir(w.path)
	for dir != "/" && dir != "." {
		w.m.dirs[dir] = true
		dir = path.Dir(dir)
	}
	w.m.dirs["/"] = true
	return nil
}

func (m *MemFileSystem) Create(p string) (io.WriteCloser, error) {
	p = clean(p)
	return &memWriter{m: m, path: p}, nil
}

// WriteFile is a test helper that writes content directly, bypassing the
// streaming Create/Close path.
func (m *MemFileSystem) WriteFile(p string, content []byte) {
	w, _ := m.Create(p)
	w.Write(content)
	w.Close()
}

// ReadFile is a test helper that returns the raw bytes stored at p.
func (m *MemFileSystem) ReadFile(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[clean(p)]
	return data, ok
}

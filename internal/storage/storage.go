// Package storage exposes a host directory as a flash-style mount, so that
// "/spiffs/index.html" reads "<root>/index.html" and nothing outside root.
package storage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// Filesystem is the POSIX-style surface the file handler needs. Names are
// full virtual paths including the mount point.
type Filesystem interface {
	Stat(name string) (fs.FileInfo, error)
	Open(name string) (fs.File, error)
}

// Mount maps a virtual mount point onto an fs.FS.
type Mount struct {
	point  string
	fsys   fs.FS
	closer io.Closer
}

// NewMount opens dir with os.OpenRoot and mounts it at mountPoint. Symlinks
// and ".." cannot escape dir.
func NewMount(mountPoint, dir string) (*Mount, error) {
	if !strings.HasPrefix(mountPoint, "/") {
		return nil, fmt.Errorf("storage: mount point %q must be absolute", mountPoint)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: open root %s: %w", dir, err)
	}
	return &Mount{point: strings.TrimSuffix(mountPoint, "/"), fsys: root.FS(), closer: root}, nil
}

// NewFSMount mounts an arbitrary fs.FS, e.g. an fstest.MapFS or an embed.FS.
func NewFSMount(mountPoint string, fsys fs.FS) *Mount {
	return &Mount{point: strings.TrimSuffix(mountPoint, "/"), fsys: fsys}
}

// MountPoint returns the virtual prefix, e.g. "/spiffs".
func (m *Mount) MountPoint() string { return m.point }

// rel turns a virtual path into an fs.ValidPath relative to the mount.
func (m *Mount) rel(op, name string) (string, error) {
	rest, ok := strings.CutPrefix(name, m.point)
	if !ok || (rest != "" && rest[0] != '/') {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	cleaned := path.Clean("/" + rest)[1:]
	if cleaned == "" {
		cleaned = "."
	}
	return cleaned, nil
}

func (m *Mount) Stat(name string) (fs.FileInfo, error) {
	rel, err := m.rel("stat", name)
	if err != nil {
		return nil, err
	}
	return fs.Stat(m.fsys, rel)
}

func (m *Mount) Open(name string) (fs.File, error) {
	rel, err := m.rel("open", name)
	if err != nil {
		return nil, err
	}
	return m.fsys.Open(rel)
}

// Close releases the underlying root, if any.
func (m *Mount) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

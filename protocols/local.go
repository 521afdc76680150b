package protocols

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// LocalFileSystem serves a directory on the gateway host. Every path is
// resolved under RootPath; ".." cannot climb above it.
type LocalFileSystem struct {
	RootPath string
}

func (l *LocalFileSystem) Init(_ context.Context) error {
	if l.RootPath == "" {
		return fmt.Errorf("local root is not configured")
	}
	return os.MkdirAll(l.RootPath, 0755)
}

func (l *LocalFileSystem) Close() error {
	return nil
}

// Abort is a no-op: local calls never block on a peer.
func (l *LocalFileSystem) Abort() {}

func (l *LocalFileSystem) resolve(p string) string {
	return filepath.Join(l.RootPath, filepath.FromSlash(path.Clean("/"+p)))
}

func (l *LocalFileSystem) List(dir string) ([]FileEntry, error) {
	entries, err := os.ReadDir(l.resolve(dir))
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, infoEntry(info, path.Join(dir, entry.Name())))
	}
	return files, nil
}

func (l *LocalFileSystem) Stat(p string) (*FileEntry, error) {
	info, err := os.Lstat(l.resolve(p))
	if err != nil {
		return nil, err
	}
	fe := infoEntry(info, path.Clean("/"+p))
	return &fe, nil
}

func (l *LocalFileSystem) Open(p string) (io.ReadCloser, error) {
	f, err := os.Open(l.resolve(p))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", p)
	}
	return f, nil
}

func (l *LocalFileSystem) Store(p string, r io.Reader) error {
	f, err := os.Create(l.resolve(p))
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (l *LocalFileSystem) MkdirAll(p string) error {
	return os.MkdirAll(l.resolve(p), 0755)
}

func (l *LocalFileSystem) Remove(p string) error {
	return os.Remove(l.resolve(p))
}

func (l *LocalFileSystem) RemoveAll(p string) error {
	target := l.resolve(p)
	if _, err := os.Lstat(target); err != nil {
		return err
	}
	return os.RemoveAll(target)
}

func (l *LocalFileSystem) Rename(from, to string) error {
	return os.Rename(l.resolve(from), l.resolve(to))
}

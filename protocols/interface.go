package protocols

import (
	"context"
	"io"
	"time"
)

// EntryType is the raw type code a server reports for a listing entry.
type EntryType int

const (
	EntryTypeFile EntryType = iota
	EntryTypeFolder
	EntryTypeLink
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeFile:
		return "file"
	case EntryTypeFolder:
		return "folder"
	case EntryTypeLink:
		return "link"
	default:
		return "unknown"
	}
}

type FileEntry struct {
	Name    string
	Size    int64
	ModTime time.Time // zero when the server did not report one
	Type    EntryType
	Path    string // absolute, slash-delimited
}

// FileSystem is one live connection to a remote (or local) file store.
// All paths are absolute and slash-delimited.
type FileSystem interface {
	Init(ctx context.Context) error
	Close() error
	// Abort drops the transport so that a call blocked in another goroutine
	// returns. Close must still be called afterwards.
	Abort()
	// List returns the entries of the specified directory (non-recursive), in server order.
	List(path string) ([]FileEntry, error)
	// Stat returns an error wrapping fs.ErrNotExist when path does not resolve to an entry.
	Stat(path string) (*FileEntry, error)
	Open(path string) (io.ReadCloser, error)
	// Store creates or truncates path and writes r into it.
	Store(path string, r io.Reader) error
	MkdirAll(path string) error
	Remove(path string) error
	RemoveAll(path string) error
	Rename(from, to string) error
}

package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"ftpgateway/protocols"
)

// countingOpener records how often a session was requested.
type countingOpener struct {
	calls atomic.Int32
	fs    protocols.FileSystem
	err   error
}

func (o *countingOpener) Open(_ context.Context, _ ConnectionParameters) (protocols.FileSystem, error) {
	o.calls.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	return o.fs, nil
}

// recordingSink captures whatever result variant the gateway produced.
type recordingSink struct {
	mu         sync.Mutex
	entries    []DirectoryEntry
	success    bool
	fileName   string
	body       bytes.Buffer
	firstWrite chan struct{}
	once       sync.Once
	writeErr   error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{firstWrite: make(chan struct{})}
}

func (s *recordingSink) WriteEntries(entries []DirectoryEntry) error {
	s.entries = entries
	return nil
}

func (s *recordingSink) WriteSuccess() error {
	s.success = true
	return nil
}

func (s *recordingSink) BeginDownload(fileName string) (io.Writer, error) {
	s.fileName = fileName
	return s, nil
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.once.Do(func() { close(s.firstWrite) })
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.body.Write(p)
}

func (s *recordingSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.body.Bytes()...)
}

// stallingReader hands out prefix once, then blocks until a deadline is set
// (or it is closed) and fails with failErr.
type stallingReader struct {
	prefix  []byte
	sent    bool
	failErr error
	unblock chan struct{}
	once    sync.Once
	aborted atomic.Bool
}

func newStallingReader(prefix []byte) *stallingReader {
	return &stallingReader{prefix: prefix, failErr: os.ErrDeadlineExceeded, unblock: make(chan struct{})}
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.prefix), nil
	}
	<-r.unblock
	return 0, r.failErr
}

func (r *stallingReader) SetDeadline(time.Time) error {
	r.aborted.Store(true)
	r.once.Do(func() { close(r.unblock) })
	return nil
}

func (r *stallingReader) Close() error {
	r.once.Do(func() { close(r.unblock) })
	return nil
}

// failingReader returns prefix, then err.
type failingReader struct {
	prefix []byte
	err    error
	sent   bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.prefix), nil
	}
	return 0, r.err
}

func (r *failingReader) Close() error { return nil }

// scriptedFS is a FileSystem whose behaviour is set per test. Unset hooks
// fail loudly.
type scriptedFS struct {
	open      func(string) (io.ReadCloser, error)
	list      func(string) ([]protocols.FileEntry, error)
	stat      func(string) (*protocols.FileEntry, error)
	closed    chan struct{}
	once      sync.Once
	closes    atomic.Int32
	aborted   chan struct{}
	abortOnce sync.Once
	removed   atomic.Int32
	recursive atomic.Int32
}

func newScriptedFS() *scriptedFS {
	return &scriptedFS{closed: make(chan struct{}), aborted: make(chan struct{})}
}

var errNotScripted = errors.New("not scripted")

func (f *scriptedFS) Init(context.Context) error { return nil }

func (f *scriptedFS) Close() error {
	f.closes.Add(1)
	f.once.Do(func() { close(f.closed) })
	return errors.New("close failures are swallowed")
}

func (f *scriptedFS) Abort() {
	f.abortOnce.Do(func() { close(f.aborted) })
}

func (f *scriptedFS) List(p string) ([]protocols.FileEntry, error) {
	if f.list == nil {
		return nil, errNotScripted
	}
	return f.list(p)
}

func (f *scriptedFS) Stat(p string) (*protocols.FileEntry, error) {
	if f.stat == nil {
		return nil, errNotScripted
	}
	return f.stat(p)
}

func (f *scriptedFS) Open(p string) (io.ReadCloser, error) {
	if f.open == nil {
		return nil, errNotScripted
	}
	return f.open(p)
}

func (f *scriptedFS) Store(string, io.Reader) error { return errNotScripted }
func (f *scriptedFS) MkdirAll(string) error         { return errNotScripted }
func (f *scriptedFS) Rename(string, string) error   { return errNotScripted }

func (f *scriptedFS) Remove(string) error {
	f.removed.Add(1)
	return nil
}

func (f *scriptedFS) RemoveAll(string) error {
	f.recursive.Add(1)
	return nil
}

func (f *scriptedFS) isAborted() bool {
	select {
	case <-f.aborted:
		return true
	default:
		return false
	}
}

func (f *scriptedFS) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

package protocols

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPFileSystem speaks plain FTP, or FTP with explicit TLS (AUTH TLS) when
// ExplicitTLS is set. Every control and data read or write is bounded by
// Timeout.
type FTPFileSystem struct {
	Host        string
	Port        int
	User        string
	Password    string
	ExplicitTLS bool
	TLSConfig   *tls.Config
	Timeout     time.Duration
	conn        *ftp.ServerConn
	control     net.Conn
}

// Init dials, logs in and switches to binary mode. Canceling ctx while this
// runs drops the connection.
func (f *FTPFileSystem) Init(ctx context.Context) error {
	addr := net.JoinHostPort(f.Host, strconv.Itoa(f.Port))
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}

	release := func() bool { return true }
	defer func() { release() }()

	// The first call opens the control connection, every later one a data
	// connection.
	dial := func(network, address string) (net.Conn, error) {
		if f.control == nil {
			raw, err := dialer.DialContext(ctx, network, address)
			if err != nil {
				return nil, err
			}
			release = context.AfterFunc(ctx, func() { _ = raw.Close() })
			f.control = &idleConn{Conn: raw, timeout: timeout}
			return f.control, nil
		}
		return f.dialData(dialer, network, address)
	}

	// The shut timeout bounds how long closing an aborted RETR waits for the
	// server's final reply.
	opts := []ftp.DialOption{
		ftp.DialWithDialFunc(dial),
		ftp.DialWithShutTimeout(min(timeout, 5*time.Second)),
	}
	if f.ExplicitTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(f.tlsConfig()))
	}

	c, err := ftp.Dial(addr, opts...)
	if err != nil {
		f.control = nil
		return fmt.Errorf("dial %s: %w", addr, interrupted(ctx, err))
	}

	user := f.User
	if user == "" {
		user = "anonymous"
	}
	if err := c.Login(user, f.Password); err != nil {
		f.drop(c)
		return fmt.Errorf("login as %s: %w", user, interrupted(ctx, err))
	}
	if err := c.Type(ftp.TransferTypeBinary); err != nil {
		f.drop(c)
		return fmt.Errorf("switch to binary mode: %w", interrupted(ctx, err))
	}
	if !release() {
		f.drop(c)
		return fmt.Errorf("login as %s: %w", user, ctx.Err())
	}
	f.conn = c
	return nil
}

func (f *FTPFileSystem) tlsConfig() *tls.Config {
	if f.TLSConfig != nil {
		return f.TLSConfig
	}
	return &tls.Config{ServerName: f.Host, MinVersion: tls.VersionTLS12}
}

// dialData opens a passive data connection. With a custom dial function the
// library no longer wraps data connections in TLS, so it happens here.
func (f *FTPFileSystem) dialData(d *net.Dialer, network, address string) (net.Conn, error) {
	raw, err := d.Dial(network, address)
	if err != nil {
		return nil, err
	}
	var conn net.Conn = &idleConn{Conn: raw, timeout: d.Timeout, abortable: true}
	if f.ExplicitTLS {
		conn = tls.Client(conn, f.tlsConfig())
	}
	return conn, nil
}

func (f *FTPFileSystem) drop(c *ftp.ServerConn) {
	_ = c.Quit()
	f.control = nil
}

func (f *FTPFileSystem) Close() error {
	if f.conn == nil {
		return nil
	}
	c := f.conn
	f.conn = nil
	return c.Quit()
}

// Abort closes the control connection under any command still blocked on it.
// It is safe to call from another goroutine.
func (f *FTPFileSystem) Abort() {
	if c := f.control; c != nil {
		_ = c.Close()
	}
}

func (f *FTPFileSystem) List(dir string) ([]FileEntry, error) {
	entries, err := f.conn.List(dir)
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		files = append(files, convertEntry(entry, dir))
	}
	return files, nil
}

// Stat lists the parent directory and picks the entry by name; a lot of
// servers still lack MLST.
func (f *FTPFileSystem) Stat(p string) (*FileEntry, error) {
	if p == "/" {
		return &FileEntry{Name: "/", Type: EntryTypeFolder, Path: "/"}, nil
	}
	parent := path.Dir(p)
	name := path.Base(p)

	entries, err := f.conn.List(parent)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if path.Base(entry.Name) == name {
			fe := convertEntry(entry, parent)
			return &fe, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
}

// Open starts a RETR. The returned *ftp.Response supports SetDeadline, which
// lets callers abort a blocked read.
func (f *FTPFileSystem) Open(p string) (io.ReadCloser, error) {
	r, err := f.conn.Retr(p)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (f *FTPFileSystem) Store(p string, r io.Reader) error {
	return f.conn.Stor(p, r)
}

// MkdirAll creates every missing segment from the root down. Errors on
// intermediate segments are ignored since they usually mean "already exists";
// the leaf is verified afterwards.
func (f *FTPFileSystem) MkdirAll(p string) error {
	dirs := dirChain(p)
	if len(dirs) == 0 {
		return nil
	}
	for _, dir := range dirs[:len(dirs)-1] {
		_ = f.conn.MakeDir(dir)
	}

	leaf := dirs[len(dirs)-1]
	mkErr := f.conn.MakeDir(leaf)
	if mkErr == nil {
		return nil
	}
	entry, err := f.Stat(leaf)
	if err != nil {
		return mkErr
	}
	if entry.Type == EntryTypeFile {
		return fmt.Errorf("%s exists and is not a directory: %w", leaf, fs.ErrExist)
	}
	return nil
}

func (f *FTPFileSystem) Remove(p string) error {
	return f.conn.Delete(p)
}

func (f *FTPFileSystem) RemoveAll(p string) error {
	return f.conn.RemoveDirRecur(p)
}

func (f *FTPFileSystem) Rename(from, to string) error {
	return f.conn.Rename(from, to)
}

func convertEntry(entry *ftp.Entry, dir string) FileEntry {
	name := path.Base(entry.Name)
	var t EntryType
	switch entry.Type {
	case ftp.EntryTypeFile:
		t = EntryTypeFile
	case ftp.EntryTypeFolder:
		t = EntryTypeFolder
	default:
		t = EntryTypeLink
	}
	return FileEntry{
		Name:    name,
		Size:    int64(entry.Size),
		ModTime: entry.Time,
		Type:    t,
		Path:    path.Join(dir, name),
	}
}

// dirChain returns every directory from the root down to p, root excluded.
func dirChain(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	dirs := make([]string, 0, len(segments))
	curr := ""
	for _, s := range segments {
		curr += "/" + s
		dirs = append(dirs, curr)
	}
	return dirs
}

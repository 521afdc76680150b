package protocols

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type SFTPFileSystem struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
	client   *sftp.Client
	sshConn  *ssh.Client
	raw      net.Conn
}

// Init runs the ssh handshake and starts the sftp subsystem, both under a
// deadline of Timeout. Canceling ctx while this runs drops the connection.
func (s *SFTPFileSystem) Init(ctx context.Context) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	config := &ssh.ClientConfig{
		User: s.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(s.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	d := net.Dialer{Timeout: timeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	release := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer release()
	if err := raw.SetDeadline(time.Now().Add(timeout)); err != nil {
		_ = raw.Close()
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(raw, addr, config)
	if err != nil {
		_ = raw.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, interrupted(ctx, err))
	}
	sshConn := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		_ = sshConn.Close()
		return fmt.Errorf("start sftp subsystem: %w", interrupted(ctx, err))
	}
	if !release() {
		_ = client.Close()
		_ = sshConn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	}
	// The session outlives the handshake; a blocked call is ended by Abort.
	if err := raw.SetDeadline(time.Time{}); err != nil {
		_ = client.Close()
		_ = sshConn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	s.raw = raw
	s.sshConn = sshConn
	s.client = client
	return nil
}

func (s *SFTPFileSystem) Close() error {
	var result *multierror.Error
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.client = nil
	}
	if s.sshConn != nil {
		if err := s.sshConn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.sshConn = nil
	}
	return result.ErrorOrNil()
}

// Abort closes the socket under the ssh connection, failing any pending
// request. It is safe to call from another goroutine.
func (s *SFTPFileSystem) Abort() {
	if s.raw != nil {
		_ = s.raw.Close()
	}
}

func (s *SFTPFileSystem) List(dir string) ([]FileEntry, error) {
	entries, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		files = append(files, infoEntry(entry, path.Join(dir, entry.Name())))
	}
	return files, nil
}

func (s *SFTPFileSystem) Stat(p string) (*FileEntry, error) {
	info, err := s.client.Lstat(p)
	if err != nil {
		return nil, err
	}
	fe := infoEntry(info, p)
	return &fe, nil
}

func (s *SFTPFileSystem) Open(p string) (io.ReadCloser, error) {
	f, err := s.client.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SFTPFileSystem) Store(p string, r io.Reader) error {
	f, err := s.client.Create(p)
	if err != nil {
		return err
	}
	if _, err := f.ReadFrom(r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *SFTPFileSystem) MkdirAll(p string) error {
	return s.client.MkdirAll(p)
}

func (s *SFTPFileSystem) Remove(p string) error {
	return s.client.Remove(p)
}

func (s *SFTPFileSystem) RemoveAll(p string) error {
	return s.client.RemoveAll(p)
}

func (s *SFTPFileSystem) Rename(from, to string) error {
	return s.client.Rename(from, to)
}

// infoEntry converts os.FileInfo from either sftp or the local filesystem.
func infoEntry(info os.FileInfo, p string) FileEntry {
	t := EntryTypeFile
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		t = EntryTypeLink
	case info.IsDir():
		t = EntryTypeFolder
	}
	return FileEntry{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Type:    t,
		Path:    p,
	}
}

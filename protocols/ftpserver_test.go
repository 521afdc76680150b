package protocols

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testUser     = "alice"
	testPassword = "secret"
)

// ftpServer is a small passive-mode FTP server over a directory. It speaks
// just enough of the protocol for FTPFileSystem.
type ftpServer struct {
	root string
	l    net.Listener

	// stallList leaves LIST unanswered after the data connection is open.
	stallList bool
	// stallRetr sends retrPrefix and then holds the transfer open until the
	// client drops the data connection.
	stallRetr  bool
	retrPrefix string

	done chan struct{}
	wg   sync.WaitGroup
}

func startFTPServer(t *testing.T, root string, configure ...func(*ftpServer)) *ftpServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &ftpServer{root: root, l: l, done: make(chan struct{})}
	for _, fn := range configure {
		fn(srv)
	}
	srv.wg.Add(1)
	go srv.serve()
	t.Cleanup(func() {
		close(srv.done)
		_ = l.Close()
		srv.wg.Wait()
	})
	return srv
}

func (s *ftpServer) port() int {
	return s.l.Addr().(*net.TCPAddr).Port
}

func (s *ftpServer) client(timeout time.Duration) *FTPFileSystem {
	return &FTPFileSystem{
		Host:     "127.0.0.1",
		Port:     s.port(),
		User:     testUser,
		Password: testPassword,
		Timeout:  timeout,
	}
}

func (s *ftpServer) serve() {
	defer s.wg.Done()
	for {
		c, err := s.l.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(c)
		}()
	}
}

type ftpSession struct {
	srv     *ftpServer
	tc      *textproto.Conn
	cwd     string
	user    string
	renFrom string
	passive net.Listener
}

func (s *ftpServer) handle(c net.Conn) {
	tc := textproto.NewConn(c)
	defer tc.Close()
	go func() {
		<-s.done
		_ = c.Close()
	}()

	sess := &ftpSession{srv: s, tc: tc, cwd: "/"}
	defer sess.closePassive()
	sess.reply(220, "test server ready")
	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		if !sess.dispatch(strings.ToUpper(cmd), arg) {
			return
		}
	}
}

func (s *ftpSession) reply(code int, format string, args ...any) {
	_ = s.tc.PrintfLine("%d %s", code, fmt.Sprintf(format, args...))
}

// resolve maps a client path, absolute or relative to the working
// directory, under the served root.
func (s *ftpSession) resolve(p string) (string, string) {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(s.cwd, p)
	}
	p = path.Clean("/" + p)
	return p, filepath.Join(s.srv.root, filepath.FromSlash(p))
}

func (s *ftpSession) dispatch(cmd, arg string) bool {
	switch cmd {
	case "USER":
		s.user = arg
		s.reply(331, "password required")
	case "PASS":
		if s.user != testUser || arg != testPassword {
			s.reply(530, "Login incorrect")
			return true
		}
		s.reply(230, "logged in")
	case "FEAT":
		s.reply(211, "no features")
	case "TYPE", "OPTS":
		s.reply(200, "ok")
	case "EPSV":
		s.closePassive()
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			s.reply(425, "cannot open passive port")
			return true
		}
		s.passive = l
		s.reply(229, "Entering Extended Passive Mode (|||%d|)", l.Addr().(*net.TCPAddr).Port)
	case "LIST":
		s.list(arg)
	case "RETR":
		s.retr(arg)
	case "STOR":
		s.stor(arg)
	case "PWD":
		s.reply(257, "%q is the current directory", s.cwd)
	case "CWD":
		p, local := s.resolve(arg)
		if info, err := os.Stat(local); err != nil || !info.IsDir() {
			s.reply(550, "%s: no such directory", arg)
			return true
		}
		s.cwd = p
		s.reply(250, "directory changed")
	case "CDUP":
		s.cwd = path.Dir(s.cwd)
		s.reply(250, "directory changed")
	case "MKD":
		p, local := s.resolve(arg)
		if err := os.Mkdir(local, 0755); err != nil {
			s.reply(550, "%s: cannot create", arg)
			return true
		}
		s.reply(257, "%q created", p)
	case "RMD":
		_, local := s.resolve(arg)
		s.result(os.Remove(local), arg)
	case "DELE":
		_, local := s.resolve(arg)
		if info, err := os.Stat(local); err == nil && info.IsDir() {
			s.reply(550, "%s: is a directory", arg)
			return true
		}
		s.result(os.Remove(local), arg)
	case "RNFR":
		_, local := s.resolve(arg)
		if _, err := os.Stat(local); err != nil {
			s.reply(550, "%s: no such file", arg)
			return true
		}
		s.renFrom = local
		s.reply(350, "ready for destination")
	case "RNTO":
		_, local := s.resolve(arg)
		s.result(os.Rename(s.renFrom, local), arg)
		s.renFrom = ""
	case "QUIT":
		s.reply(221, "bye")
		return false
	default:
		s.reply(502, "%s not implemented", cmd)
	}
	return true
}

func (s *ftpSession) result(err error, arg string) {
	if err != nil {
		s.reply(550, "%s: %v", arg, err)
		return
	}
	s.reply(250, "ok")
}

func (s *ftpSession) closePassive() {
	if s.passive != nil {
		_ = s.passive.Close()
		s.passive = nil
	}
}

// accept takes the data connection the client dialed before sending the
// transfer command.
func (s *ftpSession) accept() (net.Conn, error) {
	if s.passive == nil {
		return nil, fmt.Errorf("no passive port")
	}
	defer s.closePassive()
	_ = s.passive.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Second))
	return s.passive.Accept()
}

func (s *ftpSession) list(arg string) {
	data, err := s.accept()
	if err != nil {
		s.reply(425, "no data connection")
		return
	}
	defer data.Close()

	_, local := s.resolve(arg)
	entries, err := os.ReadDir(local)
	if err != nil {
		s.reply(550, "%s: no such directory", arg)
		return
	}
	if s.srv.stallList {
		<-s.srv.done
		return
	}
	s.reply(150, "listing")
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		perm, size := "-rw-r--r--", info.Size()
		if info.IsDir() {
			perm, size = "drwxr-xr-x", 0
		}
		_, _ = fmt.Fprintf(data, "%s 1 ftp ftp %d %s %s\r\n", perm, size, info.ModTime().Format("Jan _2  2006"), e.Name())
	}
	_ = data.Close()
	s.reply(226, "transfer complete")
}

func (s *ftpSession) retr(arg string) {
	data, err := s.accept()
	if err != nil {
		s.reply(425, "no data connection")
		return
	}
	defer data.Close()

	_, local := s.resolve(arg)
	f, err := os.Open(local)
	if err != nil {
		s.reply(550, "%s: no such file", arg)
		return
	}
	defer f.Close()

	s.reply(150, "opening data connection")
	if s.srv.stallRetr {
		go func() {
			<-s.srv.done
			_ = data.Close()
		}()
		_, _ = io.WriteString(data, s.srv.retrPrefix)
		_, _ = io.Copy(io.Discard, data)
		s.reply(426, "transfer aborted")
		return
	}
	if _, err := io.Copy(data, f); err != nil {
		s.reply(426, "transfer aborted")
		return
	}
	_ = data.Close()
	s.reply(226, "transfer complete")
}

func (s *ftpSession) stor(arg string) {
	data, err := s.accept()
	if err != nil {
		s.reply(425, "no data connection")
		return
	}
	defer data.Close()

	_, local := s.resolve(arg)
	f, err := os.Create(local)
	if err != nil {
		s.reply(553, "%s: cannot create", arg)
		return
	}
	s.reply(150, "ready to receive")
	_, copyErr := io.Copy(f, data)
	if err := f.Close(); err != nil || copyErr != nil {
		s.reply(451, "write failed")
		return
	}
	s.reply(226, "transfer complete")
}

package core

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"go.uber.org/zap"

	"ftpgateway/protocols"
)

// Opener opens one authenticated session. Implementations must return a
// ConnectionError when the server cannot be reached or rejects the login.
type Opener interface {
	Open(ctx context.Context, params ConnectionParameters) (protocols.FileSystem, error)
}

// Dialer is the production Opener.
type Dialer struct {
	Timeout               time.Duration
	TLSInsecureSkipVerify bool
	LocalRoot             string
}

func (d *Dialer) Open(ctx context.Context, params ConnectionParameters) (protocols.FileSystem, error) {
	fs, err := d.fileSystem(params)
	if err != nil {
		return nil, err
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	if err := fs.Init(ctx); err != nil {
		return nil, connectionError(err, "cannot open %s session to %s", params.Protocol, params.Address())
	}
	return fs, nil
}

func (d *Dialer) fileSystem(params ConnectionParameters) (protocols.FileSystem, error) {
	switch params.Protocol {
	case ProtocolFTP, ProtocolFTPS:
		fs := &protocols.FTPFileSystem{
			Host:     params.Host,
			Port:     params.Port,
			User:     params.User,
			Password: params.Password,
			Timeout:  d.Timeout,
		}
		if params.Protocol == ProtocolFTPS {
			fs.ExplicitTLS = true
			fs.TLSConfig = &tls.Config{
				ServerName:         params.Host,
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: d.TLSInsecureSkipVerify,
			}
		}
		return fs, nil
	case ProtocolSFTP:
		return &protocols.SFTPFileSystem{
			Host:     params.Host,
			Port:     params.Port,
			User:     params.User,
			Password: params.Password,
			Timeout:  d.Timeout,
		}, nil
	case ProtocolLocal:
		if d.LocalRoot == "" {
			return nil, configurationError("protocol local has no root directory")
		}
		return &protocols.LocalFileSystem{RootPath: d.LocalRoot}, nil
	default:
		return nil, configurationError("unknown protocol %s", params.Protocol)
	}
}

// session guards a FileSystem so that Close is idempotent, safe to call from
// any goroutine and never reports an error.
type session struct {
	protocols.FileSystem
	log  *zap.Logger
	once sync.Once
}

func newSession(fs protocols.FileSystem, log *zap.Logger) *session {
	return &session{FileSystem: fs, log: log}
}

func (s *session) Close() error {
	s.once.Do(func() {
		if err := s.FileSystem.Close(); err != nil {
			s.log.Warn("closing session", zap.Error(err))
		}
	})
	return nil
}

// abort drops the transport under any blocked command. Close still runs
// when the request ends.
func (s *session) abort() {
	s.log.Debug("aborting session")
	s.FileSystem.Abort()
}

// abortRead unblocks a pending read on rc: a deadline when the reader
// supports one, otherwise the whole session is aborted.
func (s *session) abortRead(rc any) func() {
	return func() {
		if d, ok := rc.(interface{ SetDeadline(time.Time) error }); ok {
			if err := d.SetDeadline(time.Now()); err == nil {
				return
			}
		}
		s.abort()
	}
}

package core

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"go.uber.org/zap"

	"ftpgateway/protocols"
)

// ResultWriter receives exactly one result variant per request: a listing,
// a download stream, or a success marker.
type ResultWriter interface {
	WriteEntries(entries []DirectoryEntry) error
	// BeginDownload announces a download; bytes written to the returned
	// writer form the file body.
	BeginDownload(fileName string) (io.Writer, error)
	WriteSuccess() error
}

// Command is one parsed operation. The set of variants is closed: execute is
// unexported, so only this package can add one.
type Command interface {
	Operation() Operation
	Target() string
	execute(ctx context.Context, env *execEnv) (int64, error)
}

type execEnv struct {
	sess    *session
	conduit *Conduit
	out     ResultWriter
}

type ListCommand struct{ Path string }

func (c *ListCommand) Operation() Operation { return OpList }
func (c *ListCommand) Target() string       { return c.Path }

func (c *ListCommand) execute(_ context.Context, env *execEnv) (int64, error) {
	entries, err := env.sess.List(c.Path)
	if err != nil {
		return 0, transferError(err, "listing %s", c.Path)
	}
	return 0, env.out.WriteEntries(NormalizeEntries(entries))
}

type DownloadCommand struct{ Path string }

func (c *DownloadCommand) Operation() Operation { return OpDownload }
func (c *DownloadCommand) Target() string       { return c.Path }

func (c *DownloadCommand) execute(ctx context.Context, env *execEnv) (int64, error) {
	rc, err := env.sess.Open(c.Path)
	if err != nil {
		return 0, transferError(err, "retrieving %s", c.Path)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			env.sess.log.Debug("closing data channel", zap.String("path", c.Path), zap.Error(err))
		}
	}()

	w, err := env.out.BeginDownload(downloadName(c.Path))
	if err != nil {
		return 0, err
	}
	return env.conduit.Pump(ctx, w, rc, env.sess.abortRead(rc))
}

type UploadCommand struct {
	Path    string
	Content []byte
}

func (c *UploadCommand) Operation() Operation { return OpUpload }
func (c *UploadCommand) Target() string       { return c.Path }

func (c *UploadCommand) execute(ctx context.Context, env *execEnv) (int64, error) {
	if err := env.sess.Store(c.Path, env.conduit.Feed(ctx, c.Content)); err != nil {
		if ctx.Err() != nil {
			return 0, transferError(ctx.Err(), "upload to %s canceled", c.Path)
		}
		return 0, transferError(err, "storing %s", c.Path)
	}
	return int64(len(c.Content)), env.out.WriteSuccess()
}

// DeleteCommand decides between a file and a recursive directory removal by
// looking at the target first. The check and the removal are not atomic.
// A link is removed as a single entry, never followed.
type DeleteCommand struct{ Path string }

func (c *DeleteCommand) Operation() Operation { return OpDelete }
func (c *DeleteCommand) Target() string       { return c.Path }

func (c *DeleteCommand) execute(_ context.Context, env *execEnv) (int64, error) {
	entry, err := env.sess.Stat(c.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, transferError(err, "inspecting %s", c.Path)
	}
	if entry != nil && entry.Type == protocols.EntryTypeFolder {
		if err := env.sess.RemoveAll(c.Path); err != nil {
			return 0, transferError(err, "removing directory %s", c.Path)
		}
	} else if err := env.sess.Remove(c.Path); err != nil {
		return 0, transferError(err, "removing file %s", c.Path)
	}
	return 0, env.out.WriteSuccess()
}

type CreateDirCommand struct{ Path string }

func (c *CreateDirCommand) Operation() Operation { return OpCreateDir }
func (c *CreateDirCommand) Target() string       { return c.Path }

func (c *CreateDirCommand) execute(_ context.Context, env *execEnv) (int64, error) {
	if c.Path != "/" {
		if err := env.sess.MkdirAll(c.Path); err != nil {
			return 0, transferError(err, "creating directory %s", c.Path)
		}
	}
	return 0, env.out.WriteSuccess()
}

type RenameCommand struct {
	Path        string
	Destination string
}

func (c *RenameCommand) Operation() Operation { return OpRename }
func (c *RenameCommand) Target() string       { return c.Path }

func (c *RenameCommand) execute(_ context.Context, env *execEnv) (int64, error) {
	if err := env.sess.Rename(c.Path, c.Destination); err != nil {
		return 0, transferError(err, "renaming %s to %s", c.Path, c.Destination)
	}
	return 0, env.out.WriteSuccess()
}

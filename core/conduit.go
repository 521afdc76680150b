package core

import (
	"bytes"
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultChunkSize = 32 * 1024
	DefaultDepth     = 8
)

// Conduit moves bytes between a remote session and the caller through a
// bounded queue of reusable chunks. At most depth+2 chunks are in flight, so
// a slow consumer stalls the remote read instead of growing memory.
type Conduit struct {
	chunkSize int
	depth     int
	limiter   *rate.Limiter
}

// NewConduit builds a conduit. bytesPerSecond <= 0 disables throttling.
func NewConduit(chunkSize, depth, bytesPerSecond int) *Conduit {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	c := &Conduit{chunkSize: chunkSize, depth: depth}
	if bytesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), max(bytesPerSecond, chunkSize))
	}
	return c
}

// Pump streams src into dst until EOF. When ctx is canceled or one side
// fails, abort is called to unblock a pending read on src; Pump returns only
// after both goroutines have stopped.
func (c *Conduit) Pump(ctx context.Context, dst io.Writer, src io.Reader, abort func()) (int64, error) {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, abort)
	defer stop()

	free := make(chan []byte, c.depth+2)
	for i := 0; i < cap(free); i++ {
		free <- make([]byte, c.chunkSize)
	}
	chunks := make(chan []byte, c.depth)

	var (
		g                errgroup.Group
		written          int64
		readErr, sendErr error
	)
	g.Go(func() error {
		defer close(chunks)
		readErr = c.produce(ctx, src, free, chunks)
		if readErr != nil {
			cancel()
		}
		return readErr
	})
	g.Go(func() error {
		written, sendErr = c.consume(ctx, dst, free, chunks)
		if sendErr != nil {
			cancel()
		}
		return sendErr
	})
	_ = g.Wait()

	// The side that failed first cancels the other, which then reports
	// context.Canceled; report the original failure.
	switch {
	case parent.Err() != nil:
		return written, transferError(parent.Err(), "download canceled after %d bytes", written)
	case readErr != nil && !errors.Is(readErr, context.Canceled):
		return written, readErr
	case sendErr != nil:
		return written, sendErr
	case readErr != nil:
		return written, readErr
	}
	return written, nil
}

func (c *Conduit) produce(ctx context.Context, src io.Reader, free chan []byte, chunks chan<- []byte) error {
	for {
		var buf []byte
		select {
		case buf = <-free:
		case <-ctx.Done():
			return ctx.Err()
		}

		n, err := src.Read(buf[:cap(buf)])
		if n > 0 {
			select {
			case chunks <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			free <- buf
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return transferError(err, "reading remote file")
		}
	}
}

func (c *Conduit) consume(ctx context.Context, dst io.Writer, free chan<- []byte, chunks <-chan []byte) (int64, error) {
	var written int64
	for chunk := range chunks {
		if c.limiter != nil {
			if err := c.limiter.WaitN(ctx, len(chunk)); err != nil {
				return written, err
			}
		}
		n, err := dst.Write(chunk)
		written += int64(n)
		free <- chunk[:cap(chunk)]
		if err != nil {
			return written, transferError(err, "writing response")
		}
	}
	return written, nil
}

// Feed wraps an in-memory payload for Store. Reads stop with ctx's error
// once ctx is canceled and are paced by the conduit's limiter.
func (c *Conduit) Feed(ctx context.Context, payload []byte) io.Reader {
	return &feedReader{ctx: ctx, r: bytes.NewReader(payload), chunkSize: c.chunkSize, limiter: c.limiter}
}

type feedReader struct {
	ctx       context.Context
	r         *bytes.Reader
	chunkSize int
	limiter   *rate.Limiter
}

func (f *feedReader) Read(p []byte) (int, error) {
	if err := f.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > f.chunkSize {
		p = p[:f.chunkSize]
	}
	if f.limiter != nil && f.r.Len() > 0 {
		if err := f.limiter.WaitN(f.ctx, min(len(p), f.r.Len())); err != nil {
			return 0, err
		}
	}
	return f.r.Read(p)
}

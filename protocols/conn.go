package protocols

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// idleConn bounds every Read and Write by timeout, so a server that stops
// talking fails the pending call instead of blocking it forever.
//
// An explicit SetDeadline on the control connection applies to the next I/O
// only. On a data connection (abortable) it sticks: that is how a stalled
// transfer is aborted, and later reads must not push it back.
type idleConn struct {
	net.Conn
	timeout   time.Duration
	abortable bool

	mu       sync.Mutex
	pinned   bool
	explicit bool
}

func (c *idleConn) Read(b []byte) (int, error) {
	c.extend()
	return c.Conn.Read(b)
}

func (c *idleConn) Write(b []byte) (int, error) {
	c.extend()
	return c.Conn.Write(b)
}

func (c *idleConn) extend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned || c.timeout <= 0 {
		return
	}
	if c.explicit {
		c.explicit = false
		return
	}
	_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
}

func (c *idleConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abortable {
		c.pinned = true
	} else {
		c.explicit = !t.IsZero()
	}
	return c.Conn.SetDeadline(t)
}

// interrupted prefers the context error when ctx ended the call, since the
// transport error is then only a symptom.
func interrupted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}

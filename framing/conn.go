// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Conn exchanges frames over a connected stream, applying a deadline to
// each frame and aborting blocked I/O when the caller's context ends.
type Conn struct {
	conn    net.Conn
	max     uint32
	timeout time.Duration
}

// ConnOption configures a Conn.
type ConnOption func(c *Conn)

// WithMaxFrameSize sets the largest payload Recv will accept.
func WithMaxFrameSize(max uint32) ConnOption {
	return func(c *Conn) {
		c.max = max
	}
}

// WithTimeout bounds the time allowed to send or receive one frame.
// Zero disables the per-frame deadline.
func WithTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		c.timeout = d
	}
}

// NewConn wraps an established connection.  The caller keeps ownership of
// conn and remains responsible for closing it.
func NewConn(conn net.Conn, opts ...ConnOption) *Conn {
	c := &Conn{conn: conn, max: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// MaxFrameSize reports the receive limit in effect.
func (c *Conn) MaxFrameSize() uint32 {
	if c.max == 0 {
		return DefaultMaxFrameSize
	}
	return c.max
}

// Send writes tok as one frame.
func (c *Conn) Send(ctx context.Context, tok []byte) error {
	if uint64(len(tok)) > uint64(c.MaxFrameSize()) {
		return fmt.Errorf("sending %d byte token, limit %d: %w", len(tok), c.MaxFrameSize(), ErrFrameTooLarge)
	}

	return c.withDeadline(ctx, func() error {
		return WriteFrame(c.conn, tok)
	})
}

// Recv reads one frame and returns its payload.
func (c *Conn) Recv(ctx context.Context) (tok []byte, err error) {
	err = c.withDeadline(ctx, func() error {
		tok, err = ReadFrame(c.conn, c.MaxFrameSize())
		return err
	})

	return tok, err
}

func (c *Conn) withDeadline(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if !deadline.IsZero() {
		// a stream whose peer has gone may refuse deadlines; the frame
		// operation then reports the real condition
		if err := c.conn.SetDeadline(deadline); err == nil {
			defer c.conn.SetDeadline(time.Time{}) //nolint:errcheck
		}
	}

	// a deadline in the past unblocks any pending Read or Write
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	err := op()
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}

	return err
}

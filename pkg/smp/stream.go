// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// idlePoll is how long a loop waits after a transport returned no bytes and no error
const idlePoll = time.Millisecond

// ReadDeadliner is implemented by transports that can bound a blocked Read
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// WriteDeadliner is implemented by transports that can bound a blocked Write
type WriteDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// ioResult is the outcome of a Read or Write run on its own goroutine
type ioResult struct {
	buf []byte
	n   int
	err error
}

// withTimeout applies the configured operation timeout to ctx
func (c *Channel) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// armReadDeadline hands the context deadline to the transport when it supports
// one. It reports whether the deadline was taken; the returned func clears it.
func (c *Channel) armReadDeadline(ctx context.Context) (func(), bool) {
	rd, ok := c.rw.(ReadDeadliner)
	if !ok {
		return func() {}, false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return func() {}, false
	}
	if err := rd.SetReadDeadline(deadline); err != nil {
		return func() {}, false
	}
	return func() { _ = rd.SetReadDeadline(time.Time{}) }, true
}

// loopCheck is run once per iteration of every blocking loop
func loopCheck(ctx context.Context, op string) (LocalStatus, error) {
	switch err := ctx.Err(); {
	case err == nil:
		return LocalOk, nil
	case errors.Is(err, context.DeadlineExceeded):
		return LocalTimeout, nil
	default:
		return LocalOk, fmt.Errorf("%s: %w", op, err)
	}
}

// isTimeout reports whether a transport error is a read/write deadline expiry
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// idle waits briefly before the next poll of a quiet transport
func idle(ctx context.Context) {
	t := time.NewTimer(idlePoll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// read fills p from bytes held over by an earlier read, from a read still in
// flight, or from a new Read. Unless the transport took a deadline the Read
// runs on its own goroutine; when ctx ends first it stays in flight for the
// next call and read returns (0, nil).
func (c *Channel) read(ctx context.Context, p []byte, armed bool) (int, error) {
	if len(c.leftover) > 0 {
		n := copy(p, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}
	if armed && c.pendingRead == nil {
		return c.rw.Read(p)
	}

	if c.pendingRead == nil {
		ch := make(chan ioResult, 1)
		go func(buf []byte) {
			n, err := c.rw.Read(buf)
			ch <- ioResult{buf: buf, n: n, err: err}
		}(make([]byte, len(p)))
		c.pendingRead = ch
	}

	select {
	case <-ctx.Done():
		return 0, nil
	case res := <-c.pendingRead:
		c.pendingRead = nil
		n := copy(p, res.buf[:res.n])
		c.leftover = res.buf[n:res.n]
		return n, res.err
	}
}

// write hands p to the transport. A transport without a write deadline is
// written from its own goroutine; when ctx ends first the write stays in
// flight, write returns (0, nil) and the next write waits for it.
func (c *Channel) write(ctx context.Context, p []byte) (int, error) {
	if wd, ok := c.rw.(WriteDeadliner); ok && c.pendingWrite == nil {
		if deadline, ok := ctx.Deadline(); ok && wd.SetWriteDeadline(deadline) == nil {
			defer func() { _ = wd.SetWriteDeadline(time.Time{}) }()
			return c.rw.Write(p)
		}
	}

	if c.pendingWrite != nil {
		select {
		case <-ctx.Done():
			return 0, nil
		case <-c.pendingWrite:
			c.pendingWrite = nil
		}
	}

	ch := make(chan ioResult, 1)
	go func(buf []byte) {
		n, err := c.rw.Write(buf)
		ch <- ioResult{n: n, err: err}
	}(bytes.Clone(p))

	select {
	case <-ctx.Done():
		c.pendingWrite = ch
		return 0, nil
	case res := <-ch:
		return res.n, res.err
	}
}

// readFull reads exactly len(buf) bytes, tolerating partial reads.
// It returns the count read so far with LocalTimeout when ctx expires first.
func (c *Channel) readFull(ctx context.Context, op string, buf []byte) (int, LocalStatus, error) {
	disarm, armed := c.armReadDeadline(ctx)
	defer disarm()

	n := 0
	for n < len(buf) {
		if st, err := loopCheck(ctx, op); st != LocalOk || err != nil {
			return n, st, err
		}

		m, err := c.read(ctx, buf[n:], armed)
		n += m
		c.config.Statistics.addReceived(m)
		if err != nil {
			if isTimeout(err) {
				return n, LocalTimeout, nil
			}
			return n, LocalOk, &TransportError{Op: op, Err: err}
		}
		if m == 0 {
			idle(ctx)
		}
	}
	return n, LocalOk, nil
}

// drain discards n bytes so the stream stays framed after a rejected header
func (c *Channel) drain(ctx context.Context, op string, n int) (LocalStatus, error) {
	var sink [256]byte
	for n > 0 {
		chunk := len(sink)
		if n < chunk {
			chunk = n
		}
		m, st, err := c.readFull(ctx, op, sink[:chunk])
		n -= m
		if st != LocalOk || err != nil {
			return st, err
		}
	}
	return LocalOk, nil
}

// writeAll writes buf, retrying partial writes until everything is accepted
func (c *Channel) writeAll(ctx context.Context, op string, buf []byte) (int, LocalStatus, error) {
	n := 0
	for n < len(buf) {
		if st, err := loopCheck(ctx, op); st != LocalOk || err != nil {
			return n, st, err
		}

		m, err := c.write(ctx, buf[n:])
		n += m
		c.config.Statistics.addSent(m)
		if err != nil {
			if isTimeout(err) {
				return n, LocalTimeout, nil
			}
			return n, LocalOk, &TransportError{Op: op, Err: err}
		}
		if m == 0 {
			idle(ctx)
		}
	}
	return n, LocalOk, nil
}

// writeOnce writes buf in a single call. A short write is ErrWriteIncomplete;
// it is not retried.
func (c *Channel) writeOnce(ctx context.Context, op string, buf []byte) error {
	if st, err := loopCheck(ctx, op); err != nil {
		return err
	} else if st != LocalOk {
		return &LocalError{Op: op, Status: st}
	}

	n, err := c.write(ctx, buf)
	c.config.Statistics.addSent(n)
	if err != nil {
		if isTimeout(err) {
			return &LocalError{Op: op, Status: LocalTimeout}
		}
		return &TransportError{Op: op, Err: err}
	}
	if n == 0 {
		if st, err := loopCheck(ctx, op); err != nil {
			return err
		} else if st != LocalOk {
			return &LocalError{Op: op, Status: st}
		}
	}
	if n != len(buf) {
		return fmt.Errorf("%s: %w (%d of %d bytes)", op, ErrWriteIncomplete, n, len(buf))
	}
	return nil
}

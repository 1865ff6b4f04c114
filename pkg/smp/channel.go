// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// State is the channel's position in the session lifecycle
type State int

// Channel states. Connected is the idle state between requests.
const (
	StateUnconnected State = iota
	StateHandshaking
	StateConnected
	StateLoadingStart
	StateLoadingChunk
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateLoadingStart:
		return "loading-start"
	case StateLoadingChunk:
		return "loading-chunk"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Channel drives one SMP session over a byte stream. The channel does not own
// the stream; closing the channel sends goodbye but leaves the stream open.
//
// A Channel is not safe for concurrent use.
type Channel struct {
	rw      io.ReadWriter
	config  Config
	log     *slog.Logger
	state   State
	session Session

	// scratch holds outgoing frames and body holds load payloads.
	// Both are sized to the negotiated max packet size and reused.
	scratch []byte
	body    []byte

	// transfer is the one announced by the last StartLoad
	transfer *Transfer

	// Transport calls abandoned at a deadline, collected by the next call
	pendingRead  chan ioResult
	pendingWrite chan ioResult
	leftover     []byte
}

// NewChannel creates a channel over rw. rw must not be nil.
//
// Operations are bounded by the context and the configured timeout. When rw
// implements ReadDeadliner or WriteDeadliner the deadline is handed to it;
// otherwise the blocking call runs on its own goroutine and is left in flight
// when the deadline passes. Bytes it later returns are kept for the next read.
func NewChannel(rw io.ReadWriter, opts ...Option) *Channel {
	if rw == nil {
		panic("smp: transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Channel{
		rw:     rw,
		config: cfg,
		log:    cfg.Logger,
		state:  StateUnconnected,
	}
}

// State returns the current lifecycle state
func (c *Channel) State() State {
	return c.state
}

// Session returns the negotiated session parameters and whether a handshake completed
func (c *Channel) Session() (Session, bool) {
	switch c.state {
	case StateConnected, StateLoadingStart, StateLoadingChunk:
		return c.session, true
	}
	return c.session, false
}

// Values renders the session parameters: start word, max packet size, connection id
func (c *Channel) Values() string {
	return c.session.String()
}

// Statistics returns the attached statistics tracker, nil if none
func (c *Channel) Statistics() *Statistics {
	return c.config.Statistics
}

func (c *Channel) require(op string, allowed ...State) error {
	if c.state == StateClosed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	return fmt.Errorf("%s: %w (%s)", op, ErrInvalidState, c.state)
}

// encode builds a frame for the current session in the scratch buffer
func (c *Channel) encode(action Action, payload []byte) ([]byte, error) {
	frame, err := AppendFrame(c.scratch[:0], &c.session, action, payload)
	if err != nil {
		return nil, err
	}
	c.scratch = frame[:0]
	return frame, nil
}

// sendOnce encodes and writes a frame that must go out in a single write
func (c *Channel) sendOnce(ctx context.Context, op string, action Action, payload []byte) error {
	frame, err := c.encode(action, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.writeOnce(ctx, op, frame); err != nil {
		c.log.Debug("frame write failed", "op", op, "action", FormatActionType(action), "error", err)
		return err
	}
	c.config.Statistics.frameSent()
	c.log.Debug("frame sent", "op", op, "action", FormatActionType(action), "length", len(frame))
	return nil
}

// Handshake writes the handshake preamble. It must be followed by HandshakeAnswer.
// A handshake whose answer was rejected may be retried.
func (c *Channel) Handshake(ctx context.Context) error {
	if err := c.require("handshake", StateUnconnected, StateHandshaking); err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.writeOnce(ctx, "handshake", handshakePreamble[:]); err != nil {
		return err
	}
	c.config.Statistics.frameSent()
	c.state = StateHandshaking
	c.log.Debug("handshake sent")
	return nil
}

// HandshakeAnswer reads the device's handshake answer and, if the preamble
// matches, stores the session parameters it carries. The session is left
// untouched on any other outcome.
func (c *Channel) HandshakeAnswer(ctx context.Context) (LocalStatus, error) {
	if err := c.require("handshake answer", StateHandshaking); err != nil {
		return LocalOk, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var buf [HandshakeAnswerSize]byte
	_, st, err := c.readFull(ctx, "handshake answer", buf[:])
	if err != nil {
		return LocalOk, err
	}
	if st != LocalOk {
		c.config.Statistics.frameReceived(st)
		return st, nil
	}

	session, st := ParseHandshakeAnswer(buf[:])
	c.config.Statistics.frameReceived(st)
	if st != LocalOk {
		c.log.Debug("handshake answer rejected", "status", st.String())
		return st, nil
	}

	c.session = session
	size := int(session.MaxPacketSize)
	if size < AnswerSize {
		size = AnswerSize
	}
	c.scratch = make([]byte, 0, size)
	c.body = make([]byte, 0, size)
	c.state = StateConnected
	c.log.Debug("session established",
		"start_word", fmt.Sprintf("0x%08X", session.StartWord),
		"max_packet_size", session.MaxPacketSize,
		"connection_id", session.ConnectionID,
	)
	return LocalOk, nil
}

// Peripheral sends an LED command. The answer is read separately with ReadFrame.
func (c *Channel) Peripheral(ctx context.Context, msg LedMessage) error {
	if err := c.require("peripheral", StateConnected); err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return c.sendOnce(ctx, "peripheral", ActionPeripheral, []byte{msg.Byte()})
}

// StartLoad announces a transfer: it fixes the whole-payload hash and sends
// the total size and hash the device will check the finished upload against.
// Starting a new load abandons any load in progress.
func (c *Channel) StartLoad(ctx context.Context, t *Transfer) error {
	if err := c.require("start load", StateConnected, StateLoadingStart, StateLoadingChunk); err != nil {
		return err
	}
	if c.session.MaxChunk() == 0 {
		return fmt.Errorf("start load: %w: max packet size %d leaves no room for data",
			ErrInvalidLength, c.session.MaxPacketSize)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := StartLoadBody{WholeMsgSize: t.Size(), WholeMsgHash: t.Hash()}
	if err := c.sendOnce(ctx, "start load", ActionStartLoad, body.AppendTo(nil)); err != nil {
		return err
	}
	c.state = StateLoadingStart
	c.transfer = t
	c.log.Debug("load started", "size", t.Size(), "hash", fmt.Sprintf("0x%08X", t.Hash()))
	return nil
}

// Load sends the next chunk of t, which must be the transfer announced by the
// last StartLoad. It returns LocalNothingToWrite once the whole payload has
// been sent, and keeps returning it on further calls. Load never reads; the
// caller reads the device's acknowledgement between calls.
func (c *Channel) Load(ctx context.Context, t *Transfer) (LocalStatus, error) {
	allowed := []State{StateLoadingStart, StateLoadingChunk}
	if t.Done() {
		allowed = append(allowed, StateConnected)
	}
	if err := c.require("load", allowed...); err != nil {
		return LocalOk, err
	}
	if t != c.transfer {
		return LocalOk, fmt.Errorf("load: %w: transfer was not announced by start load", ErrInvalidState)
	}
	if t.Done() {
		c.state = StateConnected
		return LocalNothingToWrite, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	chunk := t.nextChunk(c.session.MaxChunk())
	hdr := LoadChunkHeader{PacketID: t.NextPacketID(), MsgHash: t.Hash()}
	c.body = append(hdr.AppendTo(c.body[:0]), chunk...)

	frame, err := c.encode(ActionLoading, c.body)
	if err != nil {
		return LocalOk, fmt.Errorf("load: %w", err)
	}

	_, st, err := c.writeAll(ctx, "load", frame)
	if err != nil || st != LocalOk {
		return st, err
	}

	t.advance(len(chunk))
	c.state = StateLoadingChunk
	c.config.Statistics.frameSent()
	c.config.Statistics.chunkSent(len(chunk))
	c.log.Debug("chunk sent", "packet_id", hdr.PacketID, "bytes", len(chunk), "written", t.Written(), "size", t.Size())
	return LocalOk, nil
}

// ReadFrame reads one answer frame for the requested action into buf.
// The header is checked against the session before the payload is read. When
// the check fails, the declared remainder of the frame is read and discarded so
// the next read starts on a frame boundary; buf then holds only the header.
// The returned error is set only for transport failures.
func (c *Channel) ReadFrame(ctx context.Context, buf []byte, requested Action) (ReadResult, error) {
	if err := c.require("read", StateConnected, StateLoadingStart, StateLoadingChunk); err != nil {
		return ReadResult{}, err
	}
	if len(buf) < HeaderSize {
		return ReadResult{}, fmt.Errorf("read: %w: buffer of %d bytes cannot hold a header", ErrInvalidLength, len(buf))
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, st, err := c.readFull(ctx, "read", buf[:HeaderSize])
	if err != nil {
		return ReadResult{AnswerSize: n}, err
	}
	if st != LocalOk {
		c.config.Statistics.frameReceived(st)
		return ReadResult{Local: st, AnswerSize: n}, nil
	}

	h, _ := ParseHeader(buf)
	if st := CheckHeader(h, c.session, requested, len(buf)); st != LocalOk {
		c.config.Statistics.frameReceived(st)
		c.log.Debug("answer header rejected", "status", st.String(), "header", FormatHeader(h))
		if _, err := c.drain(ctx, "read", h.PayloadLength()); err != nil {
			return ReadResult{Local: st, AnswerSize: HeaderSize}, err
		}
		return ReadResult{Local: st, AnswerSize: HeaderSize}, nil
	}

	total := HeaderSize + h.PayloadLength()
	n, st, err = c.readFull(ctx, "read", buf[HeaderSize:total])
	if err != nil {
		return ReadResult{AnswerSize: HeaderSize + n}, err
	}
	if st != LocalOk {
		c.config.Statistics.frameReceived(st)
		return ReadResult{Local: st, AnswerSize: HeaderSize + n}, nil
	}

	if !verifyRaw(buf[:total]) {
		c.config.Statistics.frameReceived(LocalWrongHash)
		return ReadResult{Local: LocalWrongHash, AnswerSize: total}, nil
	}

	c.config.Statistics.frameReceived(LocalOk)
	c.log.Debug("answer received", "action", FormatActionType(requested), "length", total)
	return ReadResult{Local: LocalOk, AnswerSize: total}, nil
}

// Boot asks the device to leave the bootloader and start the loaded image.
// The device restarts instead of answering.
func (c *Channel) Boot(ctx context.Context) error {
	if err := c.require("boot", StateConnected); err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return c.sendOnce(ctx, "boot", ActionBoot, nil)
}

// Goodbye sends the goodbye frame and closes the channel. Any answer is
// ignored. It reports whether the whole frame was written.
func (c *Channel) Goodbye(ctx context.Context) bool {
	if c.state == StateClosed {
		return false
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.sendOnce(ctx, "goodbye", ActionGoodbye, nil)
	c.state = StateClosed
	return err == nil
}

// Close tears the channel down with a best-effort goodbye. Failures are
// logged, not returned. Closing twice is a no-op.
func (c *Channel) Close() error {
	if c.state == StateClosed {
		return nil
	}
	if !c.Goodbye(context.Background()) {
		c.log.Warn("goodbye not delivered")
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction is the side of the link a captured chunk travelled on
type Direction uint8

const (
	// DirectionTX is host to device
	DirectionTX Direction = 0
	// DirectionRX is device to host
	DirectionRX Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionTX:
		return "TX"
	case DirectionRX:
		return "RX"
	default:
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
}

// CaptureRecord is one read or write as seen on the transport.
// Records are stored as a sequence of CBOR maps with integer keys.
type CaptureRecord struct {
	Time      time.Time `cbor:"0,keyasint"`
	Direction Direction `cbor:"1,keyasint"`
	Data      []byte    `cbor:"2,keyasint"`
}

// Recorder wraps a transport and logs every chunk of traffic to a capture
// stream. Capture failures never fail the wrapped transport; the first one is
// kept and reported by Err.
type Recorder struct {
	rw  io.ReadWriter
	enc *cbor.Encoder
	now func() time.Time

	mu  sync.Mutex
	err error
}

// NewRecorder creates a recorder that forwards to rw and writes records to w
func NewRecorder(rw io.ReadWriter, w io.Writer) (*Recorder, error) {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("capture encoder: %w", err)
	}
	return &Recorder{
		rw:  rw,
		enc: em.NewEncoder(w),
		now: time.Now,
	}, nil
}

// Read reads from the wrapped transport and records what arrived
func (r *Recorder) Read(p []byte) (int, error) {
	n, err := r.rw.Read(p)
	if n > 0 {
		r.record(DirectionRX, p[:n])
	}
	return n, err
}

// Write writes to the wrapped transport and records what was accepted
func (r *Recorder) Write(p []byte) (int, error) {
	n, err := r.rw.Write(p)
	if n > 0 {
		r.record(DirectionTX, p[:n])
	}
	return n, err
}

// SetReadDeadline forwards to the wrapped transport. It fails with
// ErrNoDeadline when the transport has no read deadline.
func (r *Recorder) SetReadDeadline(t time.Time) error {
	if rd, ok := r.rw.(ReadDeadliner); ok {
		return rd.SetReadDeadline(t)
	}
	return ErrNoDeadline
}

// SetWriteDeadline forwards to the wrapped transport. It fails with
// ErrNoDeadline when the transport has no write deadline.
func (r *Recorder) SetWriteDeadline(t time.Time) error {
	if wd, ok := r.rw.(WriteDeadliner); ok {
		return wd.SetWriteDeadline(t)
	}
	return ErrNoDeadline
}

// Err returns the first error hit while writing the capture
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) record(dir Direction, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	rec := CaptureRecord{
		Time:      r.now(),
		Direction: dir,
		Data:      bytes.Clone(data),
	}
	if err := r.enc.Encode(rec); err != nil {
		r.err = fmt.Errorf("capture write: %w", err)
	}
}

// ReadCapture decodes every record of a capture stream. Records decoded before
// a truncated or corrupt record are returned along with the error.
func ReadCapture(rd io.Reader) ([]CaptureRecord, error) {
	dec := cbor.NewDecoder(rd)
	var records []CaptureRecord
	for {
		var rec CaptureRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("capture record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}

// JoinStream concatenates the data of every record in one direction
func JoinStream(records []CaptureRecord, dir Direction) []byte {
	var out []byte
	for _, rec := range records {
		if rec.Direction == dir {
			out = append(out, rec.Data...)
		}
	}
	return out
}

// ItemKind classifies a piece of a reassembled stream
type ItemKind int

const (
	ItemPreamble ItemKind = iota
	ItemHandshakeAnswer
	ItemFrame
	ItemTrailing // bytes that do not make up a whole frame
)

// StreamItem is one protocol unit found in a captured stream
type StreamItem struct {
	Direction Direction
	Kind      ItemKind
	Offset    int
	Raw       []byte

	Session Session // ItemHandshakeAnswer only
	Frame   Frame   // ItemFrame only
}

// SplitStream cuts one direction of a captured session into protocol units.
// In a TX stream every handshake preamble, and in an RX stream every handshake
// answer, is reported as its own item; everything else is frames delimited by
// packet length. Splitting stops with an error at a header whose length cannot
// be framed.
func SplitStream(dir Direction, data []byte) ([]StreamItem, error) {
	var items []StreamItem
	off := 0

	for off < len(data) {
		rest := data[off:]
		if item, n := splitHandshake(dir, rest); n > 0 {
			item.Offset = off
			items = append(items, item)
			off += n
			continue
		}
		if len(rest) < HeaderSize {
			items = append(items, StreamItem{Direction: dir, Kind: ItemTrailing, Offset: off, Raw: rest})
			break
		}
		h, _ := ParseHeader(rest)
		if h.PacketLength < HeaderSize {
			return items, fmt.Errorf("%w: frame at offset %d declares length %d", ErrInvalidLength, off, h.PacketLength)
		}
		if uint64(h.PacketLength) > uint64(len(rest)) {
			items = append(items, StreamItem{Direction: dir, Kind: ItemTrailing, Offset: off, Raw: rest})
			break
		}
		raw := rest[:h.PacketLength]
		items = append(items, StreamItem{
			Direction: dir,
			Kind:      ItemFrame,
			Offset:    off,
			Raw:       raw,
			Frame:     Frame{Header: h, Payload: raw[HeaderSize:]},
		})
		off += int(h.PacketLength)
	}

	return items, nil
}

// splitHandshake recognises a handshake unit at the start of b and returns it
// with its length, or 0 when b does not start with one
func splitHandshake(dir Direction, b []byte) (StreamItem, int) {
	if len(b) < HandshakeSize || !bytes.Equal(b[:HandshakeSize], handshakePreamble[:]) {
		return StreamItem{}, 0
	}
	switch dir {
	case DirectionTX:
		return StreamItem{Direction: dir, Kind: ItemPreamble, Raw: b[:HandshakeSize]}, HandshakeSize
	case DirectionRX:
		if len(b) < HandshakeAnswerSize {
			return StreamItem{}, 0
		}
		s, st := ParseHandshakeAnswer(b[:HandshakeAnswerSize])
		if st != LocalOk {
			return StreamItem{}, 0
		}
		return StreamItem{Direction: dir, Kind: ItemHandshakeAnswer, Raw: b[:HandshakeAnswerSize], Session: s}, HandshakeAnswerSize
	}
	return StreamItem{}, 0
}

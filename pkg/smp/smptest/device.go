// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package smptest provides a simulated SMP device for exercising hosts
// without hardware.
package smptest

import (
	"bytes"
	"sync"
	"time"

	"github.com/Thermoquad/smpctl/pkg/smp"
)

// DefaultLEDCount is the number of LEDs a new Device exposes
const DefaultLEDCount = 4

// DefaultCapacity is the largest upload a new Device accepts
const DefaultCapacity = 64 * 1024

// Device is an in-memory SMP device. Bytes written to it are parsed as host
// requests and its answers are queued for Read. An empty Read returns
// (0, nil) after a short pause, as a serial port with a read timeout does.
//
// The exported knobs may be changed between requests.
type Device struct {
	mu sync.Mutex

	// Session is announced in the handshake answer and expected in requests
	Session smp.Session

	// LEDCount is the number of addressable LEDs
	LEDCount int

	// Capacity is the largest upload accepted by StartLoad
	Capacity uint32

	// WriteLimit caps the bytes accepted by one Write (0 = unlimited)
	WriteLimit int

	// ReadChunk caps the bytes returned by one Read (0 = unlimited)
	ReadChunk int

	// Silent drops every answer, handshake included
	Silent bool

	// Corrupt, if set, may modify each answer frame before it is queued
	Corrupt func(frame []byte)

	in         []byte
	out        []byte
	handshaken bool
	leds       []bool

	loading      bool
	expectedSize uint32
	expectedHash uint32
	nextPacketID uint32
	received     []byte

	image    []byte
	booted   bool
	goodbyes int
	requests []smp.Frame
}

// NewDevice creates a device that will negotiate session s
func NewDevice(s smp.Session) *Device {
	return &Device{
		Session:  s,
		LEDCount: DefaultLEDCount,
		Capacity: DefaultCapacity,
	}
}

// Write accepts request bytes, up to WriteLimit per call
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(p)
	if d.WriteLimit > 0 && n > d.WriteLimit {
		n = d.WriteLimit
	}
	d.in = append(d.in, p[:n]...)
	d.process()
	return n, nil
}

// Read returns queued answer bytes, up to ReadChunk per call
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	if len(d.out) == 0 {
		d.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer d.mu.Unlock()

	n := len(p)
	if d.ReadChunk > 0 && n > d.ReadChunk {
		n = d.ReadChunk
	}
	n = copy(p[:n], d.out)
	d.out = d.out[n:]
	return n, nil
}

// Inject queues raw bytes for the host to read, bypassing the protocol
func (d *Device) Inject(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = append(d.out, b...)
}

// Pending returns the number of queued answer bytes not yet read
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.out)
}

// Image returns the last completely uploaded payload
func (d *Device) Image() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Clone(d.image)
}

// Booted reports whether a boot request was received
func (d *Device) Booted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.booted
}

// Goodbyes returns the number of goodbye requests received
func (d *Device) Goodbyes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.goodbyes
}

// LED reports whether LED i is lit
func (d *Device) LED(i int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.leds) {
		return false
	}
	return d.leds[i]
}

// Requests returns every well-framed request received so far
func (d *Device) Requests() []smp.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]smp.Frame, len(d.requests))
	copy(out, d.requests)
	return out
}

func (d *Device) process() {
	for {
		// A preamble always starts a new session
		if len(d.in) >= smp.HandshakeSize && bytes.Equal(d.in[:smp.HandshakeSize], smp.HandshakePreamble()) {
			d.in = d.in[smp.HandshakeSize:]
			d.handshaken = true
			d.loading = false
			d.leds = make([]bool, d.LEDCount)
			d.queue(smp.AppendHandshakeAnswer(nil, d.Session))
			continue
		}
		if !d.handshaken {
			if len(d.in) < smp.HandshakeSize {
				return
			}
			// Resynchronise on the next byte
			d.in = d.in[1:]
			continue
		}

		if len(d.in) < smp.HeaderSize {
			return
		}
		h, _ := smp.ParseHeader(d.in)
		if h.PacketLength < smp.HeaderSize {
			d.in = nil
			return
		}
		if uint64(len(d.in)) < uint64(h.PacketLength) {
			return
		}
		raw := bytes.Clone(d.in[:h.PacketLength])
		d.in = d.in[h.PacketLength:]
		d.handle(raw)
	}
}

func (d *Device) handle(raw []byte) {
	f, err := smp.DecodeFrame(raw)
	if err != nil {
		return
	}
	d.requests = append(d.requests, f)
	action := f.Header.Action()

	switch {
	case f.Header.StartWord != d.Session.StartWord || f.Header.ConnectionID != d.Session.ConnectionID:
		d.answer(action, smp.StatusInvalidID)
		return
	case !f.Valid():
		d.answer(action, smp.StatusHashBroken)
		return
	}

	switch action {
	case smp.ActionPeripheral:
		d.answer(action, d.peripheral(f.Payload))

	case smp.ActionStartLoad:
		d.startLoad(f.Payload)

	case smp.ActionLoading:
		d.loadChunk(f.Payload)

	case smp.ActionGoodbye:
		d.goodbyes++
		d.handshaken = false
		d.loading = false

	case smp.ActionBoot:
		d.booted = true

	default:
		d.answer(action, smp.StatusNoSuchCommand)
	}
}

func (d *Device) peripheral(p []byte) smp.StatusCode {
	if len(p) != 1 {
		return smp.StatusWrongMsgSize
	}
	m := smp.ParseLedMessage(p[0])
	if m.Op > smp.LEDToggle {
		return smp.StatusNoSuchCommand
	}

	switch {
	case m.Device == smp.LEDAll:
		for i := range d.leds {
			d.leds[i] = applyLED(d.leds[i], m.Op)
		}
	case int(m.Device) >= len(d.leds):
		return smp.StatusNoSuchDevice
	default:
		d.leds[m.Device] = applyLED(d.leds[m.Device], m.Op)
	}
	return smp.StatusOk
}

func applyLED(lit bool, op smp.LEDOp) bool {
	switch op {
	case smp.LEDOn:
		return true
	case smp.LEDOff:
		return false
	default:
		return !lit
	}
}

func (d *Device) startLoad(p []byte) {
	body, err := smp.ParseStartLoadBody(p)
	if err != nil {
		d.answer(smp.ActionStartLoad, smp.StatusWrongMsgSize)
		return
	}
	if body.WholeMsgSize > d.Capacity {
		d.loading = false
		d.answer(smp.ActionStartLoad, smp.StatusNoMemory)
		return
	}

	d.loading = true
	d.expectedSize = body.WholeMsgSize
	d.expectedHash = body.WholeMsgHash
	d.nextPacketID = 0
	d.received = d.received[:0]
	d.answer(smp.ActionStartLoad, smp.StatusOk)

	if body.WholeMsgSize == 0 {
		d.complete()
	}
}

func (d *Device) loadChunk(p []byte) {
	if !d.loading {
		d.answer(smp.ActionLoading, smp.StatusWaitStartLoad)
		return
	}
	hdr, data, err := smp.ParseLoadChunk(p)
	switch {
	case err != nil:
		d.answer(smp.ActionLoading, smp.StatusWrongMsgSize)
		return
	case hdr.PacketID != d.nextPacketID:
		d.answer(smp.ActionLoading, smp.StatusLoadWrongPacket)
		return
	case hdr.MsgHash != d.expectedHash:
		d.answer(smp.ActionLoading, smp.StatusHashBroken)
		return
	case uint64(len(d.received))+uint64(len(data)) > uint64(d.expectedSize):
		d.answer(smp.ActionLoading, smp.StatusLoadExtraSize)
		return
	}

	d.received = append(d.received, data...)
	d.nextPacketID++
	d.answer(smp.ActionLoading, smp.StatusOk)

	if uint32(len(d.received)) == d.expectedSize {
		d.complete()
	}
}

// complete sends the acknowledgement that closes a load sequence
func (d *Device) complete() {
	d.loading = false
	if smp.HashPayload(d.received) != d.expectedHash {
		d.answer(smp.ActionLoading, smp.StatusHashBroken)
		return
	}
	d.image = bytes.Clone(d.received)
	d.answer(smp.ActionLoading, smp.StatusOk)
}

func (d *Device) answer(action smp.Action, code smp.StatusCode) {
	d.queue(smp.NewAnswer(&d.Session, action, code))
}

func (d *Device) queue(b []byte) {
	if d.Silent {
		return
	}
	if d.Corrupt != nil {
		d.Corrupt(b)
	}
	d.out = append(d.out, b...)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"encoding/binary"
	"fmt"
)

// Payload builders and parsers for the action-specific frame bodies.

// LedMessage addresses one LED (0-14) or all of them (LEDAll) with an operation
type LedMessage struct {
	Device uint8
	Op     LEDOp
}

// NewLedMessage validates the index and operation
func NewLedMessage(device uint8, op LEDOp) (LedMessage, error) {
	if device > maxLEDIndex {
		return LedMessage{}, fmt.Errorf("led number must be <= 0x%X, got %d", maxLEDIndex, device)
	}
	if op > LEDToggle {
		return LedMessage{}, fmt.Errorf("no such led operation: %d", op)
	}
	return LedMessage{Device: device, Op: op}, nil
}

// Byte packs the message: device index in the low nibble, operation in the high nibble
func (m LedMessage) Byte() byte {
	return (m.Device & 0x0F) | byte(m.Op&0x0F)<<4
}

// ParseLedMessage unpacks a peripheral payload byte
func ParseLedMessage(b byte) LedMessage {
	return LedMessage{Device: b & 0x0F, Op: LEDOp(b >> 4)}
}

// StartLoadBody is the payload of a StartLoad frame
type StartLoadBody struct {
	WholeMsgSize uint32
	WholeMsgHash uint32
}

// AppendTo appends the wire form of the body
func (b StartLoadBody) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, b.WholeMsgSize)
	return binary.LittleEndian.AppendUint32(dst, b.WholeMsgHash)
}

// ParseStartLoadBody reads a StartLoad payload
func ParseStartLoadBody(p []byte) (StartLoadBody, error) {
	if len(p) != StartLoadBodySize {
		return StartLoadBody{}, fmt.Errorf("%w: start load body needs %d bytes, got %d", ErrInvalidLength, StartLoadBodySize, len(p))
	}
	return StartLoadBody{
		WholeMsgSize: binary.LittleEndian.Uint32(p[0:4]),
		WholeMsgHash: binary.LittleEndian.Uint32(p[4:8]),
	}, nil
}

// LoadChunkHeader precedes the chunk bytes in a Loading frame
type LoadChunkHeader struct {
	PacketID uint32
	MsgHash  uint32 // whole-payload hash announced by StartLoad
}

// AppendTo appends the wire form of the chunk header
func (h LoadChunkHeader) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, h.PacketID)
	return binary.LittleEndian.AppendUint32(dst, h.MsgHash)
}

// ParseLoadChunk splits a Loading payload into chunk header and data
func ParseLoadChunk(p []byte) (LoadChunkHeader, []byte, error) {
	if len(p) < LoadBodyHeaderSize {
		return LoadChunkHeader{}, nil, fmt.Errorf("%w: load chunk needs at least %d bytes, got %d", ErrInvalidLength, LoadBodyHeaderSize, len(p))
	}
	return LoadChunkHeader{
		PacketID: binary.LittleEndian.Uint32(p[0:4]),
		MsgHash:  binary.LittleEndian.Uint32(p[4:8]),
	}, p[LoadBodyHeaderSize:], nil
}

// NewAnswer encodes a device answer to action carrying status code
func NewAnswer(s *Session, action Action, code StatusCode) []byte {
	return MustEncodeFrame(s, Action(action.Expected()), []byte{byte(code)})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 16-byte frame header
type Header struct {
	StartWord    uint32
	PacketLength uint32 // header + payload
	ConnectionID uint16
	Flags        uint16
	Hash         uint32
}

// Action returns the action code with the success flag cleared
func (h Header) Action() Action {
	return Action(h.Flags &^ SuccessFlag)
}

// Success reports whether the responder set the success flag
func (h Header) Success() bool {
	return h.Flags&SuccessFlag != 0
}

// PayloadLength returns the payload size declared by PacketLength
func (h Header) PayloadLength() int {
	if h.PacketLength < HeaderSize {
		return 0
	}
	return int(h.PacketLength - HeaderSize)
}

// MarshalTo writes the header into the first 16 bytes of dst
func (h Header) MarshalTo(dst []byte) {
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[offsetStartWord:], h.StartWord)
	binary.LittleEndian.PutUint32(dst[offsetPacketLength:], h.PacketLength)
	binary.LittleEndian.PutUint16(dst[offsetConnectionID:], h.ConnectionID)
	binary.LittleEndian.PutUint16(dst[offsetFlags:], h.Flags)
	binary.LittleEndian.PutUint32(dst[offsetHash:], h.Hash)
}

// ParseHeader reads a header from the first 16 bytes of b
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrInvalidLength, HeaderSize, len(b))
	}
	return Header{
		StartWord:    binary.LittleEndian.Uint32(b[offsetStartWord:]),
		PacketLength: binary.LittleEndian.Uint32(b[offsetPacketLength:]),
		ConnectionID: binary.LittleEndian.Uint16(b[offsetConnectionID:]),
		Flags:        binary.LittleEndian.Uint16(b[offsetFlags:]),
		Hash:         binary.LittleEndian.Uint32(b[offsetHash:]),
	}, nil
}

// Frame is a decoded header with its payload
type Frame struct {
	Header  Header
	Payload []byte
}

// Valid reports whether the frame hash matches its contents
func (f Frame) Valid() bool {
	return Verify(f.Header, f.Payload)
}

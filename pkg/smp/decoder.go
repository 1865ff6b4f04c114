// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"encoding/binary"
	"fmt"
)

// DecodeHeader is ParseHeader under the codec's naming
func DecodeHeader(b []byte) (Header, error) {
	return ParseHeader(b)
}

// DecodeFrame splits b into header and payload. b must hold exactly the
// number of bytes declared by the header's packet length.
func DecodeFrame(b []byte) (Frame, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if h.PacketLength < HeaderSize {
		return Frame{}, fmt.Errorf("%w: packet length %d shorter than header", ErrInvalidLength, h.PacketLength)
	}
	if uint64(len(b)) != uint64(h.PacketLength) {
		return Frame{}, fmt.Errorf("%w: packet length %d, got %d bytes", ErrInvalidLength, h.PacketLength, len(b))
	}
	return Frame{Header: h, Payload: b[HeaderSize:]}, nil
}

// Verify recomputes the frame hash over the header and payload and compares it
// with the declared hash
func Verify(h Header, payload []byte) bool {
	var hdr [HeaderSize]byte
	h.MarshalTo(hdr[:])
	return HashFrame(hdr[:], payload) == h.Hash
}

// verifyRaw checks a contiguous header+payload buffer without re-marshalling
func verifyRaw(frame []byte) bool {
	declared := binary.LittleEndian.Uint32(frame[offsetHash:])
	return HashFrame(frame[:HeaderSize], frame[HeaderSize:]) == declared
}

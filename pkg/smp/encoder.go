// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"fmt"
	"math"
)

// maxPayloadSize is the largest payload whose frame length fits in a u32
const maxPayloadSize = math.MaxUint32 - HeaderSize

// EncodeFrame builds a complete frame for the given session, action and payload.
// A nil session produces a pre-handshake frame with zero start word and id.
func EncodeFrame(s *Session, action Action, payload []byte) ([]byte, error) {
	return AppendFrame(nil, s, action, payload)
}

// AppendFrame appends an encoded frame to dst and returns the extended slice
func AppendFrame(dst []byte, s *Session, action Action, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds frame length field", ErrInvalidLength, len(payload))
	}

	h := Header{
		PacketLength: uint32(HeaderSize + len(payload)),
		Flags:        uint16(action),
	}
	if s != nil {
		h.StartWord = s.StartWord
		h.ConnectionID = s.ConnectionID
	}

	start := len(dst)
	dst = append(dst, make([]byte, HeaderSize)...)
	dst = append(dst, payload...)

	// Hash last, after every other field is in place
	hdr := dst[start : start+HeaderSize]
	h.MarshalTo(hdr)
	h.Hash = HashFrame(hdr, payload)
	h.MarshalTo(hdr)

	return dst, nil
}

// MustEncodeFrame encodes a frame and panics on error.
// Intended for fixed, known-small payloads.
func MustEncodeFrame(s *Session, action Action, payload []byte) []byte {
	data, err := EncodeFrame(s, action, payload)
	if err != nil {
		panic(fmt.Sprintf("smp: encode error: %v", err))
	}
	return data
}

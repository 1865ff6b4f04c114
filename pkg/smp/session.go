// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Session holds the parameters negotiated by the handshake
type Session struct {
	StartWord     uint32
	MaxPacketSize uint16
	ConnectionID  uint16
}

// ParseHandshakeAnswer checks the preamble of a 24-byte handshake answer and
// extracts the session parameters that follow it
func ParseHandshakeAnswer(b []byte) (Session, LocalStatus) {
	if len(b) < HandshakeAnswerSize || !bytes.Equal(b[:HandshakeSize], handshakePreamble[:]) {
		return Session{}, LocalHandshakeAnswerHeaderNotEqual
	}
	p := b[HandshakeSize:]
	return Session{
		StartWord:     binary.LittleEndian.Uint32(p[0:4]),
		MaxPacketSize: binary.LittleEndian.Uint16(p[4:6]),
		ConnectionID:  binary.LittleEndian.Uint16(p[6:8]),
	}, LocalOk
}

// AppendHandshakeAnswer appends the device-side handshake answer for s
func AppendHandshakeAnswer(dst []byte, s Session) []byte {
	dst = append(dst, handshakePreamble[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, s.StartWord)
	dst = binary.LittleEndian.AppendUint16(dst, s.MaxPacketSize)
	dst = binary.LittleEndian.AppendUint16(dst, s.ConnectionID)
	return dst
}

// MaxChunk returns the number of payload bytes that fit in one load frame.
// Zero means the device advertised a packet size too small to load anything.
func (s Session) MaxChunk() int {
	if int(s.MaxPacketSize) <= LoadHeaderSize {
		return 0
	}
	return int(s.MaxPacketSize) - LoadHeaderSize
}

// String renders start word, max packet size and connection id, space separated
func (s Session) String() string {
	return fmt.Sprintf("%d %d %d", s.StartWord, s.MaxPacketSize, s.ConnectionID)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package smp implements the host side of SMP, the framed binary protocol used
// to control and firmware-update a microcontroller over a byte-stream link.
//
// A session starts with a handshake: the host writes a 16-byte magic preamble
// and the device answers with the same preamble followed by the session
// parameters (start word, maximum packet size, connection id). Every later
// frame carries a 16-byte little-endian header followed by an action-specific
// payload, protected by a djb2 hash.
//
// The Channel type drives a session over any io.ReadWriter. It is not safe for
// concurrent use; callers that share a device must serialize through one owner.
package smp

// Header layout
const (
	HeaderSize = 16

	offsetStartWord    = 0
	offsetPacketLength = 4
	offsetConnectionID = 8
	offsetFlags        = 10
	offsetHash         = 12

	// hashedHeaderSize is the number of header bytes covered by the hash
	hashedHeaderSize = offsetHash
)

// Handshake
const (
	// HandshakeWord is repeated four times to form the handshake preamble
	HandshakeWord uint32 = 0xAE711707

	// HandshakeSize is the length of the handshake preamble
	HandshakeSize = 16

	// HandshakeAnswerSize is the preamble followed by start word, max packet size and id
	HandshakeAnswerSize = HandshakeSize + 4 + 2 + 2
)

// handshakePreamble is HandshakeWord four times, octets fixed as on the wire
var handshakePreamble = [HandshakeSize]byte{
	0xAE, 0x71, 0x17, 0x07, 0xAE, 0x71, 0x17, 0x07,
	0xAE, 0x71, 0x17, 0x07, 0xAE, 0x71, 0x17, 0x07,
}

// HandshakePreamble returns a copy of the 16-byte handshake preamble
func HandshakePreamble() []byte {
	b := handshakePreamble
	return b[:]
}

// Action is the frame purpose carried in the low bits of the header flags
type Action uint16

// Action codes
const (
	ActionHandshake  Action = 0
	ActionPeripheral Action = 1
	ActionStartLoad  Action = 2
	ActionGoodbye    Action = 3
	ActionLoading    Action = 4
	ActionBoot       Action = 5
)

// SuccessFlag is set by the responder in the flags of a successful answer
const SuccessFlag uint16 = 0x8000

// Expected returns the flags value of a successful answer to this action
func (a Action) Expected() uint16 {
	return uint16(a) | SuccessFlag
}

// Load framing
const (
	// LoadBodyHeaderSize is the chunk header (packet id, message hash) after the frame header
	LoadBodyHeaderSize = 8

	// LoadHeaderSize is the full per-chunk overhead
	LoadHeaderSize = HeaderSize + LoadBodyHeaderSize

	// StartLoadBodySize is the StartLoad payload (whole size, whole hash)
	StartLoadBodySize = 8
)

// Answers
const (
	// AnswerSize is the size of a device answer: header plus one status byte
	AnswerSize = HeaderSize + 1
)

// Peripheral devices
const (
	// LEDAll addresses every LED on the device
	LEDAll uint8 = 0x0F

	maxLEDIndex = 0x0F
)

// LEDOp is an LED operation
type LEDOp uint8

// LED operations
const (
	LEDOn     LEDOp = 0
	LEDOff    LEDOp = 1
	LEDToggle LEDOp = 2
)

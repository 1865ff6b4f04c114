// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import "fmt"

// LocalStatus is the outcome of the host's own framing and transport checks.
// It says nothing about what the device thought of the request.
type LocalStatus int

// Local status values
const (
	LocalOk LocalStatus = iota
	LocalHandshakeAnswerHeaderNotEqual
	LocalWrongStartWord
	LocalWrongID
	LocalWrongFlags
	LocalBufferToSmall
	LocalWrongHash
	LocalNothingToWrite
	LocalLoadAnswerNotEqual
	LocalTimeout
)

var localStatusText = map[LocalStatus]string{
	LocalOk:                            "Ok",
	LocalHandshakeAnswerHeaderNotEqual: "Handshake answer header not equal",
	LocalWrongStartWord:                "Wrong start word",
	LocalWrongID:                       "Wrong response id",
	LocalWrongFlags:                    "Header flags are different",
	LocalBufferToSmall:                 "Buffer too small",
	LocalWrongHash:                     "Wrong hash",
	LocalNothingToWrite:                "Nothing to write",
	LocalLoadAnswerNotEqual:            "Wrong size",
	LocalTimeout:                       "Timeout",
}

// String returns the human-readable text for the status
func (s LocalStatus) String() string {
	if text, ok := localStatusText[s]; ok {
		return text
	}
	return "Unknown error"
}

// StatusCode is the outcome reported by the device for a well-framed request
type StatusCode uint8

// Remote status values
const (
	StatusOk StatusCode = iota
	StatusInvalidID
	StatusWrongMsgSize
	StatusNoSuchCommand
	StatusNoSuchDevice
	StatusHashBroken
	StatusLoadExtraSize
	StatusWaitLoad
	StatusNoMemory
	StatusWaitStartLoad
	StatusLoadWrongPacket

	// StatusInvalid stands in for any byte the host does not recognize
	StatusInvalid StatusCode = 0xFF
)

var statusCodeText = map[StatusCode]string{
	StatusInvalid:         "Invalid status code",
	StatusOk:              "Success",
	StatusInvalidID:       "Invalid id",
	StatusWrongMsgSize:    "Wrong msg size",
	StatusNoSuchCommand:   "No such command",
	StatusNoSuchDevice:    "No such device",
	StatusHashBroken:      "Hash broken",
	StatusLoadExtraSize:   "Load extra size",
	StatusWaitLoad:        "Wait for loading",
	StatusNoMemory:        "No memory",
	StatusWaitStartLoad:   "Wait for start loading",
	StatusLoadWrongPacket: "Wrong packet id",
}

// ParseStatusCode maps a wire byte to a StatusCode, StatusInvalid if unknown
func ParseStatusCode(b byte) StatusCode {
	code := StatusCode(b)
	if code > StatusLoadWrongPacket {
		return StatusInvalid
	}
	return code
}

// String returns the human-readable text for the status code
func (c StatusCode) String() string {
	if text, ok := statusCodeText[c]; ok {
		return text
	}
	return "Unknown smp error"
}

// ReadResult is the outcome of reading one answer frame
type ReadResult struct {
	Local      LocalStatus
	AnswerSize int // bytes placed in the caller's buffer, or read before a failure
}

// ParseAnswer interprets a device answer held in buf. The local status must be
// Ok before the remote status means anything; a frame of the wrong size is
// reported as LocalLoadAnswerNotEqual.
func ParseAnswer(op string, buf []byte, res ReadResult) (StatusCode, error) {
	if res.Local != LocalOk {
		return StatusInvalid, &LocalError{Op: op, Status: res.Local}
	}
	if res.AnswerSize != AnswerSize || len(buf) < AnswerSize {
		return StatusInvalid, &LocalError{Op: op, Status: LocalLoadAnswerNotEqual}
	}
	code := ParseStatusCode(buf[HeaderSize])
	if code != StatusOk {
		return code, &RemoteError{Op: op, Code: code}
	}
	return code, nil
}

// FormatStatus renders local and remote status together for logs
func FormatStatus(local LocalStatus, remote StatusCode) string {
	if local != LocalOk {
		return fmt.Sprintf("local=%s", local)
	}
	return fmt.Sprintf("remote=%s (0x%02X)", remote, uint8(remote))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLength is returned when a buffer or payload has an unusable size
	ErrInvalidLength = errors.New("invalid length")

	// ErrWriteIncomplete is returned when a frame that must go out in one write was cut short.
	// Handshake, peripheral, start-load, boot and goodbye frames are never retried.
	ErrWriteIncomplete = errors.New("can't write whole message in one call")

	// ErrInvalidState is returned when an operation is not allowed in the channel's current state
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrClosed is returned by operations on a closed channel
	ErrClosed = errors.New("channel closed")

	// ErrNoDeadline is returned by a wrapper whose transport cannot take deadlines
	ErrNoDeadline = errors.New("transport does not support deadlines")
)

// LocalError carries a local status that ended an operation
type LocalError struct {
	Op     string
	Status LocalStatus
}

func (e *LocalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// RemoteError carries a status code the device returned for a well-framed request
type RemoteError struct {
	Op   string
	Code StatusCode
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: device answered %s (0x%02X)", e.Op, e.Code, uint8(e.Code))
}

// TransportError wraps a failure of the underlying byte stream. These are not
// recoverable within the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is, or wraps, a TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// LocalStatusOf extracts the local status from err, LocalOk if there is none
func LocalStatusOf(err error) LocalStatus {
	var le *LocalError
	if errors.As(err, &le) {
		return le.Status
	}
	return LocalOk
}

// RemoteStatusOf extracts the remote status code from err
func RemoteStatusOf(err error) (StatusCode, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return StatusInvalid, false
}

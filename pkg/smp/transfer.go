// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"fmt"
	"math"
	"os"
)

// Transfer is a payload staged for upload. It tracks how much has been sent,
// the next chunk sequence number and the whole-payload hash. A Transfer is
// used for one load sequence and then discarded.
type Transfer struct {
	payload      []byte
	written      uint32
	nextPacketID uint32
	hash         uint32
	hashed       bool
}

// NewTransfer stages payload for upload. The slice must not be modified afterwards.
func NewTransfer(payload []byte) (*Transfer, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds 32-bit size", ErrInvalidLength, len(payload))
	}
	return &Transfer{payload: payload}, nil
}

// LoadTransferFile reads a binary image from path and stages it for upload
func LoadTransferFile(path string) (*Transfer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("wrong file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("wrong file: %s is not a regular file", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read from file: %w", err)
	}
	return NewTransfer(data)
}

// Size returns the total payload size
func (t *Transfer) Size() uint32 {
	return uint32(len(t.payload))
}

// Written returns the number of payload bytes sent so far
func (t *Transfer) Written() uint32 {
	return t.written
}

// Remaining returns the number of payload bytes not yet sent
func (t *Transfer) Remaining() uint32 {
	return t.Size() - t.written
}

// Done reports whether the whole payload has been sent
func (t *Transfer) Done() bool {
	return t.written >= t.Size()
}

// NextPacketID returns the sequence number of the next chunk
func (t *Transfer) NextPacketID() uint32 {
	return t.nextPacketID
}

// Hash returns the whole-payload hash, computing it on first use
func (t *Transfer) Hash() uint32 {
	if !t.hashed {
		t.hash = HashPayload(t.payload)
		t.hashed = true
	}
	return t.hash
}

// nextChunk returns up to max bytes starting at the write position
func (t *Transfer) nextChunk(max int) []byte {
	left := t.Remaining()
	n := uint32(max)
	if left < n {
		n = left
	}
	return t.payload[t.written : t.written+n]
}

// advance records one sent chunk of n bytes
func (t *Transfer) advance(n int) {
	t.written += uint32(n)
	t.nextPacketID++
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

// CheckHeader validates an answer header against the session and the requested
// action. Checks run in order: start word, connection id, flags, then whether the
// declared frame fits in capacity bytes.
func CheckHeader(h Header, s Session, requested Action, capacity int) LocalStatus {
	switch {
	case h.StartWord != s.StartWord:
		return LocalWrongStartWord
	case h.ConnectionID != s.ConnectionID:
		return LocalWrongID
	case h.Flags != requested.Expected():
		return LocalWrongFlags
	case uint64(h.PacketLength) > uint64(capacity):
		return LocalBufferToSmall
	}
	return LocalOk
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

// Djb2Seed is the initial djb2 hash value
const Djb2Seed uint32 = 5381

// Djb2 continues a djb2 hash from seed over data
func Djb2(data []byte, seed uint32) uint32 {
	h := seed
	for _, b := range data {
		h = ((h << 5) + h) + uint32(b)
	}
	return h
}

// HashFrame computes the frame hash over the first 12 header bytes followed by the payload
func HashFrame(header []byte, payload []byte) uint32 {
	return Djb2(payload, Djb2(header[:hashedHeaderSize], Djb2Seed))
}

// HashPayload computes the whole-message hash sent with StartLoad
func HashPayload(payload []byte) uint32 {
	return Djb2(payload, Djb2Seed)
}

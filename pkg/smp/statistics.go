// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smp

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Statistics tracks channel traffic and local failures.
// A nil *Statistics ignores every update.
type Statistics struct {
	mu sync.Mutex
	Counters
}

// Counters is a point-in-time copy of the statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64
	ChunksSent     uint64
	BytesUploaded  uint64
	LocalErrors    map[LocalStatus]uint64

	// Rates (calculated)
	ByteRate float64 // bytes/sec, both directions
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{Counters: Counters{
		StartTime:      now,
		LastUpdateTime: now,
		LocalErrors:    make(map[LocalStatus]uint64),
	}}
}

func (s *Statistics) addSent(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesSent += uint64(n)
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) addReceived(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesReceived += uint64(n)
	s.LastUpdateTime = time.Now()
}

func (s *Statistics) frameSent() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesSent++
}

func (s *Statistics) frameReceived(status LocalStatus) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesReceived++
	if status != LocalOk {
		s.LocalErrors[status]++
	}
}

func (s *Statistics) chunkSent(n int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ChunksSent++
	s.BytesUploaded += uint64(n)
}

// Snapshot returns a copy of the counters safe to read from another goroutine
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()

	out := Counters{
		StartTime:      s.StartTime,
		LastUpdateTime: s.LastUpdateTime,
		FramesSent:     s.FramesSent,
		FramesReceived: s.FramesReceived,
		BytesSent:      s.BytesSent,
		BytesReceived:  s.BytesReceived,
		ChunksSent:     s.ChunksSent,
		BytesUploaded:  s.BytesUploaded,
		LocalErrors:    make(map[LocalStatus]uint64, len(s.LocalErrors)),
		ByteRate:       s.ByteRate,
	}
	for k, v := range s.LocalErrors {
		out.LocalErrors[k] = v
	}
	return out
}

// ErrorCount returns the total number of local failures
func (s *Statistics) ErrorCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, v := range s.LocalErrors {
		total += v
	}
	return total
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ByteRate = float64(s.BytesSent+s.BytesReceived) / elapsed
	}
}

// String returns the statistics summary
func (s *Statistics) String() string {
	return s.Summary()
}

// Summary returns a formatted statistics summary
func (s *Statistics) Summary() string {
	snap := s.Snapshot()
	elapsed := time.Since(snap.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Sent:     %8d\n", snap.FramesSent)
	result += fmt.Sprintf("Frames Received: %8d\n", snap.FramesReceived)
	result += fmt.Sprintf("Bytes Sent:      %8d\n", snap.BytesSent)
	result += fmt.Sprintf("Bytes Received:  %8d\n", snap.BytesReceived)
	if snap.ChunksSent > 0 {
		result += fmt.Sprintf("Load Chunks:     %8d (%d bytes)\n", snap.ChunksSent, snap.BytesUploaded)
	}

	statuses := make([]LocalStatus, 0, len(snap.LocalErrors))
	for st := range snap.LocalErrors {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	for _, st := range statuses {
		result += fmt.Sprintf("  %-20s %5d\n", st.String()+":", snap.LocalErrors[st])
	}

	result += fmt.Sprintf("Byte Rate:       %8.1f bytes/sec\n", snap.ByteRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.FramesSent = 0
	s.FramesReceived = 0
	s.BytesSent = 0
	s.BytesReceived = 0
	s.ChunksSent = 0
	s.BytesUploaded = 0
	s.LocalErrors = make(map[LocalStatus]uint64)
	s.ByteRate = 0
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"

	"github.com/Thermoquad/smpctl/pkg/smp"
)

// session bundles a connection with the processor that drives it
type session struct {
	conn      Connection
	connInfo  string
	stats     *smp.Statistics
	processor *Processor
}

// newSession wraps an open connection in a channel and a processor
func newSession(conn Connection, connInfo string) *session {
	stats := smp.NewStatistics()
	ch := smp.NewChannel(conn,
		smp.WithTimeout(opTimeout),
		smp.WithLogger(logger),
		smp.WithStatistics(stats),
	)
	return &session{
		conn:      conn,
		connInfo:  connInfo,
		stats:     stats,
		processor: NewProcessor(ch, logger),
	}
}

// Close says goodbye to the device and closes the connection
func (s *session) Close() error {
	goodbyeErr := s.processor.Close()
	connErr := s.conn.Close()
	logger.Debug("session closed", "connection", s.connInfo, "stats", s.stats.Summary())
	return errors.Join(goodbyeErr, connErr)
}

// exitError carries a process exit status out of a command. A nil err means
// the command already reported the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// ExitCode returns the exit status for an error returned by Execute
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

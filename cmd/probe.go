// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/smpctl/pkg/smp"
)

var (
	probeCount    int
	probeInterval time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the connection by opening and closing SMP sessions",
	Long: `Open an SMP session with the handshake, report the negotiated values and
close it again with a goodbye.

With --count greater than one the cycle is repeated and the round-trip time of
each handshake is printed, followed by a summary. The --timeout flag bounds
each handshake.

Exit codes:
  0 - Every handshake succeeded
  1 - A handshake timed out or was answered with the wrong preamble
  2 - Connection error

Useful for testing a serial line or WebSocket bridge before a firmware upload.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeCount, "count", 1, "Number of handshakes to perform")
	probeCmd.Flags().DurationVar(&probeInterval, "interval", 100*time.Millisecond, "Delay between handshakes")
}

func runProbe(cmd *cobra.Command, args []string) error {
	errOut := cmd.ErrOrStderr()

	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(errOut, "Connection error: %v\n", err)
		return &exitError{code: 2}
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "smpctl - Probe\n")
	fmt.Fprintf(out, "Connection: %s\n", connInfo)
	fmt.Fprintf(out, "Timeout: %v per handshake\n\n", opTimeout)

	return probe(cmd.Context(), conn, probeCount, probeInterval, out)
}

// probeResult is the outcome of one handshake cycle
type probeResult struct {
	session smp.Session
	rtt     time.Duration
	status  smp.LocalStatus
	err     error
}

// probeOnce opens a session on a fresh channel, then says goodbye
func probeOnce(ctx context.Context, rw io.ReadWriter, stats *smp.Statistics) probeResult {
	ch := smp.NewChannel(rw,
		smp.WithTimeout(opTimeout),
		smp.WithLogger(logger),
		smp.WithStatistics(stats),
	)
	defer ch.Close()

	start := time.Now()
	if err := ch.Handshake(ctx); err != nil {
		return probeResult{err: err}
	}
	st, err := ch.HandshakeAnswer(ctx)
	res := probeResult{rtt: time.Since(start), status: st, err: err}
	if err == nil && st == smp.LocalOk {
		res.session, _ = ch.Session()
	}
	return res
}

func probe(ctx context.Context, rw io.ReadWriter, count int, interval time.Duration, out io.Writer) error {
	stats := smp.NewStatistics()
	var ok, timeouts, failures int
	transportFailed := false

	for i := 1; i <= count; i++ {
		res := probeOnce(ctx, rw, stats)
		prefix := ""
		if count > 1 {
			prefix = fmt.Sprintf("Handshake %d/%d: ", i, count)
		}

		switch {
		case res.err != nil:
			fmt.Fprintf(out, "%s%s\n", prefix, failStyle.Render("FAILED: "+res.err.Error()))
			failures++
			if smp.IsTransportError(res.err) {
				transportFailed = true
			}
		case res.status == smp.LocalTimeout:
			fmt.Fprintf(out, "%s%s\n", prefix, failStyle.Render(fmt.Sprintf("TIMEOUT (no answer in %v)", opTimeout)))
			timeouts++
		case res.status != smp.LocalOk:
			fmt.Fprintf(out, "%s%s\n", prefix, failStyle.Render("FAILED: "+res.status.String()))
			failures++
		case count > 1:
			fmt.Fprintf(out, "%s%s, rtt=%v\n", prefix, okStyle.Render("Values: "+res.session.String()), res.rtt.Round(time.Millisecond))
			ok++
		default:
			fmt.Fprintf(out, "%s\n", okStyle.Render("SUCCESS: session opened"))
			fmt.Fprintf(out, "  Start word: 0x%08X\n", res.session.StartWord)
			fmt.Fprintf(out, "  Max packet: %d bytes (%d per load chunk)\n", res.session.MaxPacketSize, res.session.MaxChunk())
			fmt.Fprintf(out, "  Connection: %d\n", res.session.ConnectionID)
			fmt.Fprintf(out, "  RTT: %v\n", res.rtt.Round(time.Millisecond))
			ok++
		}

		if transportFailed || ctx.Err() != nil {
			break
		}
		if i < count {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}

	if count > 1 {
		attempts := ok + timeouts + failures
		fmt.Fprintf(out, "\n--- Probe statistics ---\n")
		fmt.Fprintf(out, "%d handshakes, %d sessions opened, %d timeouts, %d failures\n",
			attempts, ok, timeouts, failures)
		logger.Debug("probe finished", "stats", stats.Summary())
	}

	switch {
	case transportFailed:
		return &exitError{code: 2}
	case ok < count:
		return &exitError{code: 1}
	}
	return nil
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var listenDuration time.Duration

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print raw bytes arriving on the connection",
	Long: `Open the connection without sending anything and print every chunk of data
received, with timestamps, until the duration ends or Ctrl+C is pressed.
An interrupt ends the run like the end of the duration.

Useful for checking that a device is quiet before a handshake, or for
debugging connection stability of a WebSocket bridge.

Exit codes:
  0 - Listened for the whole duration
  1 - The connection failed while listening
  2 - Connection error`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().DurationVar(&listenDuration, "duration", 30*time.Second, "How long to listen")
}

func runListen(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Connection error: %v\n", err)
		return &exitError{code: 2}
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "smpctl - Listen\n")
	fmt.Fprintf(out, "Connection: %s\n", connInfo)
	fmt.Fprintf(out, "Duration: %v\n\n", listenDuration)

	ctx, cancel := context.WithTimeout(cmd.Context(), listenDuration)
	defer cancel()
	return listen(ctx, conn, out)
}

// listenResult summarises a listen run
type listenResult struct {
	chunks int
	bytes  int
}

// listen prints received data until ctx ends or the reader fails
func listen(ctx context.Context, r io.Reader, out io.Writer) error {
	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case readChan <- data:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				errChan <- err
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	start := time.Now()
	var res listenResult
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case data := <-readChan:
			res.bytes += len(data)
			res.chunks++
			fmt.Fprintf(out, "[%s] Received %d bytes: %x\n",
				time.Now().Format("15:04:05.000"), len(data), data)

		case err := <-errChan:
			fmt.Fprintf(out, "\n[%s] Connection error: %v\n", time.Now().Format("15:04:05.000"), err)
			printListenResult(out, time.Since(start), res, "FAILED (connection error)")
			return &exitError{code: 1}

		case <-heartbeat.C:
			if deadline, ok := ctx.Deadline(); ok {
				logger.Info("still listening", "remaining", time.Until(deadline).Round(time.Second))
			}

		case <-ctx.Done():
			printListenResult(out, time.Since(start), res, "PASSED")
			return nil
		}
	}
}

func printListenResult(out io.Writer, elapsed time.Duration, res listenResult, verdict string) {
	fmt.Fprintf(out, "\n--- Listen Results ---\n")
	fmt.Fprintf(out, "Duration: %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "Chunks received: %d\n", res.chunks)
	fmt.Fprintf(out, "Bytes received: %d\n", res.bytes)
	fmt.Fprintf(out, "Result: %s\n", verdict)
}

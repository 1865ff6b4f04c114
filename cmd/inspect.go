// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/smpctl/pkg/smp"
)

var inspectRecords bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <capture-file>",
	Short: "Display a traffic capture in human-readable format",
	Long: `Decode a capture written with --capture and print every protocol unit.

Each direction is reassembled from its records and cut into the handshake
preamble, the handshake answer and frames. Every frame is shown with its
action, flags, connection id, length and hash check, followed by the decoded
payload.

With --records the raw capture records are listed first, one per transport
read or write, with their timestamps.

No connection is opened.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectRecords, "records", false, "List raw capture records before the decoded frames")
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	records, readErr := smp.ReadCapture(f)
	if readErr != nil {
		if len(records) == 0 {
			return readErr
		}
		logger.Warn("capture truncated", "file", args[0], "records", len(records), "error", readErr)
	}

	return inspectCapture(cmd.OutOrStdout(), records, inspectRecords)
}

// inspectCapture prints a capture, split per direction
func inspectCapture(out io.Writer, records []smp.CaptureRecord, listRecords bool) error {
	fmt.Fprintf(out, "smpctl - Capture Inspect\n")
	fmt.Fprintf(out, "Records: %d\n", len(records))
	if len(records) > 0 {
		first, last := records[0].Time, records[len(records)-1].Time
		fmt.Fprintf(out, "Span: %s - %s (%v)\n",
			first.Format("15:04:05.000"), last.Format("15:04:05.000"), last.Sub(first))
	}

	if listRecords {
		fmt.Fprintf(out, "\n")
		for _, r := range records {
			fmt.Fprintf(out, "[%s] %s %d bytes: %x\n",
				r.Time.Format("15:04:05.000"), r.Direction, len(r.Data), r.Data)
		}
	}

	var splitErr error
	for _, dir := range []smp.Direction{smp.DirectionTX, smp.DirectionRX} {
		data := smp.JoinStream(records, dir)
		items, err := smp.SplitStream(dir, data)

		fmt.Fprintf(out, "\n=== %s: %d bytes, %d units ===\n", dir, len(data), len(items))
		for _, it := range items {
			fmt.Fprint(out, smp.FormatItem(it))
		}
		if err != nil {
			fmt.Fprintf(out, "[ERROR] %v\n", err)
			if splitErr == nil {
				splitErr = fmt.Errorf("%s stream: %w", dir, err)
			}
		}
	}
	return splitErr
}

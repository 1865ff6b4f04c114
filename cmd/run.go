// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <command>...",
	Short: "Run SMP commands in order and exit",
	Long: `Run each argument as one shell command, in order.

Replies are printed as they arrive. The first failing command stops the run
with exit status 1. A failed transport ends the session and the run with
exit status 2. The session is always closed with a goodbye, and a stop
command ends the run early.

Example:
  smpctl -p /dev/ttyUSB0 run start "LED all on" "load firmware.bin" boot`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	s := newSession(conn, connInfo)
	defer s.Close()

	return runCommands(cmd.Context(), s, args, cmd.OutOrStdout())
}

// runCommands executes lines until one fails or the session ends
func runCommands(ctx context.Context, s *session, lines []string, out io.Writer) error {
	s.processor.SetProgress(func(written, total uint32) {
		fmt.Fprintf(out, "  %s\n", dimStyle.Render(formatProgress(written, total)))
	})

	for _, line := range lines {
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render(">"), line)

		r := s.processor.Execute(ctx, line)
		if r.Err != nil {
			fmt.Fprintln(out, renderReply(r))
			return &exitError{code: 2}
		}
		if r.Done {
			return nil
		}
		fmt.Fprintln(out, renderReply(r))
		if !r.OK {
			return &exitError{code: 1}
		}
	}
	return nil
}

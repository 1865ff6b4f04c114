// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const shellHelp = "Commands: start | LED <0-15|all> <on|off|toggle> | load <file> | boot | stop"

var shellTUI bool

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive SMP session",
	Long: `Open a connection and run SMP commands interactively.

Commands:
  start                          handshake and open the session
  LED <0-15|all> <on|off|toggle> switch a device LED (15 addresses all)
  load <file>                    upload a firmware image in chunks
  boot                           boot the uploaded image
  stop                           say goodbye and exit (an empty line does the same)

When stdin is a terminal the session runs in a full-screen UI with an event
log, session statistics and load progress. Use --tui=false, or pipe commands
on stdin, for a plain line-based prompt.

Supports both serial and WebSocket connections.`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
	shellCmd.Flags().BoolVar(&shellTUI, "tui", true, "Use the full-screen UI when stdin is a terminal")
}

func runShell(cmd *cobra.Command, args []string) error {
	useTUI := shellTUI && term.IsTerminal(int(os.Stdin.Fd()))

	// Log lines go to the event log instead of the alternate screen
	var sink *logSink
	if useTUI {
		sink = newLogSink()
		l, err := newLogger(sink, logLevel, logFormat)
		if err != nil {
			return err
		}
		logger = l
	}

	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		return err
	}
	s := newSession(conn, connInfo)
	defer s.Close()

	if useTUI {
		return runShellTUI(cmd.Context(), s, sink)
	}
	return runShellLines(cmd.Context(), s, cmd.InOrStdin(), cmd.OutOrStdout())
}

// runShellLines reads one command per line until the session ends or input
// runs out
func runShellLines(ctx context.Context, s *session, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "smpctl - %s\n", s.connInfo)
	fmt.Fprintf(out, "%s\n\n", dimStyle.Render(shellHelp))

	s.processor.SetProgress(func(written, total uint32) {
		fmt.Fprintf(out, "\r  %s", formatProgress(written, total))
		if written == total {
			fmt.Fprintln(out)
		}
	})

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}

		r := s.processor.Execute(ctx, scanner.Text())
		if r.Err != nil {
			fmt.Fprintln(out, renderReply(r))
			return &exitError{code: 2}
		}
		if r.Done {
			return nil
		}
		fmt.Fprintln(out, renderReply(r))

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// smpctl - SMP host-side driver
//
// A CLI tool for opening SMP sessions with a device bootloader, switching
// its LEDs, uploading firmware and booting it.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/smpctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(cmd.ExitCode(err))
	}
}

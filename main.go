// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Sinostat - Sinowealth BMS Register Protocol Tool
//
// A CLI tool for reading pack telemetry from Sinowealth-based battery
// management boards over their serial register protocol.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Thermoquad/sinostat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sinostat/pkg/sinowealth"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the BMS link with one full acquisition",
	Long: `Discover the pack configuration, then run one complete refresh cycle.

This is the connection self-test: it succeeds only if every register in the
refresh order answered with a usable reply. On failure the step and register
that broke the cycle are reported; values read before the failure are still
printed.

Exit codes:
  0 - Probe successful
  1 - BMS did not answer correctly
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	engine, conn, connInfo, err := openEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		return &ExitError{Code: ExitConnectionError}
	}
	defer conn.Close()

	fmt.Printf("Sinostat - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %v per register\n\n", cfg.Timeout())

	var snap sinowealth.Snapshot
	start := time.Now()
	err = engine.Probe(&snap)
	elapsed := time.Since(start)

	if cfgInfo, ok := engine.Config(); ok {
		fmt.Printf("Hardware: %s\n", engine.HardwareVersion())
		fmt.Printf("Temperature sensors: %d\n\n", cfgInfo.TemperatureSensors)
	}

	if err != nil {
		fmt.Printf("PROBE FAILED after %v: %v\n", elapsed.Round(time.Millisecond), err)
		printFailureHint(err)
		if engine.State() == sinowealth.StateConfigured {
			fmt.Printf("\nPartial data:\n")
			fmt.Print(sinowealth.FormatSnapshot(&snap))
		}
		return &ExitError{Code: ExitFailure}
	}

	fmt.Print(sinowealth.FormatSnapshot(&snap))
	fmt.Printf("\nPROBE OK (%v)\n", elapsed.Round(time.Millisecond))

	for _, anomaly := range sinowealth.ValidateSnapshot(&snap) {
		fmt.Printf("  warning: %s\n", anomaly.Message)
	}
	return nil
}

// printFailureHint explains the most likely cause of a failed cycle
func printFailureHint(err error) {
	var stepErr *sinowealth.StepError
	if errors.As(err, &stepErr) {
		fmt.Printf("  failed at step %d of %d (%s)\n", stepErr.Index+1, len(sinowealth.StepNames()), stepErr.Step)
	}

	switch {
	case errors.Is(err, sinowealth.ErrInvalidCellCount):
		fmt.Printf("  hint: pack config reply is out of range; check the BMS model\n")
	case errors.Is(err, sinowealth.ErrShortPayload):
		fmt.Printf("  hint: reply was truncated; check baud rate and wiring noise\n")
	case errors.Is(err, sinowealth.ErrTransportFailure), errors.Is(err, sinowealth.ErrConfigurationMissing):
		fmt.Printf("  hint: no reply; check port, baud rate and that the BMS is awake\n")
	}
}

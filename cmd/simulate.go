// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sinostat/pkg/sinowealth"
)

var (
	simPackConfig uint8
	simSOC        int
	simCurrent    float64
	simCycles     int
	simSilent     []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Act as a fake Sinowealth BMS on the connection",
	Long: `Answer command frames like a BMS would, from a built-in 8S pack model.

Run this on one end of a null-modem pair (or a socat pty pair) and point
another sinostat at the other end to exercise probe, poll and monitor without
hardware.

Registers listed with --silent never answer, which reproduces a partial
refresh: every step before the silent register still updates.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Uint8Var(&simPackConfig, "pack-config", 0x05, "Raw pack config byte (cells = (b&7)+3)")
	simulateCmd.Flags().IntVar(&simSOC, "soc", 77, "State of charge (%)")
	simulateCmd.Flags().Float64Var(&simCurrent, "current", -12.5, "Pack current (A, negative = discharge)")
	simulateCmd.Flags().IntVar(&simCycles, "cycles", 42, "Cycle count")
	simulateCmd.Flags().StringSliceVar(&simSilent, "silent", nil, "Registers that never answer (names or codes)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	sim := sinowealth.NewPackSimulator()
	sim.SetPackConfig(simPackConfig)
	sim.SetSOC(simSOC)
	sim.SetCurrent(simCurrent)
	sim.SetCycleCount(simCycles)

	for _, name := range simSilent {
		r, err := parseRegister(name)
		if err != nil {
			return err
		}
		sim.Fail(r.Code, -1)
	}

	conn, connInfo, err := OpenConnection(cfg.Connection)
	if err != nil {
		return err
	}

	cells := int(simPackConfig&0x07) + 3
	fmt.Printf("Sinostat - BMS Simulator\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Pack: %dS, SOC %d%%, %.3f A\n", cells, simSOC, simCurrent)
	if len(simSilent) > 0 {
		fmt.Printf("Silent registers: %v\n", simSilent)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	err = sim.Serve(conn)
	appLog.Info("answered %d frames", len(sim.Requests()))
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("simulator stopped: %w", err)
}

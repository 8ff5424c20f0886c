// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sinostat/internal/config"
	"github.com/Thermoquad/sinostat/internal/logger"
)

var monitorIntervalMs int

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal dashboard of pack telemetry",
	Long: `Continuously refresh telemetry and show it in a terminal UI.

The dashboard shows pack voltage, current, SOC, per-cell voltages with the
lowest and highest cell highlighted, temperatures, FET switches and active
protection flags, together with cycle statistics and a log of failed cycles
and implausible values.

Only one refresh cycle is in flight at a time; a slow BMS stretches the
interval rather than queueing cycles.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVarP(&monitorIntervalMs, "interval", "i", config.DefaultIntervalMs, "Refresh interval (ms)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("interval") {
		cfg.Poll.IntervalMs = monitorIntervalMs
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	// Register traces would tear the alt screen; keep them only when logging to a file
	if cfg.Logging.File == "" {
		appLog = logger.Discard()
	}

	engine, conn, connInfo, err := openEngine()
	if err != nil {
		return err
	}
	defer conn.Close()

	p := tea.NewProgram(newMonitorModel(engine, connInfo, cfg.Interval()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sinostat/internal/config"
	"github.com/Thermoquad/sinostat/internal/logger"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Shared flags
	timeoutMs  int
	logLevel   string
	configPath string

	// Resolved by PersistentPreRunE
	cfg    *config.Config
	appLog *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sinostat",
	Short: "Sinowealth BMS Register Protocol Tool",
	Long: `Sinostat - A CLI tool for reading Sinowealth-based battery management
boards (Daly/Sinowealth BMS) over their serial register protocol.

Each register is read with a 4-byte command frame; the engine discovers the
pack configuration once, then refreshes SOC, FET status, protection flags,
voltages, current, cell voltages, temperatures, remaining capacity and cycle
count in a fixed order.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Settings may also come from a YAML file given with --config. Flags that are
set explicitly override the file.

For WebSocket authentication, the password is read from the SINOSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadSettings,
}

// Exit codes reported by probe, read and discover
const (
	ExitFailure         = 1 // the BMS did not answer correctly
	ExitConnectionError = 2 // the port or bridge could not be opened
)

// ExitError asks main to exit with Code. The command has already reported
// the failure, so main prints nothing more.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaudRate, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().IntVar(&timeoutMs, "timeout", config.DefaultTimeoutMs, "Reply timeout per register (ms)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logger.LevelInfo, "Log level (error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
}

// loadSettings resolves the config file and flags into cfg and builds the logger
func loadSettings(cmd *cobra.Command, args []string) error {
	resolved := config.Default()
	if configPath != "" {
		var err error
		resolved, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	applyFlags(cmd, resolved)
	if err := resolved.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	l, err := logger.New(resolved.Logging)
	if err != nil {
		return err
	}

	cfg = resolved
	appLog = l
	return nil
}

// applyFlags copies explicitly set persistent flags over c
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Connection.Port = portName
		c.Connection.URL = ""
	}
	if flags.Changed("url") {
		c.Connection.URL = wsURL
		c.Connection.Port = ""
	}
	if flags.Changed("baud") {
		c.Connection.Baud = baudRate
	}
	if flags.Changed("username") {
		c.Connection.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.Connection.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("timeout") {
		c.Connection.TimeoutMs = timeoutMs
	}
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
}

// Execute runs the root command and closes the logger afterwards, whether
// the command succeeded or not
func Execute() error {
	err := rootCmd.Execute()
	if appLog != nil {
		appLog.Close()
		appLog = nil
	}
	return err
}

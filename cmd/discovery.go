// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"

	"github.com/Thermoquad/sinostat/pkg/sinowealth"
)

var discoveryListOnly bool

var discoveryCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find serial ports with a BMS attached",
	Long: `Enumerate serial ports and ask each one for its pack configuration.

Every port is opened at the configured baud rate and sent a PACK_CONFIG
command frame followed by a CAPACITY read. Ports that answer both are
reported with their cell count, temperature sensor count and capacity.
With --port only that port is tried.

The chip variant is not identified; all Sinowealth boards answer the same
register set.

Examples:
  # Scan every port at 9600 baud
  sinostat discover

  # Only list ports with USB details
  sinostat discover --list

Exit codes:
  0 - At least one BMS found
  1 - No BMS answered
  2 - Port enumeration error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().BoolVar(&discoveryListOnly, "list", false, "List ports without probing them")
}

// discoveredPort is one enumerated serial port
type discoveredPort struct {
	name    string
	usbInfo string
}

func listPorts() ([]discoveredPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]discoveredPort, 0, len(details))
	for _, d := range details {
		p := discoveredPort{name: d.Name}
		if d.IsUSB {
			p.usbInfo = fmt.Sprintf("USB %s:%s", d.VID, d.PID)
			if d.Product != "" {
				p.usbInfo += " " + d.Product
			}
			if d.SerialNumber != "" {
				p.usbInfo += " (" + d.SerialNumber + ")"
			}
		}
		ports = append(ports, p)
	}
	return ports, nil
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	var ports []discoveredPort
	if cfg.Connection.Port != "" {
		ports = []discoveredPort{{name: cfg.Connection.Port}}
	} else {
		var err error
		ports, err = listPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Port enumeration error: %v\n", err)
			return &ExitError{Code: ExitConnectionError}
		}
	}

	fmt.Printf("Sinostat - BMS Discovery\n")
	fmt.Printf("Baud: %d, timeout: %v per register\n", cfg.Connection.Baud, cfg.Timeout())
	fmt.Printf("Ports: %d\n\n", len(ports))

	found := 0
	for _, p := range ports {
		fmt.Printf("%s", p.name)
		if p.usbInfo != "" {
			fmt.Printf(" [%s]", p.usbInfo)
		}
		if discoveryListOnly {
			fmt.Println()
			continue
		}
		fmt.Printf(": ")

		hw, snap, err := probePort(p.name)
		if err != nil {
			fmt.Printf("no BMS (%v)\n", err)
			continue
		}
		found++
		fmt.Printf("%s, capacity %.3f Ah\n", hw, snap.Capacity)
	}

	if discoveryListOnly {
		return nil
	}

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("BMS found: %d of %d ports\n", found, len(ports))
	if found == 0 {
		fmt.Printf("No BMS answered. Check wiring, baud rate and that the BMS is awake.\n")
		return &ExitError{Code: ExitFailure}
	}
	return nil
}

// probePort runs configuration discovery on one serial port
func probePort(name string) (string, *sinowealth.Snapshot, error) {
	conn, err := OpenSerialConnection(name, cfg.Connection.Baud)
	if err != nil {
		return "", nil, err
	}
	defer conn.Close()

	engine := sinowealth.NewEngine(NewRegisterTransport(conn, cfg.Timeout(), appLog), sinowealth.WithLogger(appLog))
	snap := &sinowealth.Snapshot{}
	if err := engine.Establish(snap); err != nil {
		return "", nil, err
	}
	return engine.HardwareVersion(), snap, nil
}

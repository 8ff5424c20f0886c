// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/sinostat/pkg/sinowealth"
)

var (
	readList bool
	readAll  bool
)

var readCmd = &cobra.Command{
	Use:   "read [register...]",
	Short: "Read single registers and show raw and decoded replies",
	Long: `Send one command frame per register and print the request frame, the raw
reply bytes and the decoded value.

Registers may be given by name (SOC, CURRENT, PACK_CONFIG), by cell
(cell3 or CELL_3_VOLTAGE), or by code (0x13, 19). Use --list to show the
register table and --all to read every named register.

This bypasses the acquisition sequence entirely: no configuration discovery,
no snapshot. It is meant for wiring checks and reverse engineering.`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().BoolVarP(&readList, "list", "l", false, "List known registers and exit")
	readCmd.Flags().BoolVarP(&readAll, "all", "a", false, "Read every named register")
}

func runRead(cmd *cobra.Command, args []string) error {
	if readList {
		printRegisterTable()
		return nil
	}

	var regs []sinowealth.Register
	if readAll {
		regs = sinowealth.Registers()
	}
	for _, arg := range args {
		r, err := parseRegister(arg)
		if err != nil {
			return err
		}
		regs = append(regs, r)
	}
	if len(regs) == 0 {
		return fmt.Errorf("no registers given (see --list)")
	}

	conn, connInfo, err := OpenConnection(cfg.Connection)
	if err != nil {
		return err
	}
	defer conn.Close()
	transport := NewRegisterTransport(conn, cfg.Timeout(), appLog)

	fmt.Printf("Sinostat - Register Read\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	failures := 0
	for _, r := range regs {
		frame := r.Frame()
		start := time.Now()
		reply, err := transport.SendAndReceive(frame.Bytes(), frame.LengthHint())
		rtt := time.Since(start).Round(time.Millisecond)

		fmt.Printf("%s (0x%02X)\n", r.Name, r.Code)
		fmt.Printf("  TX: %s\n", frame)
		if err != nil {
			fmt.Printf("  RX: %v (%v)\n\n", err, rtt)
			failures++
			continue
		}
		fmt.Printf("  RX: %s (%d bytes, %v)\n", sinowealth.FormatHex(reply), len(reply), rtt)
		fmt.Printf("  =>  %s\n\n", sinowealth.FormatRegisterValue(r, reply))
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d registers did not answer\n", failures, len(regs))
		return &ExitError{Code: ExitFailure}
	}
	return nil
}

// parseRegister resolves a register name, cell reference or numeric code
func parseRegister(arg string) (sinowealth.Register, error) {
	upper := strings.ToUpper(strings.TrimSpace(arg))

	for _, r := range sinowealth.Registers() {
		if r.Name == upper {
			return r, nil
		}
	}

	if rest, ok := strings.CutPrefix(upper, "CELL"); ok {
		rest = strings.TrimPrefix(rest, "_")
		rest = strings.TrimSuffix(rest, "_VOLTAGE")
		n, err := strconv.Atoi(rest)
		if err != nil || n < sinowealth.MinCellCount || n > sinowealth.MaxCellCount {
			return sinowealth.Register{}, fmt.Errorf("invalid cell reference %q (cells %d-%d)", arg, sinowealth.MinCellCount, sinowealth.MaxCellCount)
		}
		return sinowealth.CellRegister(n), nil
	}

	code, err := strconv.ParseUint(upper, 0, 8)
	if err != nil {
		return sinowealth.Register{}, fmt.Errorf("unknown register %q", arg)
	}
	if r, ok := sinowealth.Lookup(byte(code)); ok {
		return r, nil
	}
	return sinowealth.Register{
		Code: byte(code),
		Name: "UNKNOWN",
		Kind: sinowealth.KindVoltage,
	}, nil
}

func printRegisterTable() {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tUNIT\tMIN REPLY")
	fmt.Fprintf(w, "0x01-0x%02X\tCELL_n_VOLTAGE\tV\t3\n", sinowealth.MaxCellCount)
	for _, r := range sinowealth.Registers() {
		fmt.Fprintf(w, "0x%02X\t%s\t%s\t%d\n", r.Code, r.Name, r.Unit, r.MinResponse())
	}
	w.Flush()
}

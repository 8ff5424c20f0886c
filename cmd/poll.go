// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sinostat/internal/config"
	"github.com/Thermoquad/sinostat/pkg/sinowealth"
)

var (
	pollIntervalMs int
	pollCount      int
	pollFormat     string
	statsInterval  int
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Refresh telemetry on an interval and print each snapshot",
	Long: `Discover the pack configuration, then run a refresh cycle every interval.

Text output prints a readable block per cycle. CBOR output writes one
integer-keyed map per cycle to stdout for piping into other tools; log
messages and statistics always go to stderr.

A failed cycle keeps whatever it read before the failing register. The
configuration is discovered again on the next cycle if discovery failed.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().IntVarP(&pollIntervalMs, "interval", "i", config.DefaultIntervalMs, "Refresh interval (ms)")
	pollCmd.Flags().IntVarP(&pollCount, "count", "n", 0, "Number of cycles (0 = until interrupted)")
	pollCmd.Flags().StringVarP(&pollFormat, "format", "f", config.FormatText, "Output format (text, cbor)")
	pollCmd.Flags().IntVar(&statsInterval, "stats-interval", 0, "Statistics summary interval in seconds (0 = at exit only)")
}

// cycleSink writes one snapshot
type cycleSink func(snap *sinowealth.Snapshot, err error) error

func runPoll(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("interval") {
		cfg.Poll.IntervalMs = pollIntervalMs
	}
	if cmd.Flags().Changed("count") {
		cfg.Poll.Count = pollCount
	}
	if cmd.Flags().Changed("format") {
		cfg.Poll.Format = pollFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	engine, conn, connInfo, err := openEngine()
	if err != nil {
		return err
	}
	defer conn.Close()

	var sink cycleSink
	switch cfg.Poll.Format {
	case config.FormatCBOR:
		sink = cborSink(os.Stdout)
	default:
		fmt.Printf("Sinostat - Poll\n")
		fmt.Printf("Connection: %s\n", connInfo)
		fmt.Printf("Interval: %v\n", cfg.Interval())
		fmt.Printf("Press Ctrl+C to exit\n\n")
		sink = textSink(os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := sinowealth.NewStatistics()
	err = pollLoop(ctx, engine, stats, sink)
	fmt.Fprint(os.Stderr, "\n"+stats.String())
	return err
}

// pollLoop runs one cycle immediately, then one per tick, until ctx ends or
// the configured count is reached
func pollLoop(ctx context.Context, engine *sinowealth.Engine, stats *sinowealth.Statistics, sink cycleSink) error {
	ticker := time.NewTicker(cfg.Interval())
	defer ticker.Stop()

	var statsTick <-chan time.Time
	if statsInterval > 0 {
		t := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer t.Stop()
		statsTick = t.C
	}

	var snap sinowealth.Snapshot
	for cycle := 1; ; cycle++ {
		err := runCycle(engine, &snap)
		anomalies := []sinowealth.ValidationError{}
		if err == nil {
			anomalies = sinowealth.ValidateSnapshot(&snap)
		} else {
			appLog.Warn("cycle %d failed: %v", cycle, err)
		}
		for _, a := range anomalies {
			appLog.Warn("cycle %d: %s", cycle, a.Message)
		}
		stats.Update(err, anomalies)

		if sinkErr := sink(&snap, err); sinkErr != nil {
			return sinkErr
		}
		if cfg.Poll.Count > 0 && cycle >= cfg.Poll.Count {
			return nil
		}

		for waiting := true; waiting; {
			select {
			case <-ctx.Done():
				return nil
			case <-statsTick:
				fmt.Fprint(os.Stderr, "\n"+stats.String())
			case <-ticker.C:
				waiting = false
			}
		}
	}
}

// runCycle establishes until an Establish has fully succeeded, then refreshes
func runCycle(engine *sinowealth.Engine, snap *sinowealth.Snapshot) error {
	if !engine.Established() {
		if err := engine.Establish(snap); err != nil {
			return err
		}
		appLog.Info("connected to %s", engine.HardwareVersion())
	}
	return engine.Refresh(snap)
}

func textSink(w io.Writer) cycleSink {
	return func(snap *sinowealth.Snapshot, err error) error {
		if err != nil {
			ts := time.Now().Format("15:04:05.000")
			fmt.Fprintf(w, "[%s] CYCLE FAILED: %v\n", ts, err)
			return nil
		}
		_, werr := fmt.Fprint(w, sinowealth.FormatSnapshot(snap))
		return werr
	}
}

// cborSink streams one map per good cycle. Failed cycles are skipped.
func cborSink(w io.Writer) cycleSink {
	enc := cbor.NewEncoder(w)
	return func(snap *sinowealth.Snapshot, err error) error {
		if err != nil {
			return nil
		}
		if encErr := enc.Encode(sinowealth.SnapshotMap(snap)); encErr != nil {
			return fmt.Errorf("failed to write CBOR: %w", encErr)
		}
		return nil
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/pkg/history"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

var replayShowFrames bool

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Fold a recorded capture through the state reconciler",
	Long: `Read a CBOR capture written by raw_log --record or monitor --record and
replay every inbound frame through the state reconciler, starting from the
default state.

Each resulting state change is printed; --frames prints every frame too.
The final state is printed at the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayShowFrames, "frames", false, "Print every frame")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	fmt.Printf("Cistern - Replay\n")
	fmt.Printf("Capture: %s\n\n", args[0])

	stats := tankproto.NewStatistics()
	initial := tankproto.DefaultState()
	// The connection itself is not captured
	initial.IsConnected = true
	initial.SystemStatus.Connected = true

	var tracker history.Tracker
	tracker.Next(initial, time.Time{})

	final, err := tankproto.Replay(tankproto.NewCaptureReader(f), initial, func(rec tankproto.Record, msg tankproto.Message, next tankproto.State) {
		ts := rec.Time.Format("15:04:05.000")
		if msg == nil {
			if replayShowFrames {
				fmt.Printf("[%s] %s %s\n", ts, rec.Direction, rec.Frame)
			}
			return
		}
		if failed, ok := msg.(tankproto.DecodeFailed); ok {
			stats.Update(nil, failed.Err)
		} else {
			stats.Update(msg, nil)
		}
		if replayShowFrames {
			fmt.Printf("%s %s\n", rec.Direction, tankproto.FormatMessage(rec.Time, msg))
		}
		for _, e := range tracker.Next(next, rec.Time) {
			fmt.Printf("[%s] %-12s %s -> %s%s\n", ts, e.Point, e.PreviousValue, e.NewValue, e.Units)
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%s\n", tankproto.FormatState(final))
	fmt.Print(stats.String())
	return nil
}

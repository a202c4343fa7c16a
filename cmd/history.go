// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/internal/prefs"
	"github.com/Thermoquad/cistern/pkg/history"
)

var (
	historyPath  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history [point]",
	Short: "List recorded state changes",
	Long: `List the changes recorded by monitor --history, newest first.

Points: connected, error, mode, topology, motor1, motor2, settings,
tankA.upper, tankA.lower, tankB.upper, tankB.lower.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyPath, "history-db", prefs.DefaultHistoryPath(), "History database path")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Number of events to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, err := prefs.ExpandPath(historyPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no history at %s: run monitor --history first", path)
	}

	rec, err := history.Open(path)
	if err != nil {
		return err
	}
	defer rec.Close()

	point := ""
	if len(args) == 1 {
		point = args[0]
	}
	events, err := rec.List(cmd.Context(), point, historyLimit)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Printf("No events recorded\n")
		return nil
	}
	for _, e := range events {
		fmt.Printf("%s  %-10s %-12s %s -> %s%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Point, e.PreviousValue, e.NewValue, e.Units)
	}
	return nil
}

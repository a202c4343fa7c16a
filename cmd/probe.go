// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

var (
	probeTimeout int
	probeCount   int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Measure the controller's response time",
	Long: `Send getHomeData requests and wait for each homeData reply.

Useful for verifying the controller is reachable and answering commands.

Exit codes:
  0 - All requests answered
  1 - At least one request timed out
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 5, "Timeout in seconds for each request")
	probeCmd.Flags().IntVar(&probeCount, "count", 3, "Number of requests to send")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := ConnectSession(ctx, nil, defaultConnectTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(exitConnError)
	}
	defer s.Close()

	fmt.Printf("Cistern - Probe\n")
	fmt.Printf("Connection: %s\n", connectionInfo(s))
	fmt.Printf("Timeout: %d seconds per request\n", probeTimeout)
	fmt.Printf("Count: %d requests\n\n", probeCount)

	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= probeCount; i++ {
		fmt.Printf("Request %d/%d: ", i, probeCount)

		rtt, snap, err := requestHome(ctx, s, time.Duration(probeTimeout)*time.Second)
		if err != nil {
			fmt.Printf("%v\n", err)
			failCount++
		} else {
			st := snap.State.SystemStatus
			fmt.Printf("homeData, mode=%s, motor=%s, rtt=%v\n", st.Mode, st.MotorStatus, rtt.Round(time.Millisecond))
			total += rtt
			successCount++
		}

		// Small delay between requests
		if i < probeCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Probe statistics ---\n")
	fmt.Printf("%d requests sent, %d responses received, %.0f%% loss\n",
		probeCount, successCount, float64(failCount)/float64(probeCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt %v\n", (total / time.Duration(successCount)).Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(exitFailed)
	}
	return nil
}

// requestHome sends getHomeData and waits for the next home update
func requestHome(ctx context.Context, s *tanklink.Session, timeout time.Duration) (time.Duration, tanklink.Snapshot, error) {
	ch, cancel := s.Subscribe()
	defer cancel()
	base := s.Snapshot().Status.HomeUpdates

	start := time.Now()
	if err := s.SendCommand(tankproto.Command(tankproto.CmdGetHomeData)); err != nil {
		return 0, tanklink.Snapshot{}, fmt.Errorf("SEND FAILED: %v", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return 0, snap, fmt.Errorf("SESSION CLOSED")
			}
			if snap.Status.HomeUpdates > base {
				return time.Since(start), snap, nil
			}
		case <-timer.C:
			return 0, tanklink.Snapshot{}, fmt.Errorf("TIMEOUT (no response in %v)", timeout)
		case <-ctx.Done():
			return 0, tanklink.Snapshot{}, ctx.Err()
		}
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

var (
	discoverTimeout    int
	discoverCandidates []string
	discoverSerial     bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan the network for water tank controllers",
	Long: `Probe the common controller addresses in small batches and list every
address that accepts a connection on the control port.

The controller's access point address (192.168.4.1) is probed first. The scan
stops after the first batch with a hit, and the first device found is
remembered as the default address.

Examples:
  # Scan the default candidate list
  cistern discover

  # Scan specific hosts
  cistern discover --candidates 10.0.0.20,10.0.0.21

  # List serial ports as well
  cistern discover --serial

Exit codes:
  0 - At least one device found
  1 - No devices found
  2 - Scan error`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", int(tankproto.ProbeTimeout/time.Second), "Timeout in seconds for each probe")
	discoverCmd.Flags().StringSliceVar(&discoverCandidates, "candidates", nil, "Addresses to probe instead of the common list")
	discoverCmd.Flags().BoolVar(&discoverSerial, "serial", false, "Also list serial ports")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := sessionConfig(nil)
	if err != nil {
		return err
	}
	cfg.Candidates = discoverCandidates
	cfg.ProbeTimeout = time.Duration(discoverTimeout) * time.Second
	s := tanklink.NewSession(cfg)
	defer s.Close()

	candidates := discoverCandidates
	if candidates == nil {
		candidates = tanklink.CommonAddresses
	}

	fmt.Printf("Cistern - Device Discovery\n")
	fmt.Printf("Candidates: %d\n", len(candidates))
	fmt.Printf("Timeout: %d seconds per probe\n\n", discoverTimeout)

	if discoverSerial {
		ports, err := tanklink.DetectSerialPorts()
		if err != nil {
			fmt.Printf("Serial ports: %v\n\n", err)
		} else {
			fmt.Printf("Serial ports: %d\n", len(ports))
			for _, p := range ports {
				fmt.Printf("  %s\n", p)
			}
			fmt.Println()
		}
	}

	ch, cancel := s.Subscribe()
	defer cancel()

	fmt.Printf("Scanning...\n")
	if err := s.Scan(); err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		os.Exit(exitConnError)
	}

	var result tanklink.ScanStatus
wait:
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				break wait
			}
			if !snap.Status.Scan.Scanning && snap.Status.Scan.Message != "" {
				result = snap.Status.Scan
				break wait
			}
		case <-cmd.Context().Done():
			fmt.Printf("\nInterrupted\n")
			os.Exit(exitConnError)
		}
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Devices found: %d\n", len(result.Found))
	for _, addr := range result.Found {
		fmt.Printf("  %s\n", addr)
	}

	if len(result.Found) == 0 {
		fmt.Printf("%s\n", result.Message)
		os.Exit(exitFailed)
	}
	return nil
}

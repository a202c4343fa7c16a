// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/internal/prefs"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive dashboard for the water tank controller",
	Long: `Monitor and control the water tank controller via an interactive terminal UI.

Features:
  - Tank levels, motor states, mode and automation reasons
  - Motor control and data refresh
  - Device discovery and manual address entry
  - Connection status with automatic reconnection
  - Event log of every state change

Keys:
  1 / 2   toggle motor 1 / motor 2
  a       load all data
  s       scan for devices
  d       disconnect
  i       cycle the refresh interval
  Tab     switch between the device list and the address field
  Enter   connect to the selected or entered address
  q       quit

Logs are discarded unless --log-file is given, since the dashboard owns the
terminal.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, _ := prefs.Load(prefsPath)

	s, err := OpenSession(ctx, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	m := initialControlModel(ctx, s, p.Address, p.RefreshInterval())
	defer m.stopRefresher()

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	// Forward published snapshots to the UI
	snaps, cancel := s.Subscribe()
	defer cancel()
	go func() {
		for snap := range snaps {
			program.Send(snapshotMsg(snap))
		}
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

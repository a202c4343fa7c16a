// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

var commandTimeout int

var motorCmd = &cobra.Command{
	Use:   "motor <1|2> <on|off>",
	Short: "Switch a motor on or off",
	Long: `Send a single motor command and print the motor state the controller
reports back.

Examples:
  cistern motor 1 on
  cistern --host 192.168.4.1 motor 2 off`,
	Args: cobra.ExactArgs(2),
	RunE: runMotor,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Load all data from the controller and print the state",
	RunE:  runRefresh,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the controller",
	Long: `Send systemReset. The controller restarts and drops the connection.`,
	RunE: runReset,
}

func init() {
	for _, c := range []*cobra.Command{motorCmd, refreshCmd, resetCmd} {
		rootCmd.AddCommand(c)
		c.Flags().IntVar(&commandTimeout, "timeout", int(tankproto.LoadTimeout/time.Second), "Seconds to wait for the controller's reply")
	}
}

// withSession connects, runs fn and closes the session. Connection
// failures exit with the connection error code.
func withSession(ctx context.Context, fn func(s *tanklink.Session) error) error {
	s, err := ConnectSession(ctx, nil, defaultConnectTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(exitConnError)
	}
	defer s.Close()
	return fn(s)
}

// waitSnapshot waits until cond holds for a published snapshot
func waitSnapshot(ctx context.Context, s *tanklink.Session, timeout time.Duration, cond func(tanklink.Snapshot) bool) (tanklink.Snapshot, bool) {
	ch, cancel := s.Subscribe()
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return snap, false
			}
			if cond(snap) {
				return snap, true
			}
		case <-timer.C:
			return s.Snapshot(), false
		case <-ctx.Done():
			return s.Snapshot(), false
		}
	}
}

func runMotor(cmd *cobra.Command, args []string) error {
	motor, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid motor %q", args[0])
	}
	var on bool
	switch args[1] {
	case "on":
		on = true
	case "off":
		on = false
	default:
		return fmt.Errorf("invalid motor state %q (want on or off)", args[1])
	}
	intent, err := tankproto.MotorCommand(motor, on)
	if err != nil {
		return err
	}

	want := tankproto.MotorOff
	if on {
		want = tankproto.MotorOn
	}

	return withSession(cmd.Context(), func(s *tanklink.Session) error {
		// A successful send publishes nothing, so anything newer than base
		// was reconciled after the command went out
		base := s.Snapshot().Version
		if err := s.SendCommand(intent); err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", intent.Type)

		snap, ok := waitSnapshot(cmd.Context(), s, time.Duration(commandTimeout)*time.Second, func(snap tanklink.Snapshot) bool {
			return motorConfirmed(snap, base, motor, want)
		})
		if !ok {
			fmt.Printf("No confirmation within %ds (motor %d is %s)\n", commandTimeout, motor, motorState(snap.State, motor))
			os.Exit(exitFailed)
		}
		fmt.Printf("Motor %d: %s\n", motor, want)
		return nil
	})
}

// motorConfirmed reports whether snap is newer than base and shows the motor
// in the wanted state
func motorConfirmed(snap tanklink.Snapshot, base uint64, motor int, want tankproto.MotorState) bool {
	return snap.Version > base && motorState(snap.State, motor) == want
}

func motorState(s tankproto.State, motor int) tankproto.MotorState {
	if motor == 2 {
		return s.SystemStatus.Motor2Status
	}
	return s.SystemStatus.Motor1Status
}

func runRefresh(cmd *cobra.Command, args []string) error {
	return withSession(cmd.Context(), func(s *tanklink.Session) error {
		if err := s.LoadAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Println(tankproto.FormatState(s.Snapshot().State))
		return nil
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	return withSession(cmd.Context(), func(s *tanklink.Session) error {
		if err := s.SendCommand(tankproto.Command(tankproto.CmdSystemReset)); err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", tankproto.CmdSystemReset)

		// The controller drops the link when it restarts
		_, closed := waitSnapshot(cmd.Context(), s, time.Duration(commandTimeout)*time.Second, func(snap tanklink.Snapshot) bool {
			return !snap.State.IsConnected
		})
		if closed {
			fmt.Printf("Controller restarting\n")
		}
		return nil
	})
}

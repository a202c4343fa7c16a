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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/internal/prefs"
	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

var (
	// Network connection flags
	hostName      string
	wsPort        int
	wsSecure      bool
	wsNoSSLVerify bool
	wsUsername    string
	staleTimeout  time.Duration

	// Serial connection flags
	portName string
	baudRate int

	// Preferences and logging
	prefsPath string
	logLevel  string
	logFile   string
)

// logger is configured before every command runs
var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "cistern",
	Short: "Water tank controller client",
	Long: `Cistern - A client for the ESP32 water tank controller.

Connects to the controller's WebSocket control port, keeps a reconciled view
of tank levels, motor state and settings, and sends commands.

Connection modes:
  Network: --host 192.168.4.1 [--ws-port 81] [--secure] [--username user]
  Serial:  --port /dev/ttyUSB0 [--baud 115200]

When neither is given, the last address that connected is used, and the
common controller addresses are scanned when nothing is stored.

Passwords are read from the environment, or prompted interactively if not set:
  CISTERN_PASSWORD       HTTP Basic auth password (with --username)
  CISTERN_WIFI_PASSWORD  network password for wifi set`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	// Network connection flags
	rootCmd.PersistentFlags().StringVarP(&hostName, "host", "H", "", "Controller address (host, host:port or ws:// URL)")
	rootCmd.PersistentFlags().IntVar(&wsPort, "ws-port", tankproto.DefaultPort, "Control port used when the address has none")
	rootCmd.PersistentFlags().BoolVar(&wsSecure, "secure", false, "Use wss:// (local network addresses are refused)")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().DurationVar(&staleTimeout, "stale-timeout", 3*tankproto.HeartbeatInterval, "Reconnect when the device sends nothing for this long (0 disables)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", tanklink.DefaultBaudRate, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVar(&prefsPath, "prefs", prefs.DefaultPath(), "Preferences file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a file instead of stderr")
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	var out io.Writer
	switch {
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = f
	case cmd.Name() == "control":
		// The dashboard owns the terminal
		logger = zerolog.Nop()
		return nil
	default:
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}

	logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return nil
}

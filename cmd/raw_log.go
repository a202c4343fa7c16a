// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/internal/prefs"
	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

var (
	rawRecordPath    string
	rawStatsInterval int
	rawRequest       bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every frame in human-readable format",
	Long: `Continuously decode and display controller frames as they arrive.

Each frame is printed with a timestamp, its message kind and the fields it
carries. Frames that fail to decode are highlighted.

With --record, every frame is also appended to a CBOR capture file that the
replay command can fold through the state reconciler later.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawRecordPath, "record", "", "Write a CBOR capture to this file")
	rawLogCmd.Flags().IntVar(&rawStatsInterval, "stats-interval", 0, "Print statistics every N seconds (0 disables)")
	rawLogCmd.Flags().BoolVar(&rawRequest, "request", true, "Request all data after connecting")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var capture *tankproto.CaptureWriter
	if rawRecordPath != "" {
		f, err := os.Create(rawRecordPath)
		if err != nil {
			return fmt.Errorf("create capture file: %w", err)
		}
		defer f.Close()
		capture = tankproto.NewCaptureWriter(f)
	}

	address := explicitAddress()
	if address == "" {
		p, _ := prefs.Load(prefsPath)
		address = p.Address
	}
	if address == "" {
		return fmt.Errorf("no address: use --host or --port, or run discover first")
	}

	// The link is driven directly so that every frame is seen, not just
	// the latest snapshot
	cfg, err := sessionConfig(nil)
	if err != nil {
		return err
	}
	events := make(chan tanklink.Event, 64)
	link := tanklink.NewLink(cfg.Dialer, cfg.Addresses, cfg.Options, func(ev tanklink.Event) { events <- ev }, logger)
	if err := link.Connect(address); err != nil {
		return err
	}
	defer link.Disconnect()

	stats := tankproto.NewStatistics()
	var statsTick <-chan time.Time
	if rawStatsInterval > 0 {
		ticker := time.NewTicker(time.Duration(rawStatsInterval) * time.Second)
		defer ticker.Stop()
		statsTick = ticker.C
	}

	fmt.Printf("Cistern - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", address)
	if capture != nil {
		fmt.Printf("Recording: %s\n", rawRecordPath)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	for {
		select {
		case <-ctx.Done():
			if rawStatsInterval > 0 {
				fmt.Print(stats.String())
			}
			return nil

		case <-statsTick:
			fmt.Print(stats.String())

		case ev := <-events:
			switch ev := ev.(type) {
			case tanklink.EventOpen:
				if !link.Accept(ev) {
					continue
				}
				fmt.Printf("Connected: %s\n\n", ev.Target)
				if rawRequest {
					sendRaw(link, capture, tankproto.CmdGetAllData)
				}

			case tanklink.EventMessage:
				if !link.Current(ev) {
					continue
				}
				if capture != nil {
					if err := capture.Write(tankproto.Inbound, ev.At, ev.Data); err != nil {
						logger.Warn().Err(err).Msg("capture write failed")
					}
				}
				msg, err := tankproto.Decode(ev.Data)
				stats.Update(msg, err)
				if err != nil {
					printDecodeError(ev.At, err)
					continue
				}
				fmt.Println(tankproto.FormatMessage(ev.At, msg))

			case tanklink.EventClose:
				if link.Lost(ev) {
					fmt.Printf("Connection closed (code %d)\n", ev.Code)
					return nil
				}

			case tanklink.EventError:
				if link.Lost(ev) {
					return fmt.Errorf("connection error: %w", ev.Err)
				}
			}
		}
	}
}

// sendRaw writes one command token and records it
func sendRaw(link *tanklink.Link, capture *tankproto.CaptureWriter, token string) {
	frame := []byte(token)
	if err := link.Send(frame); err != nil {
		if errors.Is(err, tanklink.ErrNotConnected) {
			fmt.Printf("[ERROR] %s: not connected\n", token)
			return
		}
		fmt.Printf("[ERROR] %s: %v\n", token, err)
		return
	}
	if capture != nil {
		capture.Write(tankproto.Outbound, time.Now(), frame)
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(ts time.Time, err error) {
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", ts.Format("15:04:05.000"), err)
}

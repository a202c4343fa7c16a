// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/internal/prefs"
	"github.com/Thermoquad/cistern/pkg/bridge"
	"github.com/Thermoquad/cistern/pkg/history"
	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

var (
	monitorMQTT        string
	monitorMQTTPrefix  string
	monitorHistory     bool
	monitorHistoryPath string
	monitorRecordPath  string
	monitorRefresh     time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Follow the controller headless and log every change",
	Long: `Keep a session open and log every state transition: connection changes,
motor and mode changes, tank level movements and errors.

The session reconnects on its own after a dropped link and requests all data
after every reconnect. When reconnection gives up, monitor starts again after
a pause.

Optional sinks:
  --mqtt tcp://broker:1883   republish state and changes to MQTT
  --history                  record changes in the SQLite history
  --record file              write a CBOR capture of every frame`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorMQTT, "mqtt", "", "MQTT broker URL")
	monitorCmd.Flags().StringVar(&monitorMQTTPrefix, "mqtt-prefix", bridge.DefaultTopicPrefix, "MQTT topic prefix")
	monitorCmd.Flags().BoolVar(&monitorHistory, "history", false, "Record changes in the history database")
	monitorCmd.Flags().StringVar(&monitorHistoryPath, "history-db", prefs.DefaultHistoryPath(), "History database path")
	monitorCmd.Flags().StringVar(&monitorRecordPath, "record", "", "Write a CBOR capture to this file")
	monitorCmd.Flags().DurationVar(&monitorRefresh, "refresh", -1, "Home data refresh interval (default from preferences)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var capture *tankproto.CaptureWriter
	if monitorRecordPath != "" {
		f, err := os.Create(monitorRecordPath)
		if err != nil {
			return fmt.Errorf("create capture file: %w", err)
		}
		defer f.Close()
		capture = tankproto.NewCaptureWriter(f)
	}

	refresh := monitorRefresh
	if refresh < 0 {
		p, _ := prefs.Load(prefsPath)
		refresh = p.RefreshInterval()
	}

	s, err := OpenSession(ctx, capture)
	if err != nil {
		return err
	}
	defer s.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	if monitorMQTT != "" {
		pub, err := bridge.NewRealPublisher(monitorMQTT, monitorMQTTPrefix)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer pub.Close()

		snaps, cancel := s.Subscribe()
		defer cancel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			bridge.Run(ctx, pub, snaps, logger)
		}()
		logger.Info().Str("broker", monitorMQTT).Str("prefix", monitorMQTTPrefix).Msg("mqtt bridge started")
	}

	if monitorHistory {
		path, err := prefs.ExpandPath(monitorHistoryPath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
		rec, err := history.Open(path)
		if err != nil {
			return err
		}
		defer rec.Close()

		snaps, cancel := s.Subscribe()
		defer cancel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			history.Run(ctx, rec, snaps, logger)
		}()
		logger.Info().Str("path", path).Msg("recording history")
	}

	tanklink.StartRefresher(ctx, s, refresh)
	return followSession(ctx, s)
}

// followSession logs transitions until ctx ends
func followSession(ctx context.Context, s *tanklink.Session) error {
	snaps, cancel := s.Subscribe()
	defer cancel()

	var prev *tanklink.Snapshot
	var tracker history.Tracker
	var restart <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-restart:
			restart = nil
			logger.Info().Msg("restarting connection")
			if err := s.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("restart failed")
			}

		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if prev == nil {
				logger.Info().Str("phase", snap.Status.Phase.String()).Str("target", snap.Status.Target).Msg("monitoring")
			}
			if prev != nil && prev.Status.Phase != snap.Status.Phase {
				logPhase(snap)
				if snap.Status.Phase == tanklink.PhaseExhausted {
					restart = time.After(time.Minute)
				}
			}
			if snap.State.IsConnected && (prev == nil || !prev.State.IsConnected) {
				go func() {
					if err := s.LoadAll(ctx); err != nil {
						logger.Warn().Err(err).Msg("bulk load failed")
					}
				}()
			}
			events := tracker.Next(snap.State, time.Now())
			if prev != nil {
				for _, e := range events {
					logger.Info().
						Str("point", e.Point).
						Str("from", e.PreviousValue).
						Str("to", e.NewValue+e.Units).
						Msg(e.Kind)
				}
				if prev.Status.Scan.Message != snap.Status.Scan.Message && snap.Status.Scan.Message != "" {
					logger.Info().Strs("found", snap.Status.Scan.Found).Msg(snap.Status.Scan.Message)
				}
			}
			current := snap
			prev = &current
		}
	}
}

func logPhase(snap tanklink.Snapshot) {
	ev := logger.Info()
	if snap.Status.Phase == tanklink.PhaseFailed || snap.Status.Phase == tanklink.PhaseExhausted {
		ev = logger.Warn().Str("error", snap.State.Error)
	}
	ev.Str("phase", snap.Status.Phase.String()).
		Int("attempts", snap.Status.Attempts).
		Str("target", snap.Status.Target).
		Msg("connection")
}

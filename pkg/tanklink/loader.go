// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"context"
	"errors"
	"time"

	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// ErrLoadFailed is returned when the initial bulk load never completed
var ErrLoadFailed = errors.New("failed to load device data")

// LoadAll requests getAllData and waits until both home and settings data
// have arrived. Each attempt waits LoadTimeout; after LoadAttempts the
// state error is set and ErrLoadFailed returned.
func (s *Session) LoadAll(ctx context.Context) error {
	for attempt := 1; attempt <= s.cfg.LoadAttempts; attempt++ {
		ch, cancel := s.Subscribe()
		base := s.Snapshot().Status

		err := s.SendCommand(tankproto.Command(tankproto.CmdGetAllData))
		if err == nil && waitLoaded(ctx, ch, base, s.cfg.LoadTimeout) {
			cancel()
			return nil
		}
		cancel()

		if errors.Is(err, ErrClosed) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Int("attempt", attempt).Msg("bulk load timed out")

		if attempt < s.cfg.LoadAttempts {
			select {
			case <-time.After(s.cfg.LoadRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.do(func() { s.commit(s.keepTerminal(s.state.WithError(tankproto.ErrTextLoadFailed))) })
	return ErrLoadFailed
}

func waitLoaded(ctx context.Context, ch <-chan Snapshot, base Status, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return false
			}
			if snap.Status.HomeUpdates > base.HomeUpdates && snap.Status.SettingsUpdates > base.SettingsUpdates {
				return true
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// WaitConnected blocks until the link is open. It returns early when the
// session gives up by itself: retries exhausted, an address refused, or a
// scan that found nothing.
func (s *Session) WaitConnected(ctx context.Context) error {
	ch, cancel := s.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			if snap.State.IsConnected {
				return nil
			}
			if err := connectFailure(snap); err != nil {
				return err
			}
		}
	}
}

// connectFailure maps a snapshot in which no connection is pending to the
// matching error
func connectFailure(snap Snapshot) error {
	switch {
	case snap.Status.Phase == PhaseExhausted:
		switch snap.State.Error {
		case tankproto.ErrTextMaxAttempts:
			return ErrMaxAttempts
		case tankproto.ErrTextMixedContent:
			return ErrMixedContent
		}
		return errors.New(snap.State.Error)
	case snap.Status.Phase == PhaseIdle && !snap.Status.Scan.Scanning &&
		snap.Status.Scan.Message == tankproto.ErrTextNoDevices:
		return ErrNoDevices
	}
	return nil
}

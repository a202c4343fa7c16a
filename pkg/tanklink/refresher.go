// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"context"
	"time"

	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// Commander is the part of a Session the refresher needs
type Commander interface {
	Snapshot() Snapshot
	SendCommand(in tankproto.Intent) error
}

// StartRefresher requests home data every interval while the session is
// connected. An interval of zero or less disables refreshing. The
// goroutine ends with ctx.
func StartRefresher(ctx context.Context, c Commander, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if !c.Snapshot().State.IsConnected {
				continue
			}
			c.SendCommand(tankproto.Command(tankproto.CmdGetHomeData))
		}
	}()
}

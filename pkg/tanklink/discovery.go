// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNoDevices is returned when a scan finds nothing
var ErrNoDevices = errors.New("no devices found")

// DefaultScanBatch is the number of candidates probed at once
const DefaultScanBatch = 3

// CommonAddresses are the addresses a controller usually ends up on:
// home router DHCP ranges and the ESP32 soft AP
var CommonAddresses = []string{
	"192.168.4.1", // ESP32 AP mode
	"192.168.4.2",
	"192.168.1.1",
	"192.168.1.2",
	"192.168.1.3",
	"192.168.1.4",
	"192.168.1.5",
	"192.168.1.6",
	"192.168.1.7",
	"192.168.1.8",
	"192.168.1.9",
	"192.168.1.10",
	"192.168.1.100",
	"192.168.1.101",
	"192.168.1.102",
	"192.168.1.103",
	"192.168.1.104",
	"192.168.1.105",
	"192.168.0.100",
	"192.168.0.101",
	"192.168.0.102",
	"10.0.0.1",
	"172.16.0.1",
}

// ProbeFunc tests one address
type ProbeFunc func(ctx context.Context, address string) error

// Discover probes candidates in batches and stops after the first batch
// that produced a hit. Hits are returned in candidate order.
func Discover(ctx context.Context, candidates []string, probe ProbeFunc, batch int) ([]string, error) {
	if batch <= 0 {
		batch = DefaultScanBatch
	}

	for start := 0; start < len(candidates); start += batch {
		end := min(start+batch, len(candidates))
		chunk := candidates[start:end]

		var mu sync.Mutex
		ok := make([]bool, len(chunk))

		g, gctx := errgroup.WithContext(ctx)
		for i, addr := range chunk {
			i, addr := i, addr
			g.Go(func() error {
				if err := probe(gctx, addr); err != nil {
					return nil
				}
				mu.Lock()
				ok[i] = true
				mu.Unlock()
				return nil
			})
		}
		g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scan cancelled: %w", err)
		}

		var found []string
		for i, hit := range ok {
			if hit {
				found = append(found, chunk[i])
			}
		}
		if len(found) > 0 {
			return found, nil
		}
	}
	return nil, ErrNoDevices
}

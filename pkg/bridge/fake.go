// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"sync"
	"time"

	"github.com/Thermoquad/cistern/pkg/history"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// States contains all published states.
	States []tankproto.State

	// StatePayloads contains the JSON payloads of published states.
	StatePayloads [][]byte

	// Events contains all published state changes.
	Events []history.Event

	// PublishError, if set, is returned by every publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishState records the state.
func (f *FakePublisher) PublishState(state tankproto.State, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatState(state, ts)
	if err != nil {
		return err
	}
	f.States = append(f.States, state)
	f.StatePayloads = append(f.StatePayloads, payload)
	return nil
}

// PublishEvent records the event.
func (f *FakePublisher) PublishEvent(event history.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Events = append(f.Events, event)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

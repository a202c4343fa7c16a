// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"sync"
	"time"

	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// ScanStatus describes the latest discovery scan
type ScanStatus struct {
	Scanning bool
	Found    []string
	Message  string
	At       time.Time
}

// Status is the session bookkeeping published next to the state
type Status struct {
	Phase       Phase
	Attempts    int
	MaxAttempts int
	Address     string
	Target      string
	Scan        ScanStatus

	Frames          uint64
	DecodeErrors    uint64
	HomeUpdates     uint64
	SettingsUpdates uint64
}

// Snapshot is one published, fully reconciled view
type Snapshot struct {
	Version uint64
	State   tankproto.State
	Status  Status
}

// Store holds the current snapshot and fans it out to subscribers.
//
// Subscribers receive on a one-slot channel; a slow reader only ever sees
// the newest snapshot.
type Store struct {
	mu      sync.RWMutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextID  int
}

// NewStore creates a store holding initial as version 0
func NewStore(initial tankproto.State) *Store {
	return &Store{
		current: Snapshot{State: initial},
		subs:    make(map[int]chan Snapshot),
	}
}

// Publish replaces the current snapshot and notifies subscribers
func (s *Store) Publish(state tankproto.State, status Status) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	status.Scan.Found = append([]string(nil), status.Scan.Found...)
	s.current = Snapshot{
		Version: s.current.Version + 1,
		State:   state,
		Status:  status,
	}
	for _, ch := range s.subs {
		offer(ch, s.current)
	}
	return s.current
}

// Snapshot returns the current snapshot
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.current
	snap.Status.Scan.Found = append([]string(nil), snap.Status.Scan.Found...)
	return snap
}

// Subscribe returns a channel that receives the current snapshot and then
// every later one, plus a cancel func that closes it
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Snapshot, 1)
	ch <- s.current
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// closeAll closes every subscriber channel
func (s *Store) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// offer delivers snap, replacing an unread older snapshot
func offer(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

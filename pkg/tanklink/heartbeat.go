// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import "time"

// EventHeartbeat fires when the heartbeat timer expires
type EventHeartbeat struct {
	Gen uint64
}

func (e EventHeartbeat) generation() uint64 { return e.Gen }

// heartbeat schedules keepalive pings for an open link. Like the
// Supervisor it is owned by the session loop; its timer only posts
// EventHeartbeat.
type heartbeat struct {
	interval time.Duration
	post     func(Event)

	timer *time.Timer
	gen   uint64
}

func newHeartbeat(interval time.Duration, post func(Event)) *heartbeat {
	return &heartbeat{interval: interval, post: post}
}

// schedule arms the next beat, replacing any pending one
func (h *heartbeat) schedule() {
	h.stop()
	if h.interval <= 0 {
		return
	}
	gen := h.gen
	h.timer = time.AfterFunc(h.interval, func() {
		h.post(EventHeartbeat{Gen: gen})
	})
}

// stop cancels the pending beat. Late fires are dropped by due.
func (h *heartbeat) stop() {
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// due reports whether ev is the live timer firing
func (h *heartbeat) due(ev EventHeartbeat) bool {
	if ev.Gen != h.gen || h.timer == nil {
		return false
	}
	h.timer = nil
	return true
}

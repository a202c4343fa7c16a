// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// ErrMaxAttempts is reported once the retry budget is spent
var ErrMaxAttempts = errors.New("max reconnection attempts reached")

// Policy bounds automatic reconnection
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
}

// DefaultPolicy allows three attempts with 2s, 3s backoff capped at 10s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
		Factor:      1.5,
	}
}

// Delay returns the wait before retry number attempt (1-based)
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Phase of the connection lifecycle
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseFailed    // waiting for a retry
	PhaseExhausted // terminal until an explicit Connect
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseFailed:
		return "retrying"
	case PhaseExhausted:
		return "exhausted"
	}
	return "unknown"
}

// EventRetry fires when a backoff timer expires
type EventRetry struct {
	Gen uint64
}

func (e EventRetry) generation() uint64 { return e.Gen }

// Supervisor applies the retry policy on top of a Link. Like the Link it
// is owned by the session loop; its timer only posts EventRetry.
type Supervisor struct {
	policy Policy
	post   func(Event)
	log    zerolog.Logger

	phase    Phase
	attempts int
	timer    *time.Timer
	timerGen uint64
}

// NewSupervisor creates an idle supervisor
func NewSupervisor(policy Policy, post func(Event), log zerolog.Logger) *Supervisor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	return &Supervisor{policy: policy, post: post, log: log}
}

// Phase returns the current phase
func (s *Supervisor) Phase() Phase { return s.phase }

// Attempts returns the number of consecutive failed attempts
func (s *Supervisor) Attempts() int { return s.attempts }

// Policy returns the retry policy
func (s *Supervisor) Policy() Policy { return s.policy }

// Begin starts an explicitly requested connection: the counter is zeroed
// and any pending retry cancelled
func (s *Supervisor) Begin() {
	s.CancelTimer()
	s.attempts = 0
	s.phase = PhaseConnecting
}

// Retrying marks an automatic attempt in progress
func (s *Supervisor) Retrying() {
	s.phase = PhaseConnecting
}

// Opened records a successful open
func (s *Supervisor) Opened() {
	s.CancelTimer()
	s.attempts = 0
	s.phase = PhaseConnected
}

// ResetAttempts zeroes the counter after the device proved alive
func (s *Supervisor) ResetAttempts() {
	s.attempts = 0
}

// Failed records a failed attempt or lost connection. It schedules a retry
// and returns true, or returns false once the budget is spent.
func (s *Supervisor) Failed() bool {
	s.CancelTimer()
	s.attempts++
	if s.attempts >= s.policy.MaxAttempts {
		s.phase = PhaseExhausted
		s.log.Warn().Int("attempts", s.attempts).Msg("giving up reconnecting")
		return false
	}

	s.phase = PhaseFailed
	delay := s.policy.Delay(s.attempts)
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(delay, func() {
		s.post(EventRetry{Gen: gen})
	})
	s.log.Info().Int("attempt", s.attempts).Dur("delay", delay).Msg("scheduling reconnect")
	return true
}

// Terminate stops automatic action after a policy failure
func (s *Supervisor) Terminate() {
	s.CancelTimer()
	s.phase = PhaseExhausted
}

// Due reports whether ev is the live retry timer firing
func (s *Supervisor) Due(ev EventRetry) bool {
	if ev.Gen != s.timerGen || s.phase != PhaseFailed {
		return false
	}
	s.timerGen++
	s.timer = nil
	return true
}

// Stop cancels any retry and returns to idle
func (s *Supervisor) Stop() {
	s.CancelTimer()
	s.attempts = 0
	s.phase = PhaseIdle
}

// CancelTimer stops a pending retry. Late fires are dropped by Due.
func (s *Supervisor) CancelTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// Link errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrMixedContent = errors.New("mixed content: private network address in a secure context")
)

// DefaultDialTimeout bounds a connection attempt made by the Link
const DefaultDialTimeout = 10 * time.Second

// Transport is one open, framed, bidirectional connection
type Transport interface {
	// ReadFrame blocks until the next frame arrives. A closed connection
	// is reported as *CloseError.
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	// Close closes the connection, sending code where the transport
	// supports close codes
	Close(code int) error
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, target Target) (Transport, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, target Target) (Transport, error)

// Dial calls f
func (f DialerFunc) Dial(ctx context.Context, target Target) (Transport, error) {
	return f(ctx, target)
}

// CloseError reports that the peer closed the connection
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("connection closed (%d): %s", e.Code, e.Text)
	}
	return fmt.Sprintf("connection closed (%d)", e.Code)
}

//////////////////////////////////////////////////////////////
// Events
//////////////////////////////////////////////////////////////

// Event is delivered to the session loop. Gen identifies the connection
// attempt that produced it; events from superseded attempts are dropped.
type Event interface {
	generation() uint64
}

// EventOpen reports a successful dial
type EventOpen struct {
	Gen       uint64
	Target    Target
	transport Transport
}

// EventMessage carries one inbound frame
type EventMessage struct {
	Gen  uint64
	Data []byte
	At   time.Time
}

// EventClose reports that the connection closed
type EventClose struct {
	Gen  uint64
	Code int
}

// EventError reports a dial failure or transport error
type EventError struct {
	Gen  uint64
	Err  error
	Dial bool
}

func (e EventOpen) generation() uint64    { return e.Gen }
func (e EventMessage) generation() uint64 { return e.Gen }
func (e EventClose) generation() uint64   { return e.Gen }
func (e EventError) generation() uint64   { return e.Gen }

//////////////////////////////////////////////////////////////
// Link
//////////////////////////////////////////////////////////////

type linkState int

const (
	linkIdle linkState = iota
	linkDialing
	linkOpen
)

// Link owns at most one transport. It reports transitions as events and
// never retries on its own.
//
// Link methods other than Probe must be called from a single goroutine
// (the session loop); dial and read goroutines only post events.
type Link struct {
	dialer      Dialer
	addresses   AddressStore
	opts        Options
	dialTimeout time.Duration
	post        func(Event)
	log         zerolog.Logger

	// OnConnect runs at the start of every Connect
	OnConnect func()

	gen        uint64
	state      linkState
	transport  Transport
	target     Target
	cancelDial context.CancelFunc
}

// NewLink creates a link that posts its events through post
func NewLink(dialer Dialer, addresses AddressStore, opts Options, post func(Event), log zerolog.Logger) *Link {
	if addresses == nil {
		addresses = &MemoryAddressStore{}
	}
	return &Link{
		dialer:      dialer,
		addresses:   addresses,
		opts:        opts,
		dialTimeout: DefaultDialTimeout,
		post:        post,
		log:         log,
	}
}

// Connect closes any current transport and starts dialing address.
// Address and mixed content problems are returned synchronously without
// any dial attempt; the dial outcome is reported as EventOpen or
// EventError.
func (l *Link) Connect(address string) error {
	l.shutdown()
	if l.OnConnect != nil {
		l.OnConnect()
	}

	target, err := ResolveTarget(address, l.opts)
	if err != nil {
		return err
	}
	if target.Secure && IsPrivateHost(target.Host) {
		return fmt.Errorf("%w: %s", ErrMixedContent, target.Host)
	}

	if err := l.addresses.SaveAddress(address); err != nil {
		l.log.Warn().Err(err).Str("address", address).Msg("failed to persist address")
	}

	l.gen++
	gen := l.gen
	l.state = linkDialing
	l.target = target

	ctx, cancel := context.WithTimeout(context.Background(), l.dialTimeout)
	l.cancelDial = cancel

	l.log.Debug().Str("target", target.String()).Uint64("gen", gen).Msg("dialing")
	go func() {
		defer cancel()
		t, err := l.dialer.Dial(ctx, target)
		if err != nil {
			l.post(EventError{Gen: gen, Err: err, Dial: true})
			return
		}
		l.post(EventOpen{Gen: gen, Target: target, transport: t})
	}()
	return nil
}

// Accept installs the transport of an EventOpen. It returns false for
// stale events, whose transport is closed.
func (l *Link) Accept(ev EventOpen) bool {
	if ev.Gen != l.gen || l.state != linkDialing {
		if ev.transport != nil {
			ev.transport.Close(tankproto.CloseNormal)
		}
		return false
	}
	l.state = linkOpen
	l.transport = ev.transport
	go l.readLoop(ev.Gen, ev.transport)
	return true
}

// Current reports whether ev belongs to the active connection attempt
func (l *Link) Current(ev Event) bool {
	return ev.generation() == l.gen && l.state != linkIdle
}

// Lost records that the active connection ended. It returns false for
// stale events.
func (l *Link) Lost(ev Event) bool {
	if !l.Current(ev) {
		return false
	}
	l.state = linkIdle
	if l.transport != nil {
		l.transport.Close(tankproto.CloseNormal)
		l.transport = nil
	}
	return true
}

func (l *Link) readLoop(gen uint64, t Transport) {
	for {
		frame, err := t.ReadFrame()
		if err != nil {
			var ce *CloseError
			if errors.As(err, &ce) {
				l.post(EventClose{Gen: gen, Code: ce.Code})
			} else {
				l.post(EventError{Gen: gen, Err: err})
			}
			return
		}
		l.post(EventMessage{Gen: gen, Data: frame, At: time.Now()})
	}
}

// Send writes one frame. Frames are never queued.
func (l *Link) Send(frame []byte) error {
	if l.state != linkOpen || l.transport == nil {
		return ErrNotConnected
	}
	if err := l.transport.WriteFrame(frame); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// Disconnect closes the connection with a normal close code. It is
// idempotent.
func (l *Link) Disconnect() {
	l.shutdown()
}

// Connected reports whether a transport is open
func (l *Link) Connected() bool {
	return l.state == linkOpen
}

// Target returns the target of the current or last attempt
func (l *Link) Target() Target {
	return l.target
}

func (l *Link) shutdown() {
	if l.state == linkIdle && l.transport == nil {
		return
	}
	l.gen++
	if l.cancelDial != nil {
		l.cancelDial()
		l.cancelDial = nil
	}
	if l.transport != nil {
		if err := l.transport.Close(tankproto.CloseNormal); err != nil {
			l.log.Debug().Err(err).Msg("close")
		}
		l.transport = nil
	}
	l.state = linkIdle
}

// Probe tests whether address accepts a connection within timeout. It
// does not affect the link state and is safe to call from any goroutine.
func (l *Link) Probe(ctx context.Context, address string, timeout time.Duration) error {
	target, err := ResolveTarget(address, l.opts)
	if err != nil {
		return err
	}
	if target.Secure && IsPrivateHost(target.Host) {
		return fmt.Errorf("%w: %s", ErrMixedContent, target.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t, err := l.dialer.Dial(ctx, target)
	if err != nil {
		return err
	}
	return t.Close(tankproto.CloseNormal)
}

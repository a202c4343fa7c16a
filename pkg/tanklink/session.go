// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// ErrClosed is returned by requests made after Close
var ErrClosed = errors.New("session closed")

const eventQueueSize = 64

// Config configures a Session. Zero values select the defaults.
type Config struct {
	Dialer    Dialer
	Addresses AddressStore
	Options   Options
	Policy    Policy

	Candidates   []string // discovery candidates, CommonAddresses when nil
	ScanBatch    int
	ProbeTimeout time.Duration

	LoadTimeout    time.Duration
	LoadAttempts   int
	LoadRetryDelay time.Duration

	// HeartbeatInterval spaces keepalive pings on an open link; negative
	// disables them. StaleTimeout drops a link that has received nothing
	// for that long; zero disables the check.
	HeartbeatInterval time.Duration
	StaleTimeout      time.Duration

	// Capture receives every inbound and outbound frame when set
	Capture *tankproto.CaptureWriter

	Logger zerolog.Logger
}

func (c *Config) defaults() {
	if c.Addresses == nil {
		c.Addresses = &MemoryAddressStore{}
	}
	if c.Options.Port == 0 {
		c.Options.Port = tankproto.DefaultPort
	}
	if c.Policy == (Policy{}) {
		c.Policy = DefaultPolicy()
	}
	if c.Candidates == nil {
		c.Candidates = CommonAddresses
	}
	if c.ScanBatch <= 0 {
		c.ScanBatch = DefaultScanBatch
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = tankproto.ProbeTimeout
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = tankproto.LoadTimeout
	}
	if c.LoadAttempts <= 0 {
		c.LoadAttempts = tankproto.LoadAttempts
	}
	if c.LoadRetryDelay <= 0 {
		c.LoadRetryDelay = tankproto.LoadRetryDelay
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = tankproto.HeartbeatInterval
	}
}

// EventScanDone reports the end of a discovery scan
type EventScanDone struct {
	Gen   uint64
	Found []string
	Err   error
}

func (e EventScanDone) generation() uint64 { return e.Gen }

// request runs fn on the loop
type request struct {
	fn   func()
	done chan struct{}
}

func (request) generation() uint64 { return 0 }

// Session is the single owner of the reconciled device state.
//
// Every link event, timer, scan result and API call is serialized through
// one loop goroutine, which folds it into the state and publishes the
// resulting snapshot before taking the next event.
type Session struct {
	cfg Config
	log zerolog.Logger

	events  chan Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	store *Store
	link  *Link
	sup   *Supervisor
	hb    *heartbeat

	// owned by the loop
	state      tankproto.State
	status     Status
	terminal   string
	scanGen    uint64
	scanCancel context.CancelFunc
	lastRx     time.Time
}

// NewSession creates a session and starts its loop. Call Start to connect
// and Close to release it.
func NewSession(cfg Config) *Session {
	cfg.defaults()
	s := &Session{
		cfg:     cfg,
		log:     cfg.Logger,
		events:  make(chan Event, eventQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		state:   tankproto.DefaultState(),
	}
	s.store = NewStore(s.state)
	s.link = NewLink(cfg.Dialer, cfg.Addresses, cfg.Options, s.post, s.log)
	s.sup = NewSupervisor(cfg.Policy, s.post, s.log)
	s.hb = newHeartbeat(cfg.HeartbeatInterval, s.post)
	s.link.OnConnect = s.sup.CancelTimer
	s.status.MaxAttempts = s.sup.Policy().MaxAttempts

	go s.loop()
	return s
}

// Start connects to the stored address, or scans for a device when none is
// stored. The session is closed when ctx ends.
func (s *Session) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	addr, err := s.cfg.Addresses.LoadAddress()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to load stored address")
	}
	if addr != "" {
		return s.Connect(addr)
	}
	return s.Scan()
}

// Connect switches to address. Address and mixed content errors are
// returned once the loop has reflected them in the state.
func (s *Session) Connect(address string) error {
	var err error
	if derr := s.do(func() { err = s.connect(address) }); derr != nil {
		return derr
	}
	return err
}

// Disconnect closes the connection and cancels any retry
func (s *Session) Disconnect() {
	s.do(s.disconnect)
}

// SendCommand encodes and sends in. Failures are also reflected in the
// state error.
func (s *Session) SendCommand(in tankproto.Intent) error {
	var err error
	if derr := s.do(func() { err = s.send(in) }); derr != nil {
		return derr
	}
	return err
}

// Scan starts a discovery scan. The result is published in Status.Scan.
func (s *Session) Scan() error {
	return s.do(s.scan)
}

// Snapshot returns the current snapshot
func (s *Session) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// Subscribe follows published snapshots
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	return s.store.Subscribe()
}

// Close disconnects and stops the loop. Subscriber channels are closed.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
}

//////////////////////////////////////////////////////////////
// Loop
//////////////////////////////////////////////////////////////

func (s *Session) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
		if open, ok := ev.(EventOpen); ok && open.transport != nil {
			open.transport.Close(tankproto.CloseNormal)
		}
	}
}

func (s *Session) do(fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case s.events <- req:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-req.done:
		return nil
	case <-s.stopped:
		return ErrClosed
	}
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.done:
			s.shutdown()
			return
		}
	}
}

func (s *Session) shutdown() {
	s.stopScan()
	s.sup.Stop()
	s.hb.stop()
	s.link.Disconnect()
	s.store.closeAll()
	s.log.Debug().Msg("session closed")
}

func (s *Session) handle(ev Event) {
	switch ev := ev.(type) {
	case request:
		ev.fn()
		close(ev.done)

	case EventOpen:
		if !s.link.Accept(ev) {
			return
		}
		s.sup.Opened()
		s.terminal = ""
		s.lastRx = time.Now()
		s.hb.schedule()
		s.status.Target = ev.Target.String()
		s.log.Info().Str("target", ev.Target.String()).Msg("connected")
		s.commit(s.state.Opened())

	case EventMessage:
		if !s.link.Current(ev) {
			return
		}
		s.receive(ev)

	case EventClose:
		if !s.link.Lost(ev) {
			return
		}
		s.hb.stop()
		if ev.Code == tankproto.CloseNormal {
			s.log.Info().Msg("connection closed by device")
			s.sup.Stop()
			s.commit(s.state.Closed(ev.Code))
			return
		}
		s.log.Warn().Int("code", ev.Code).Msg("connection lost")
		s.failed(s.state.Closed(ev.Code))

	case EventError:
		if !s.link.Lost(ev) {
			return
		}
		s.hb.stop()
		s.log.Warn().Err(ev.Err).Bool("dial", ev.Dial).Msg("connection error")
		if ev.Dial {
			s.failed(s.state.DialFailed(ev.Err))
		} else {
			s.failed(s.state.Errored())
		}

	case EventRetry:
		if !s.sup.Due(ev) {
			return
		}
		s.retry()

	case EventHeartbeat:
		s.onHeartbeat(ev)

	case EventScanDone:
		s.scanDone(ev)
	}
}

// onHeartbeat pings the device, or drops a link that has gone silent
func (s *Session) onHeartbeat(ev EventHeartbeat) {
	if !s.hb.due(ev) || !s.link.Connected() {
		return
	}
	if silent := time.Since(s.lastRx); s.cfg.StaleTimeout > 0 && silent > s.cfg.StaleTimeout {
		s.log.Warn().Dur("silent", silent).Msg("no data from device")
		s.dropLink()
		return
	}

	frame := []byte(tankproto.CmdPing)
	if err := s.link.Send(frame); err != nil {
		s.log.Warn().Err(err).Msg("heartbeat failed")
		s.dropLink()
		return
	}
	s.capture(tankproto.Outbound, time.Now(), frame)
	s.hb.schedule()
}

// dropLink closes an open link that stopped working and hands it to the
// supervisor as an abnormal close
func (s *Session) dropLink() {
	s.hb.stop()
	s.link.Disconnect()
	s.failed(s.state.Closed(tankproto.CloseAbnormal))
}

func (s *Session) receive(ev EventMessage) {
	s.status.Frames++
	s.lastRx = ev.At
	s.capture(tankproto.Inbound, ev.At, ev.Data)

	msg, err := tankproto.Decode(ev.Data)
	if err != nil {
		s.status.DecodeErrors++
		s.log.Debug().Err(err).Msg("undecodable frame")
		msg = tankproto.DecodeFailed{Err: err}
	}

	switch m := msg.(type) {
	case tankproto.HomeData:
		s.status.HomeUpdates++
		if m.All && !m.Settings.Empty() {
			s.status.SettingsUpdates++
		}
	case tankproto.LegacyHome:
		s.status.HomeUpdates++
	case tankproto.SettingData:
		s.status.SettingsUpdates++
	case tankproto.SystemReset:
		s.log.Info().Msg("device is rebooting")
	case tankproto.Unknown:
		s.log.Debug().Str("type", m.Type).Msg("ignoring unknown message")
	}

	next, effects := tankproto.Reconcile(s.state, msg, ev.At)
	if effects.ResetAttempts {
		s.sup.ResetAttempts()
	}
	s.commit(next)
}

// failed hands a lost connection to the supervisor
func (s *Session) failed(next tankproto.State) {
	if s.sup.Failed() {
		s.commit(s.keepTerminal(next))
		return
	}
	s.terminal = tankproto.ErrTextMaxAttempts
	s.commit(next.WithError(s.terminal))
}

func (s *Session) retry() {
	addr, err := s.cfg.Addresses.LoadAddress()
	if err != nil || addr == "" {
		addr = s.status.Address
	}
	s.log.Info().Str("address", addr).Int("attempt", s.sup.Attempts()+1).Msg("reconnecting")
	s.sup.Retrying()
	s.hb.stop()
	if err := s.link.Connect(addr); err != nil {
		s.refuse(err)
		return
	}
	s.status.Address = addr
	s.commit(s.state)
}

func (s *Session) connect(address string) error {
	s.stopScan()
	s.sup.Begin()
	s.hb.stop()
	s.terminal = ""
	if err := s.link.Connect(address); err != nil {
		s.refuse(err)
		return err
	}
	s.status.Address = address
	s.status.Target = s.link.Target().String()
	s.commit(s.state.Disconnected().WithError(""))
	return nil
}

// refuse records an address the link would not dial
func (s *Session) refuse(err error) {
	s.sup.Terminate()
	msg := err.Error()
	if errors.Is(err, ErrMixedContent) {
		msg = tankproto.ErrTextMixedContent
	}
	s.terminal = msg
	s.log.Error().Err(err).Msg("connection refused")
	s.commit(s.state.Disconnected().WithError(msg))
}

func (s *Session) disconnect() {
	s.stopScan()
	s.sup.Stop()
	s.hb.stop()
	s.link.Disconnect()
	s.terminal = ""
	s.commit(s.state.Disconnected())
}

func (s *Session) send(in tankproto.Intent) error {
	enc, err := tankproto.EncodeIntent(in)
	if err != nil {
		s.commit(s.keepTerminal(s.state.WithError(err.Error())))
		return err
	}
	if enc.Fallback {
		s.log.Warn().Str("intent", in.Type).Msg("no mapping for intent, requesting home and settings data instead")
	}

	for _, frame := range enc.Frames {
		if err := s.link.Send(frame); err != nil {
			msg := tankproto.ErrTextSendFailed
			if errors.Is(err, ErrNotConnected) {
				msg = tankproto.ErrTextNotConnected
			}
			s.commit(s.keepTerminal(s.state.WithError(msg)))
			return err
		}
		s.capture(tankproto.Outbound, time.Now(), frame)
	}
	return nil
}

func (s *Session) scan() {
	s.stopScan()
	s.scanGen++
	gen := s.scanGen

	ctx, cancel := context.WithCancel(context.Background())
	s.scanCancel = cancel
	s.status.Scan = ScanStatus{Scanning: true, At: time.Now()}
	s.commit(s.state)

	candidates := s.cfg.Candidates
	batch := s.cfg.ScanBatch
	timeout := s.cfg.ProbeTimeout
	s.log.Info().Int("candidates", len(candidates)).Msg("scanning for devices")

	go func() {
		probe := func(ctx context.Context, addr string) error {
			return s.link.Probe(ctx, addr, timeout)
		}
		found, err := Discover(ctx, candidates, probe, batch)
		s.post(EventScanDone{Gen: gen, Found: found, Err: err})
	}()
}

func (s *Session) scanDone(ev EventScanDone) {
	if ev.Gen != s.scanGen || s.scanCancel == nil {
		return
	}
	s.scanCancel()
	s.scanCancel = nil

	s.status.Scan = ScanStatus{Found: ev.Found, At: time.Now()}
	if ev.Err != nil {
		s.status.Scan.Message = ev.Err.Error()
		if errors.Is(ev.Err, ErrNoDevices) {
			s.status.Scan.Message = tankproto.ErrTextNoDevices
		}
		s.log.Info().Err(ev.Err).Msg("scan finished")
		s.commit(s.state)
		return
	}

	s.status.Scan.Message = fmt.Sprintf("Found %d device(s)", len(ev.Found))
	s.log.Info().Strs("found", ev.Found).Msg("scan finished")

	phase := s.sup.Phase()
	if phase != PhaseConnected && phase != PhaseConnecting {
		s.connect(ev.Found[0])
		return
	}
	s.commit(s.state)
}

func (s *Session) stopScan() {
	if s.scanCancel == nil {
		return
	}
	s.scanGen++
	s.scanCancel()
	s.scanCancel = nil
	s.status.Scan.Scanning = false
}

// keepTerminal keeps a terminal policy message over transient errors
func (s *Session) keepTerminal(next tankproto.State) tankproto.State {
	if s.terminal != "" {
		next.Error = s.terminal
	}
	return next
}

func (s *Session) capture(dir tankproto.Direction, ts time.Time, frame []byte) {
	if s.cfg.Capture == nil {
		return
	}
	if err := s.cfg.Capture.Write(dir, ts, frame); err != nil {
		s.log.Warn().Err(err).Msg("capture write failed")
	}
}

func (s *Session) commit(next tankproto.State) {
	s.state = next
	s.status.Phase = s.sup.Phase()
	s.status.Attempts = s.sup.Attempts()
	s.store.Publish(s.state, s.status)
}

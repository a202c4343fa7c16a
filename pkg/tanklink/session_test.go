// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tanklink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// ============================================================
// Helpers
// ============================================================

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Factor: 1.5}
}

func slowPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, Factor: 1.5}
}

func newTestSession(t *testing.T, d Dialer, mutate func(*Config)) *Session {
	t.Helper()
	cfg := Config{Dialer: d, Policy: fastPolicy()}
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewSession(cfg)
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, s *Session, desc string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	ch, cancel := s.Subscribe()
	defer cancel()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatalf("session closed while waiting for %s", desc)
			}
			if cond(snap) {
				return snap
			}
		case <-timeout:
			snap := s.Snapshot()
			t.Fatalf("timed out waiting for %s (phase %s, error %q)", desc, snap.Status.Phase, snap.State.Error)
		}
	}
}

func isConnected(snap Snapshot) bool { return snap.State.IsConnected }

func connectFake(t *testing.T, s *Session, d *fakeDialer) *fakeTransport {
	t.Helper()
	if err := s.Connect("192.168.1.50"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tr := d.next(t)
	waitFor(t, s, "connected", isConnected)
	return tr
}

// ============================================================
// Store Tests
// ============================================================

func TestStore_LatestWins(t *testing.T) {
	store := NewStore(tankproto.DefaultState())
	ch, cancel := store.Subscribe()

	for i := 0; i < 5; i++ {
		store.Publish(tankproto.DefaultState(), Status{Frames: uint64(i)})
	}

	snap := <-ch
	if snap.Version != 5 {
		t.Errorf("Version = %d, want 5", snap.Version)
	}
	if snap.Status.Frames != 4 {
		t.Errorf("Frames = %d, want 4", snap.Status.Frames)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected queued snapshot version %d", extra.Version)
	default:
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	if got := store.Snapshot().Version; got != 5 {
		t.Errorf("Snapshot().Version = %d, want 5", got)
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	store := NewStore(tankproto.DefaultState())
	found := []string{"10.0.0.1"}
	store.Publish(tankproto.DefaultState(), Status{Scan: ScanStatus{Found: found}})
	found[0] = "mutated"

	snap := store.Snapshot()
	if snap.Status.Scan.Found[0] != "10.0.0.1" {
		t.Errorf("published snapshot aliases caller slice: %v", snap.Status.Scan.Found)
	}
	snap.Status.Scan.Found[0] = "changed"
	if store.Snapshot().Status.Scan.Found[0] != "10.0.0.1" {
		t.Error("Snapshot() should return a copy")
	}
}

// ============================================================
// Session Connection Tests
// ============================================================

func TestSession_MixedContent(t *testing.T) {
	d := newFakeDialer(nil)
	addresses := &MemoryAddressStore{}
	s := newTestSession(t, d, func(c *Config) {
		c.Options = Options{Secure: true, Port: 81}
		c.Addresses = addresses
	})

	err := s.Connect("192.168.1.50")
	if !errors.Is(err, ErrMixedContent) {
		t.Fatalf("Connect() error = %v, want ErrMixedContent", err)
	}

	snap := s.Snapshot()
	if snap.State.Error != tankproto.ErrTextMixedContent {
		t.Errorf("Error = %q, want %q", snap.State.Error, tankproto.ErrTextMixedContent)
	}
	if snap.Status.Phase != PhaseExhausted {
		t.Errorf("Phase = %s, want exhausted", snap.Status.Phase)
	}
	if n := d.count(); n != 0 {
		t.Errorf("dial attempts = %d, want 0", n)
	}
	if addr, _ := addresses.LoadAddress(); addr != "" {
		t.Errorf("address persisted: %q", addr)
	}

	s.SendCommand(tankproto.Command(tankproto.CmdGetHomeData))
	if got := s.Snapshot().State.Error; got != tankproto.ErrTextMixedContent {
		t.Errorf("terminal error replaced by %q", got)
	}
}

func TestSession_ReconnectBound(t *testing.T) {
	d := newFakeDialer(refuseAll)
	s := newTestSession(t, d, nil)

	if err := s.Connect("192.168.1.50"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	snap := waitFor(t, s, "exhausted", func(snap Snapshot) bool {
		return snap.Status.Phase == PhaseExhausted
	})

	if snap.State.Error != tankproto.ErrTextMaxAttempts {
		t.Errorf("Error = %q, want %q", snap.State.Error, tankproto.ErrTextMaxAttempts)
	}
	if snap.State.IsConnected || snap.State.SystemStatus.Connected {
		t.Error("should not be connected")
	}

	time.Sleep(100 * time.Millisecond)
	if n := d.count(); n != 3 {
		t.Errorf("dial attempts = %d, want 3", n)
	}
	for _, host := range d.dialed() {
		if host != "192.168.1.50" {
			t.Errorf("retry dialed %q, want stored address", host)
		}
	}

	if err := s.Connect("192.168.1.50"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, s, "exhausted again", func(snap Snapshot) bool {
		return snap.Status.Phase == PhaseExhausted
	})
	time.Sleep(50 * time.Millisecond)
	if n := d.count(); n != 6 {
		t.Errorf("dial attempts after explicit connect = %d, want 6", n)
	}
}

func TestSession_OpenClearsError(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, nil)

	s.SendCommand(tankproto.Command(tankproto.CmdGetHomeData))
	if got := s.Snapshot().State.Error; got != tankproto.ErrTextNotConnected {
		t.Fatalf("Error = %q, want %q", got, tankproto.ErrTextNotConnected)
	}

	connectFake(t, s, d)
	snap := s.Snapshot()
	if snap.State.Error != "" {
		t.Errorf("Error = %q, want empty", snap.State.Error)
	}
	if snap.Status.Phase != PhaseConnected {
		t.Errorf("Phase = %s, want connected", snap.Status.Phase)
	}
	if !snap.State.Consistent() {
		t.Error("state should be consistent")
	}
}

func TestSession_Messages(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, nil)
	tr := connectFake(t, s, d)

	tr.frames <- []byte(`{"type":"motorState","motor":1,"state":"ON"}`)
	tr.frames <- []byte(`{"type":"motorState","motor":2,"state":"ON"}`)
	snap := waitFor(t, s, "motor 2 on", func(snap Snapshot) bool {
		return snap.State.SystemStatus.Motor2Status == tankproto.MotorOn
	})
	if snap.State.SystemStatus.Motor1Status != tankproto.MotorOn {
		t.Errorf("Motor1Status = %s, want ON", snap.State.SystemStatus.Motor1Status)
	}
	if snap.State.SystemStatus.MotorStatus != tankproto.MotorOn {
		t.Errorf("MotorStatus = %s, want ON", snap.State.SystemStatus.MotorStatus)
	}

	before := snap.State
	tr.frames <- []byte(`{bad json`)
	snap = waitFor(t, s, "parse error", func(snap Snapshot) bool {
		return snap.State.Error == tankproto.ErrTextParseFailed
	})
	after := snap.State
	after.Error = before.Error
	if after != before {
		t.Error("decode failure should only change the error")
	}
	if snap.Status.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", snap.Status.DecodeErrors)
	}
	if snap.Status.Frames != 3 {
		t.Errorf("Frames = %d, want 3", snap.Status.Frames)
	}

	tr.frames <- []byte(`{"type":"systemReset"}`)
	waitFor(t, s, "device reset", func(snap Snapshot) bool { return !snap.State.IsConnected })
}

func TestSession_SendCommand(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, nil)
	tr := connectFake(t, s, d)

	if err := s.SendCommand(tankproto.Command(tankproto.CmdMotor2On)); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got := string(<-tr.writes); got != tankproto.CmdMotor2On {
		t.Errorf("frame = %q, want %q", got, tankproto.CmdMotor2On)
	}

	if err := s.SendCommand(tankproto.Intent{Type: "refreshEverything"}); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got := string(<-tr.writes); got != tankproto.CmdGetHomeData {
		t.Errorf("fallback frame 1 = %q, want %q", got, tankproto.CmdGetHomeData)
	}
	if got := string(<-tr.writes); got != tankproto.CmdGetSettingData {
		t.Errorf("fallback frame 2 = %q, want %q", got, tankproto.CmdGetSettingData)
	}

	if err := s.SendCommand(tankproto.Intent{Type: tankproto.CmdUpdateSettings}); err == nil {
		t.Error("updateSettings without payload should fail")
	}
}

func TestSession_AbnormalCloseSchedulesRetry(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, func(c *Config) { c.Policy = slowPolicy() })
	tr := connectFake(t, s, d)

	tr.drop(4001)
	snap := waitFor(t, s, "connection lost", func(snap Snapshot) bool { return !snap.State.IsConnected })
	if snap.State.Error != "Connection lost (code 4001)" {
		t.Errorf("Error = %q, want %q", snap.State.Error, "Connection lost (code 4001)")
	}
	if snap.Status.Phase != PhaseFailed || snap.Status.Attempts != 1 {
		t.Errorf("Phase = %s attempts %d, want retrying with 1 attempt", snap.Status.Phase, snap.Status.Attempts)
	}

	s.Disconnect()
	snap = s.Snapshot()
	if snap.Status.Phase != PhaseIdle || snap.Status.Attempts != 0 {
		t.Errorf("after Disconnect phase = %s attempts %d, want idle with 0", snap.Status.Phase, snap.Status.Attempts)
	}
	if snap.State.TankData != tankproto.DefaultState().TankData {
		t.Error("tank data should be preserved across disconnect")
	}
}

func TestSession_NormalCloseNoRetry(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, nil)
	tr := connectFake(t, s, d)

	tr.drop(tankproto.CloseNormal)
	snap := waitFor(t, s, "closed", func(snap Snapshot) bool { return !snap.State.IsConnected })
	if snap.State.Error != "" {
		t.Errorf("Error = %q, want empty", snap.State.Error)
	}
	if snap.Status.Phase != PhaseIdle {
		t.Errorf("Phase = %s, want idle", snap.Status.Phase)
	}

	time.Sleep(50 * time.Millisecond)
	if n := d.count(); n != 1 {
		t.Errorf("dial attempts = %d, want 1", n)
	}
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, nil)
	tr := connectFake(t, s, d)

	s.Disconnect()
	s.Disconnect()

	snap := s.Snapshot()
	if snap.State.IsConnected || snap.State.SystemStatus.Connected {
		t.Error("should be disconnected")
	}
	if snap.State.Error != "" {
		t.Errorf("Error = %q, want empty", snap.State.Error)
	}
	if !tr.closed() {
		t.Error("transport should be closed")
	}
	if err := s.SendCommand(tankproto.Command(tankproto.CmdGetHomeData)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() error = %v, want ErrNotConnected", err)
	}
}

func TestSession_Close(t *testing.T) {
	d := newFakeDialer(nil)
	s := NewSession(Config{Dialer: d})
	ch, _ := s.Subscribe()
	s.Close()
	s.Close()

	for range ch {
	}
	if err := s.Connect("192.168.1.50"); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
}

// ============================================================
// Discovery Tests
// ============================================================

func TestDiscover(t *testing.T) {
	candidates := []string{"a", "b", "c", "d", "e", "f", "g"}

	tests := []struct {
		name       string
		alive      map[string]bool
		want       []string
		wantProbes int
		wantErr    error
	}{
		{"first batch", map[string]bool{"b": true, "c": true, "e": true}, []string{"b", "c"}, 3, nil},
		{"second batch", map[string]bool{"e": true}, []string{"e"}, 6, nil},
		{"last partial batch", map[string]bool{"g": true}, []string{"g"}, 7, nil},
		{"none", map[string]bool{}, nil, 7, ErrNoDevices},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			probes := 0
			probe := func(ctx context.Context, addr string) error {
				mu.Lock()
				probes++
				mu.Unlock()
				if tt.alive[addr] {
					return nil
				}
				return errors.New("refused")
			}

			got, err := Discover(context.Background(), candidates, probe, 3)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Discover() error = %v, want %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Discover() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Discover()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
			if probes != tt.wantProbes {
				t.Errorf("probes = %d, want %d", probes, tt.wantProbes)
			}
		})
	}
}

func TestDiscover_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	probe := func(ctx context.Context, addr string) error { return ctx.Err() }
	if _, err := Discover(ctx, []string{"a"}, probe, 3); !errors.Is(err, context.Canceled) {
		t.Errorf("Discover() error = %v, want context.Canceled", err)
	}
}

func TestCommonAddressesIncludeAccessPoint(t *testing.T) {
	for _, addr := range CommonAddresses {
		if addr == "192.168.4.1" {
			return
		}
	}
	t.Error("CommonAddresses should include the ESP32 AP address")
}

func TestSession_StartScansAndConnects(t *testing.T) {
	d := newFakeDialer(func(target Target) bool { return target.Host == "10.1.1.2" })
	addresses := &MemoryAddressStore{}
	s := newTestSession(t, d, func(c *Config) {
		c.Addresses = addresses
		c.Candidates = []string{"10.1.1.1", "10.1.1.2", "10.1.1.3"}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := waitFor(t, s, "auto connect", isConnected)
	if len(snap.Status.Scan.Found) != 1 || snap.Status.Scan.Found[0] != "10.1.1.2" {
		t.Errorf("Found = %v, want [10.1.1.2]", snap.Status.Scan.Found)
	}
	if snap.Status.Address != "10.1.1.2" {
		t.Errorf("Address = %q, want 10.1.1.2", snap.Status.Address)
	}
	if addr, _ := addresses.LoadAddress(); addr != "10.1.1.2" {
		t.Errorf("stored address = %q, want 10.1.1.2", addr)
	}
}

func TestSession_StartUsesStoredAddress(t *testing.T) {
	d := newFakeDialer(nil)
	addresses := &MemoryAddressStore{}
	addresses.SaveAddress("192.168.1.77")
	s := newTestSession(t, d, func(c *Config) { c.Addresses = addresses })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, s, "connected", isConnected)
	if hosts := d.dialed(); len(hosts) != 1 || hosts[0] != "192.168.1.77" {
		t.Errorf("dialed = %v, want [192.168.1.77]", hosts)
	}
}

func TestSession_ScanFindsNothing(t *testing.T) {
	d := newFakeDialer(refuseAll)
	s := newTestSession(t, d, func(c *Config) {
		c.Candidates = []string{"10.1.1.1", "10.1.1.2"}
	})

	if err := s.Scan(); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	snap := waitFor(t, s, "scan result", func(snap Snapshot) bool {
		return !snap.Status.Scan.Scanning && snap.Status.Scan.Message != ""
	})
	if snap.Status.Scan.Message != tankproto.ErrTextNoDevices {
		t.Errorf("Scan.Message = %q, want %q", snap.Status.Scan.Message, tankproto.ErrTextNoDevices)
	}
	if snap.State.Error != "" {
		t.Errorf("scan failure should not set the state error, got %q", snap.State.Error)
	}
}

// ============================================================
// Bulk Load And Refresh Tests
// ============================================================

func TestSession_LoadAll(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, nil)
	tr := connectFake(t, s, d)

	go func() {
		for frame := range tr.writes {
			if string(frame) == tankproto.CmdGetAllData {
				tr.frames <- []byte(`{"type":"allData","UTWLA":55,"TAMIN":25}`)
				return
			}
		}
	}()

	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	snap := s.Snapshot()
	if snap.State.TankData.TankA.Upper != 55 {
		t.Errorf("TankA.Upper = %v, want 55", snap.State.TankData.TankA.Upper)
	}
	if snap.State.SystemSettings.TankAAutomation.MinAutoValue != 25 {
		t.Errorf("TankA MinAutoValue = %v, want 25", snap.State.SystemSettings.TankAAutomation.MinAutoValue)
	}
}

func TestSession_LoadAllFails(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, func(c *Config) {
		c.LoadTimeout = 20 * time.Millisecond
		c.LoadAttempts = 2
		c.LoadRetryDelay = 5 * time.Millisecond
	})
	tr := connectFake(t, s, d)

	if err := s.LoadAll(context.Background()); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("LoadAll() error = %v, want ErrLoadFailed", err)
	}
	if got := s.Snapshot().State.Error; got != tankproto.ErrTextLoadFailed {
		t.Errorf("Error = %q, want %q", got, tankproto.ErrTextLoadFailed)
	}

	requests := 0
	for len(tr.writes) > 0 {
		if string(<-tr.writes) == tankproto.CmdGetAllData {
			requests++
		}
	}
	if requests != 2 {
		t.Errorf("getAllData requests = %d, want 2", requests)
	}
}

type fakeCommander struct {
	mu        sync.Mutex
	connected bool
	sent      []string
}

func (f *fakeCommander) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := Snapshot{State: tankproto.DefaultState()}
	snap.State.IsConnected = f.connected
	return snap
}

func (f *fakeCommander) SendCommand(in tankproto.Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in.Type)
	return nil
}

func (f *fakeCommander) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestSession_WaitConnected(t *testing.T) {
	tests := []struct {
		name    string
		allow   func(Target) bool
		opts    Options
		scan    bool
		want    error
		connect bool
	}{
		{name: "opens", allow: nil, connect: true},
		{name: "retries exhausted", allow: refuseAll, want: ErrMaxAttempts},
		{name: "mixed content", opts: Options{Secure: true, Port: 81}, want: ErrMixedContent},
		{name: "scan finds nothing", allow: refuseAll, scan: true, want: ErrNoDevices},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDialer(tt.allow)
			s := newTestSession(t, d, func(c *Config) {
				c.Options = tt.opts
				c.Candidates = []string{"10.1.1.1"}
			})

			if tt.scan {
				s.Scan()
			} else {
				s.Connect("192.168.1.50")
			}
			if tt.connect {
				d.next(t)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := s.WaitConnected(ctx)
			if tt.want == nil && err != nil {
				t.Fatalf("WaitConnected() error = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("WaitConnected() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStartRefresher(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		interval  time.Duration
		wantSends bool
	}{
		{"connected", true, 5 * time.Millisecond, true},
		{"disconnected", false, 5 * time.Millisecond, false},
		{"disabled", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCommander{connected: tt.connected}
			ctx, cancel := context.WithCancel(context.Background())
			StartRefresher(ctx, c, tt.interval)
			time.Sleep(60 * time.Millisecond)
			cancel()

			got := c.count() > 0
			if got != tt.wantSends {
				t.Errorf("sent %d commands, wantSends %v", c.count(), tt.wantSends)
			}
			c.mu.Lock()
			for _, typ := range c.sent {
				if typ != tankproto.CmdGetHomeData {
					t.Errorf("sent %q, want %q", typ, tankproto.CmdGetHomeData)
				}
			}
			c.mu.Unlock()
		})
	}
}

// ============================================================
// Heartbeat Tests
// ============================================================

func nextWrite(t *testing.T, tr *fakeTransport) string {
	t.Helper()
	select {
	case w := <-tr.writes:
		return string(w)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return ""
	}
}

func TestSession_HeartbeatPings(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, func(c *Config) { c.HeartbeatInterval = 10 * time.Millisecond })
	tr := connectFake(t, s, d)

	for i := 0; i < 2; i++ {
		if got := nextWrite(t, tr); got != tankproto.CmdPing {
			t.Fatalf("write %d = %q, want %q", i, got, tankproto.CmdPing)
		}
	}

	s.Disconnect()
	time.Sleep(50 * time.Millisecond)
	snap := s.Snapshot()
	if snap.Status.Phase != PhaseIdle || snap.State.Error != "" {
		t.Errorf("after Disconnect phase = %s, error = %q, want idle without error", snap.Status.Phase, snap.State.Error)
	}
	if d.count() != 1 {
		t.Errorf("dials = %d, want 1", d.count())
	}
}

func TestSession_HeartbeatDropsBrokenLink(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		breaks func(tr *fakeTransport)
	}{
		{
			name:   "write fails",
			mutate: func(c *Config) { c.HeartbeatInterval = 10 * time.Millisecond },
			breaks: func(tr *fakeTransport) { tr.breakWrites() },
		},
		{
			name: "device silent",
			mutate: func(c *Config) {
				c.HeartbeatInterval = 10 * time.Millisecond
				c.StaleTimeout = 30 * time.Millisecond
			},
			breaks: func(*fakeTransport) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDialer(nil)
			s := newTestSession(t, d, func(c *Config) {
				tt.mutate(c)
				c.Policy = slowPolicy()
			})
			tr := connectFake(t, s, d)
			tt.breaks(tr)

			snap := waitFor(t, s, "link dropped", func(snap Snapshot) bool {
				return snap.Status.Phase == PhaseFailed
			})
			if snap.State.IsConnected {
				t.Error("dropped link should not be connected")
			}
			if snap.State.Error != "Connection lost (code 1006)" {
				t.Errorf("Error = %q, want the abnormal close text", snap.State.Error)
			}
			if snap.Status.Attempts != 1 {
				t.Errorf("Attempts = %d, want 1", snap.Status.Attempts)
			}
			if !tr.closed() {
				t.Error("dropped transport should be closed")
			}
		})
	}
}

func TestSession_HeartbeatKeepsAnsweringLink(t *testing.T) {
	d := newFakeDialer(nil)
	s := newTestSession(t, d, func(c *Config) {
		c.HeartbeatInterval = 10 * time.Millisecond
		c.StaleTimeout = 30 * time.Millisecond
	})
	tr := connectFake(t, s, d)

	// Answer every ping
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case w := <-tr.writes:
				if string(w) == tankproto.CmdPing {
					tr.frames <- []byte(tankproto.ReplyPong)
				}
			case <-stop:
				return
			}
		}
	}()

	time.Sleep(150 * time.Millisecond)
	snap := s.Snapshot()
	if !snap.State.IsConnected || snap.Status.Phase != PhaseConnected {
		t.Errorf("phase = %s, connected = %v, want a live link", snap.Status.Phase, snap.State.IsConnected)
	}
	if snap.Status.Frames == 0 {
		t.Error("pong replies should be counted as frames")
	}
	if snap.Status.DecodeErrors != 0 {
		t.Errorf("DecodeErrors = %d, want 0", snap.Status.DecodeErrors)
	}
}

// ============================================================
// WebSocket Transport Tests
// ============================================================

func newControllerServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch string(data) {
			case tankproto.CmdGetHomeData:
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"homeData","UTWLA":42,"M1S":"ON","RTV":12}`))
			case tankproto.CmdSystemReset:
				conn.WriteMessage(websocket.TextMessage, []byte(tankproto.CmdSystemReset))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSession_WebSocket(t *testing.T) {
	srv := newControllerServer(t)
	s := newTestSession(t, &WebSocketDialer{HandshakeTimeout: time.Second}, nil)

	if err := s.Connect(srv.URL); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, s, "connected", isConnected)

	if err := s.SendCommand(tankproto.Command(tankproto.CmdGetHomeData)); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	snap := waitFor(t, s, "home data", func(snap Snapshot) bool {
		return snap.State.TankData.TankA.Upper == 42
	})
	if snap.State.SystemStatus.MotorStatus != tankproto.MotorOn {
		t.Errorf("MotorStatus = %s, want ON", snap.State.SystemStatus.MotorStatus)
	}
	if snap.State.SystemStatus.Runtime != 12 {
		t.Errorf("Runtime = %v, want 12", snap.State.SystemStatus.Runtime)
	}

	if err := s.SendCommand(tankproto.Command(tankproto.CmdSystemReset)); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	snap = waitFor(t, s, "normal close", func(snap Snapshot) bool {
		return !snap.State.IsConnected && snap.Status.Phase == PhaseIdle
	})
	if snap.State.Error != "" {
		t.Errorf("Error = %q, want empty after normal close", snap.State.Error)
	}
}

func TestWebSocketDialer_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	target, err := ResolveTarget(srv.URL, DefaultOptions())
	if err != nil {
		t.Fatalf("ResolveTarget() error = %v", err)
	}
	d := &WebSocketDialer{HandshakeTimeout: time.Second}
	if _, err := d.Dial(context.Background(), target); err == nil {
		t.Error("Dial() against a plain HTTP handler should fail")
	}

	serial, _ := ResolveTarget("/dev/ttyUSB0", DefaultOptions())
	if _, err := d.Dial(context.Background(), serial); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Dial() of a serial target error = %v, want ErrInvalidAddress", err)
	}
}

func TestWebSocketDialer_BasicAuth(t *testing.T) {
	type credentials struct {
		user, pass string
		ok         bool
	}
	seen := make(chan credentials, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		seen <- credentials{user, pass, ok}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	target, err := ResolveTarget(srv.URL, DefaultOptions())
	if err != nil {
		t.Fatalf("ResolveTarget() error = %v", err)
	}

	tests := []struct {
		name   string
		dialer *WebSocketDialer
		want   credentials
	}{
		{"with credentials", &WebSocketDialer{Username: "admin", Password: "tank"}, credentials{"admin", "tank", true}},
		{"without credentials", &WebSocketDialer{}, credentials{}},
		{"username only", &WebSocketDialer{Username: "admin"}, credentials{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := tt.dialer.Dial(context.Background(), target)
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			tr.Close(tankproto.CloseNormal)

			if got := <-seen; got != tt.want {
				t.Errorf("server saw %+v, want %+v", got, tt.want)
			}
		})
	}
}

// ============================================================
// Policy Tests
// ============================================================

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 3 * time.Second},
		{3, 4500 * time.Millisecond},
		{4, 6750 * time.Millisecond},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSupervisor_Failed(t *testing.T) {
	retries := make(chan Event, 4)
	sup := NewSupervisor(fastPolicy(), func(ev Event) { retries <- ev }, zerolog.Nop())
	sup.Begin()

	if !sup.Failed() {
		t.Fatal("first failure should schedule a retry")
	}
	ev := (<-retries).(EventRetry)
	if !sup.Due(ev) {
		t.Error("live timer should be due")
	}
	if sup.Due(ev) {
		t.Error("timer should only be due once")
	}

	sup.Retrying()
	if !sup.Failed() {
		t.Fatal("second failure should schedule a retry")
	}
	stale := (<-retries).(EventRetry)
	sup.CancelTimer()
	if sup.Due(stale) {
		t.Error("cancelled timer should not be due")
	}

	if sup.Failed() {
		t.Error("third failure should exhaust the budget")
	}
	if sup.Phase() != PhaseExhausted {
		t.Errorf("Phase = %s, want exhausted", sup.Phase())
	}

	sup.Begin()
	if sup.Attempts() != 0 || sup.Phase() != PhaseConnecting {
		t.Errorf("Begin() left attempts %d phase %s", sup.Attempts(), sup.Phase())
	}
}

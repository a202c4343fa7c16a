// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/cistern/internal/prefs"
	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

// ============================================================
// Fakes
// ============================================================

type fakeController struct {
	mu        sync.Mutex
	snap      tanklink.Snapshot
	sent      []tankproto.Intent
	connected []string
	scans     int
	loads     int
}

func (f *fakeController) Snapshot() tanklink.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) SendCommand(in tankproto.Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return nil
}

func (f *fakeController) Connect(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, address)
	return nil
}

func (f *fakeController) Disconnect() {}

func (f *fakeController) Scan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return nil
}

func (f *fakeController) LoadAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil
}

func newTestModel(t *testing.T, c *fakeController) controlModel {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return initialControlModel(ctx, c, "192.168.4.1", 0)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the returned command, feeding its message back
func press(m controlModel, s string) controlModel {
	next, cmd := m.Update(key(s))
	m = next.(controlModel)
	if cmd != nil {
		if msg := cmd(); msg != nil {
			if _, ok := msg.(tea.QuitMsg); ok {
				return m
			}
			next, _ = m.Update(msg)
			m = next.(controlModel)
		}
	}
	return m
}

// typeKey sends a key without running the returned command
func typeKey(m controlModel, s string) controlModel {
	next, _ := m.Update(key(s))
	return next.(controlModel)
}

func connectedSnapshot() tanklink.Snapshot {
	state := tankproto.DefaultState()
	state.IsConnected = true
	state.SystemStatus.Connected = true
	return tanklink.Snapshot{
		Version: 1,
		State:   state,
		Status:  tanklink.Status{Phase: tanklink.PhaseConnected, Address: "192.168.4.1", Target: "ws://192.168.4.1:81/", MaxAttempts: 3},
	}
}

// ============================================================
// Control Model Tests
// ============================================================

func TestControlModel_MotorToggle(t *testing.T) {
	c := &fakeController{}
	m := newTestModel(t, c)

	snap := connectedSnapshot()
	snap.State.SystemStatus.Motor2Status = tankproto.MotorOn
	next, _ := m.Update(snapshotMsg(snap))
	m = next.(controlModel)

	m = press(m, "1")
	m = press(m, "2")

	if len(c.sent) != 2 {
		t.Fatalf("sent %d commands, want 2", len(c.sent))
	}
	if c.sent[0].Type != tankproto.CmdMotor1On {
		t.Errorf("first command = %s, want %s", c.sent[0].Type, tankproto.CmdMotor1On)
	}
	if c.sent[1].Type != tankproto.CmdMotor2Off {
		t.Errorf("second command = %s, want %s", c.sent[1].Type, tankproto.CmdMotor2Off)
	}
}

func TestControlModel_ConnectLoadsAll(t *testing.T) {
	c := &fakeController{}
	m := newTestModel(t, c)

	next, cmd := m.Update(snapshotMsg(connectedSnapshot()))
	m = next.(controlModel)
	if cmd == nil {
		t.Fatal("expected a load command after connecting")
	}
	next, _ = m.Update(cmd())
	m = next.(controlModel)

	if c.loads != 1 {
		t.Errorf("loads = %d, want 1", c.loads)
	}

	// A second connected snapshot is not a new connection
	snap := connectedSnapshot()
	snap.Version = 2
	if _, cmd := m.Update(snapshotMsg(snap)); cmd != nil {
		t.Error("unexpected command for an unchanged connection")
	}
}

func TestControlModel_ManualAddress(t *testing.T) {
	c := &fakeController{}
	m := newTestModel(t, c)

	m = typeKey(m, "tab")
	for _, r := range "10.0.0.20" {
		m = typeKey(m, string(r))
	}
	m = press(m, "enter")

	if len(c.connected) != 1 || c.connected[0] != "10.0.0.20" {
		t.Errorf("connected = %v, want [10.0.0.20]", c.connected)
	}
	if len(c.sent) != 0 {
		t.Errorf("keys typed in the address field sent commands: %v", c.sent)
	}
}

func TestControlModel_DeviceList(t *testing.T) {
	c := &fakeController{}
	m := newTestModel(t, c)

	snap := tanklink.Snapshot{
		State:  tankproto.DefaultState(),
		Status: tanklink.Status{Scan: tanklink.ScanStatus{Found: []string{"192.168.4.1", "192.168.1.9"}, Message: "Found 2 device(s)", At: time.Now()}},
	}
	next, _ := m.Update(snapshotMsg(snap))
	m = next.(controlModel)

	if len(m.devices) != 2 {
		t.Fatalf("devices = %+v, want saved address plus one scan hit", m.devices)
	}
	if m.devices[0].note != "last used" || m.devices[1].address != "192.168.1.9" {
		t.Errorf("devices = %+v", m.devices)
	}

	m = press(m, "enter")
	if len(c.connected) != 1 || c.connected[0] != "192.168.4.1" {
		t.Errorf("connected = %v, want [192.168.4.1]", c.connected)
	}
}

func TestControlModel_EventLog(t *testing.T) {
	c := &fakeController{}
	m := newTestModel(t, c)

	first := connectedSnapshot()
	next, _ := m.Update(snapshotMsg(first))
	m = next.(controlModel)

	lost := first
	lost.State = first.State.Closed(4001)
	lost.Status.Phase = tanklink.PhaseFailed
	lost.Status.Attempts = 1
	next, _ = m.Update(snapshotMsg(lost))
	m = next.(controlModel)

	var sawRetry, sawError bool
	for _, e := range m.eventLog {
		if strings.Contains(e.message, "retry 1/3") {
			sawRetry = true
		}
		if e.isError && strings.Contains(e.message, "4001") {
			sawError = true
		}
	}
	if !sawRetry || !sawError {
		t.Errorf("event log missing entries: %+v", m.eventLog)
	}
	if !strings.Contains(m.View(), "RECONNECTING 1/3") {
		t.Error("view should show the reconnect status")
	}
}

func TestControlModel_CycleRefresh(t *testing.T) {
	prefsPath = filepath.Join(t.TempDir(), "prefs.toml")
	t.Cleanup(func() { prefsPath = prefs.DefaultPath() })

	c := &fakeController{}
	m := newTestModel(t, c)
	m = press(m, "i")

	if m.refresh.interval != 2*time.Second {
		t.Errorf("interval = %v, want 2s", m.refresh.interval)
	}
	p, err := prefs.Load(prefsPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.RefreshSeconds != 2 {
		t.Errorf("saved RefreshSeconds = %d, want 2", p.RefreshSeconds)
	}
}

func TestNextInterval(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, 2 * time.Second},
		{5 * time.Second, 10 * time.Second},
		{60 * time.Second, 0},
		{7 * time.Second, 0},
	}
	for _, tt := range tests {
		if got := nextInterval(tt.in); got != tt.want {
			t.Errorf("nextInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ============================================================
// Settings And WiFi Tests
// ============================================================

func TestApplySettingsDocument(t *testing.T) {
	base := tankproto.DefaultSettings()

	tests := []struct {
		name    string
		doc     string
		check   func(tankproto.SystemSettings) bool
		wantErr bool
	}{
		{"empty", "", func(s tankproto.SystemSettings) bool { return s == base }, false},
		{"partial", "tank_a_automation:\n  min_auto_value: 30\n", func(s tankproto.SystemSettings) bool {
			return s.TankAAutomation.MinAutoValue == 30 && s.TankAAutomation.MaxAutoValue == base.TankAAutomation.MaxAutoValue
		}, false},
		{"mac", "mac_address: aa:bb:cc:dd:ee:ff\n", func(s tankproto.SystemSettings) bool {
			return s.MacAddress.String() == "aa:bb:cc:dd:ee:ff"
		}, false},
		{"unknown field", "tank_c: {}\n", nil, true},
		{"bad yaml", "mode: [\n", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applySettingsDocument(base, []byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Fatalf("applySettingsDocument() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if got != base {
					t.Error("failed document should leave the settings unchanged")
				}
				return
			}
			if !tt.check(got) {
				t.Errorf("applySettingsDocument() = %+v", got)
			}
		})
	}
}

func TestBuildWiFiConfig(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		ssid    string
		ip      string
		wantErr bool
	}{
		{"dhcp", "dhcp", "HomeNet", "", false},
		{"access point", "ap", "Tank", "", false},
		{"static", "static", "HomeNet", "192.168.1.40", false},
		{"static missing ip", "static", "HomeNet", "", true},
		{"static ipv6", "static", "HomeNet", "fe80::1", true},
		{"unknown mode", "mesh", "HomeNet", "", true},
		{"missing ssid", "dhcp", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := buildWiFiConfig(tt.mode, tt.ssid, "secret", tt.ip, "192.168.1.1", "255.255.255.0", "192.168.1.1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildWiFiConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.mode == "static" && c.StaticIP != [4]byte{192, 168, 1, 40} {
				t.Errorf("StaticIP = %v", c.StaticIP)
			}
		})
	}
}

// ============================================================
// Motor Command Tests
// ============================================================

func TestMotorConfirmed(t *testing.T) {
	on := tankproto.DefaultState()
	on.SystemStatus.Motor1Status = tankproto.MotorOn
	on.SystemStatus.MotorStatus = tankproto.MotorOn

	tests := []struct {
		name    string
		version uint64
		state   tankproto.State
		motor   int
		want    tankproto.MotorState
		expect  bool
	}{
		{"already on before send", 4, on, 1, tankproto.MotorOn, false},
		{"on after send", 5, on, 1, tankproto.MotorOn, true},
		{"newer but other state", 5, on, 1, tankproto.MotorOff, false},
		{"second motor", 5, on, 2, tankproto.MotorOff, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := tanklink.Snapshot{Version: tt.version, State: tt.state}
			if got := motorConfirmed(snap, 4, tt.motor, tt.want); got != tt.expect {
				t.Errorf("motorConfirmed() = %v, want %v", got, tt.expect)
			}
		})
	}
}

// ============================================================
// Connection Flag Tests
// ============================================================

func TestSessionConfig_BasicAuth(t *testing.T) {
	t.Cleanup(func() {
		wsUsername = ""
		authPassword = ""
	})
	t.Setenv("CISTERN_PASSWORD", "tank")

	tests := []struct {
		name     string
		username string
		wantPass string
	}{
		{"no username", "", ""},
		{"username reads password", "admin", "tank"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wsUsername = tt.username
			authPassword = ""

			cfg, err := sessionConfig(nil)
			if err != nil {
				t.Fatalf("sessionConfig() error = %v", err)
			}
			if cfg.StaleTimeout != staleTimeout {
				t.Errorf("StaleTimeout = %v, want the flag value %v", cfg.StaleTimeout, staleTimeout)
			}
			ws := cfg.Dialer.(*tanklink.AutoDialer).WebSocket
			if ws.Username != tt.username || ws.Password != tt.wantPass {
				t.Errorf("credentials = %q/%q, want %q/%q", ws.Username, ws.Password, tt.username, tt.wantPass)
			}
		})
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/cistern/internal/prefs"
	"github.com/Thermoquad/cistern/pkg/history"
	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxLogEntries = 100
	leftWidth     = 30
)

// Focus states
const (
	focusDeviceList = iota
	focusAddressInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// controller is the part of a session the dashboard drives
type controller interface {
	Snapshot() tanklink.Snapshot
	SendCommand(in tankproto.Intent) error
	Connect(address string) error
	Disconnect()
	Scan() error
	LoadAll(ctx context.Context) error
}

// device is a known controller address
type device struct {
	address string
	note    string
}

// Implement list.Item interface
func (d device) Title() string       { return d.address }
func (d device) Description() string { return d.note }
func (d device) FilterValue() string { return d.address }

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// refresher owns the periodic home data request. It is shared by every
// copy of the model.
type refresher struct {
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
}

func (r *refresher) restart(c controller, interval time.Duration) {
	if r.cancel != nil {
		r.cancel()
	}
	r.interval = interval
	ctx, cancel := context.WithCancel(r.ctx)
	r.cancel = cancel
	tanklink.StartRefresher(ctx, c, interval)
}

func (r *refresher) stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// controlModel is the Bubble Tea model for the control dashboard
type controlModel struct {
	ctx     context.Context
	session controller
	refresh *refresher
	saved   string // address stored in the preferences

	snap     tanklink.Snapshot
	hasSnap  bool
	changes  history.Tracker
	devices  []device
	list     list.Model
	address  textinput.Model
	focused  int
	bar      progress.Model
	eventLog []logEntry

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type snapshotMsg tanklink.Snapshot

type commandResultMsg struct {
	action string
	err    error
}

type loadDoneMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(ctx context.Context, c controller, saved string, interval time.Duration) controlModel {
	ti := textinput.New()
	ti.Placeholder = "192.168.4.1"
	ti.CharLimit = 64
	ti.Width = leftWidth - 4

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, leftWidth-2, 10)
	deviceList.Title = "Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	m := controlModel{
		ctx:      ctx,
		session:  c,
		refresh:  &refresher{ctx: ctx},
		saved:    saved,
		list:     deviceList,
		address:  ti,
		focused:  focusDeviceList,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage()),
		eventLog: make([]logEntry, 0),
		width:    80,
		height:   24,
	}
	m.refresh.restart(c, interval)
	m.updateDevices()
	return m
}

func (m controlModel) stopRefresher() {
	m.refresh.stop()
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		return m, controlTickCmd()

	case snapshotMsg:
		return m.applySnapshot(tanklink.Snapshot(msg))

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.action, msg.err), true)
		} else {
			m.addLogEntry(msg.action, false)
		}

	case loadDoneMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Load failed: %v", msg.err), true)
		} else {
			m.addLogEntry("Device data loaded", false)
		}
	}

	var cmd tea.Cmd
	if m.focused == focusDeviceList {
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		if m.focused == focusDeviceList {
			m.focused = focusAddressInput
			m.address.Focus()
		} else {
			m.focused = focusDeviceList
			m.address.Blur()
		}
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	// The address field takes every other key while focused
	if m.focused == focusAddressInput {
		var cmd tea.Cmd
		m.address, cmd = m.address.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "1", "2":
		motor := 1
		current := m.snap.State.SystemStatus.Motor1Status
		if msg.String() == "2" {
			motor = 2
			current = m.snap.State.SystemStatus.Motor2Status
		}
		intent, err := tankproto.MotorCommand(motor, !current.On())
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		return m, m.send(intent, fmt.Sprintf("Sent %s", intent.Type))

	case "a":
		return m, m.loadAll()

	case "s":
		c := m.session
		return m, func() tea.Msg {
			return commandResultMsg{action: "Scan started", err: c.Scan()}
		}

	case "d":
		c := m.session
		return m, func() tea.Msg {
			c.Disconnect()
			return commandResultMsg{action: "Disconnected"}
		}

	case "i":
		return m.cycleRefresh()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m controlModel) handleEnter() (tea.Model, tea.Cmd) {
	var address string
	if m.focused == focusAddressInput {
		address = strings.TrimSpace(m.address.Value())
		m.address.SetValue("")
	} else if d := m.selectedDevice(); d != nil {
		address = d.address
	}
	if address == "" {
		return m, nil
	}

	c := m.session
	return m, func() tea.Msg {
		return commandResultMsg{action: "Connecting to " + address, err: c.Connect(address)}
	}
}

func (m controlModel) cycleRefresh() (tea.Model, tea.Cmd) {
	next := nextInterval(m.refresh.interval)
	m.refresh.restart(m.session, next)

	p, _ := prefs.Load(prefsPath)
	p.RefreshSeconds = int(next / time.Second)
	if err := prefs.Save(prefsPath, p); err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to save preferences: %v", err), true)
	}
	m.addLogEntry("Refresh interval: "+formatInterval(next), false)
	return m, nil
}

// nextInterval returns the offered interval after d, wrapping around
func nextInterval(d time.Duration) time.Duration {
	for i, v := range prefs.ValidIntervals {
		if v == d {
			return prefs.ValidIntervals[(i+1)%len(prefs.ValidIntervals)]
		}
	}
	return prefs.ValidIntervals[0]
}

func formatInterval(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	return d.String()
}

func (m controlModel) send(in tankproto.Intent, action string) tea.Cmd {
	c := m.session
	return func() tea.Msg {
		return commandResultMsg{action: action, err: c.SendCommand(in)}
	}
}

func (m controlModel) loadAll() tea.Cmd {
	c, ctx := m.session, m.ctx
	return func() tea.Msg {
		return loadDoneMsg{err: c.LoadAll(ctx)}
	}
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

// applySnapshot logs what changed and loads all data after a connect
func (m controlModel) applySnapshot(next tanklink.Snapshot) (tea.Model, tea.Cmd) {
	prev := m.snap
	first := !m.hasSnap
	m.snap = next
	m.hasSnap = true
	changes := m.changes.Next(next.State, time.Now())

	var cmd tea.Cmd
	if !first {
		if prev.Status.Phase != next.Status.Phase {
			isError := next.Status.Phase == tanklink.PhaseFailed || next.Status.Phase == tanklink.PhaseExhausted
			m.addLogEntry(phaseText(next.Status), isError)
		}
		for _, e := range changes {
			if e.Point == "error" {
				if e.NewValue != "" {
					m.addLogEntry(e.NewValue, true)
				}
				continue
			}
			m.addLogEntry(fmt.Sprintf("%s: %s -> %s%s", e.Point, e.PreviousValue, e.NewValue, e.Units), false)
		}
		if next.Status.Scan.Message != "" && !next.Status.Scan.At.Equal(prev.Status.Scan.At) {
			m.addLogEntry(next.Status.Scan.Message, len(next.Status.Scan.Found) == 0)
		}
	}
	if next.State.IsConnected && (first || !prev.State.IsConnected) {
		m.saved = next.Status.Address
		cmd = m.loadAll()
	}

	m.updateDevices()
	return m, cmd
}

func phaseText(st tanklink.Status) string {
	switch st.Phase {
	case tanklink.PhaseConnecting:
		return "Connecting to " + st.Target
	case tanklink.PhaseConnected:
		return "Connected to " + st.Target
	case tanklink.PhaseFailed:
		return fmt.Sprintf("Connection lost, retry %d/%d", st.Attempts, st.MaxAttempts)
	case tanklink.PhaseExhausted:
		return "Gave up reconnecting"
	}
	return "Disconnected"
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}

// updateDevices rebuilds the device list from the saved address, the
// current address and the latest scan
func (m *controlModel) updateDevices() {
	seen := map[string]int{}
	devices := make([]device, 0)
	add := func(address, note string) {
		if address == "" {
			return
		}
		if i, ok := seen[address]; ok {
			if note == "connected" {
				devices[i].note = note
			}
			return
		}
		seen[address] = len(devices)
		devices = append(devices, device{address: address, note: note})
	}

	if m.snap.State.IsConnected {
		add(m.snap.Status.Address, "connected")
	}
	add(m.saved, "last used")
	for _, addr := range m.snap.Status.Scan.Found {
		add(addr, "found")
	}

	m.devices = devices
	items := make([]list.Item, len(devices))
	for i, d := range devices {
		items[i] = d
	}
	m.list.SetItems(items)
}

func (m *controlModel) selectedDevice() *device {
	idx := m.list.Index()
	if idx < 0 || idx >= len(m.devices) {
		return nil
	}
	return &m.devices[idx]
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.list.SetSize(leftWidth-2, listHeight)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("CISTERN CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | refresh %s | q=quit Tab=switch",
		m.connectionText(), formatInterval(m.refresh.interval))))
	s.WriteString("\n")
	if m.snap.State.Error != "" {
		s.WriteString(errorStyle.Render(" " + m.snap.State.Error))
	}
	s.WriteString("\n\n")

	// Layout: left panel (devices) | right panel (tank)
	left := m.renderDevices()
	right := m.renderTank()
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	s.WriteString("\n")
	s.WriteString(m.renderEventLog())

	return s.String()
}

func (m controlModel) connectionText() string {
	st := m.snap.Status
	switch st.Phase {
	case tanklink.PhaseConnected:
		return valueStyle.Render("CONNECTED") + " " + st.Target
	case tanklink.PhaseConnecting:
		return warningStyle.Render("CONNECTING...") + " " + st.Target
	case tanklink.PhaseFailed:
		return warningStyle.Render(fmt.Sprintf("RECONNECTING %d/%d", st.Attempts, st.MaxAttempts))
	case tanklink.PhaseExhausted:
		return errorStyle.Render("OFFLINE")
	}
	if st.Scan.Scanning {
		return warningStyle.Render("SCANNING...")
	}
	return "not connected"
}

func (m controlModel) renderDevices() string {
	var s strings.Builder

	listBox := boxStyle
	inputBox := boxStyle
	if m.focused == focusDeviceList {
		listBox = focusedBoxStyle
	} else {
		inputBox = focusedBoxStyle
	}

	if len(m.devices) == 0 {
		s.WriteString(listBox.Width(leftWidth).Render(headerStyle.Render("No devices\ns=scan")))
	} else {
		s.WriteString(listBox.Width(leftWidth).Render(m.list.View()))
	}
	s.WriteString("\n")
	s.WriteString(inputBox.Width(leftWidth).Render(labelStyle.Render("Address") + "\n" + m.address.View()))

	return s.String()
}

func (m controlModel) renderTank() string {
	var s strings.Builder
	state := m.snap.State
	st := state.SystemStatus

	width := m.width - leftWidth - 8
	if width < 40 {
		width = 40
	}

	s.WriteString(labelStyle.Render("TANKS"))
	s.WriteString("\n")
	level := func(name string, v float64) {
		s.WriteString(fmt.Sprintf("%-8s %s %s\n", name, m.bar.ViewAs(tankproto.ClampPercent(v)/100), valueStyle.Render(fmt.Sprintf("%5.1f%%", v))))
	}
	level("A upper", state.TankData.TankA.Upper)
	level("A lower", state.TankData.TankA.Lower)
	if st.MotorConfig == tankproto.TopologyDualTankDualMotor {
		level("B upper", state.TankData.TankB.Upper)
		level("B lower", state.TankData.TankB.Lower)
	}

	s.WriteString("\n")
	s.WriteString(labelStyle.Render("MOTORS"))
	s.WriteString(headerStyle.Render("  1/2=toggle a=load s=scan d=disconnect i=refresh"))
	s.WriteString("\n")
	motor := func(n int, state tankproto.MotorState, enabled bool, reason string) {
		stateText := headerStyle.Render(string(state))
		if state.On() {
			stateText = valueStyle.Render(string(state))
		}
		if !enabled {
			stateText += headerStyle.Render(" (disabled)")
		}
		s.WriteString(fmt.Sprintf("Motor %d  %s", n, stateText))
		if reason != "" {
			s.WriteString(headerStyle.Render("  " + reason))
		}
		s.WriteString("\n")
	}
	motor(1, st.Motor1Status, st.Motor1Enabled, st.AutoModeReasonMotor1)
	motor(2, st.Motor2Status, st.Motor2Enabled, st.AutoModeReasonMotor2)

	s.WriteString(fmt.Sprintf("\n%s %s  %s %s\n",
		labelStyle.Render("Mode:"), valueStyle.Render(string(st.Mode)),
		labelStyle.Render("Config:"), valueStyle.Render(string(st.MotorConfig))))
	s.WriteString(fmt.Sprintf("%s %s",
		labelStyle.Render("Runtime:"),
		valueStyle.Render(tankproto.FormatUptime(time.Duration(st.Runtime*float64(time.Second))))))
	if !st.LastUpdated.IsZero() {
		s.WriteString(headerStyle.Render("  updated " + st.LastUpdated.Format("15:04:05")))
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("\nframes %d  decode errors %d", m.snap.Status.Frames, m.snap.Status.DecodeErrors)))

	return boxStyle.Width(width).Render(s.String())
}

func (m controlModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := m.height - 24
	if logHeight < 4 {
		logHeight = 4
	}
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}
	startIdx := len(m.eventLog) - logHeight

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

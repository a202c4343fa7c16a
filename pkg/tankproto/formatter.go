// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessage formats a decoded message into a human-readable line
func FormatMessage(ts time.Time, msg Message) string {
	timestamp := ts.Format("15:04:05.000")
	return fmt.Sprintf("[%s] %-14s %s", timestamp, strings.ToUpper(msg.Kind()), FormatMessageBody(msg))
}

// FormatMessageBody renders the fields a message carries
func FormatMessageBody(msg Message) string {
	var parts []string
	add := func(name string, v string) {
		parts = append(parts, name+"="+v)
	}

	switch m := msg.(type) {
	case HomeData:
		if m.Runtime != nil {
			add("runtime", fmt.Sprintf("%.0fs", *m.Runtime))
		}
		if m.Mode != nil {
			add("mode", string(*m.Mode))
		}
		if m.Motor1Status != nil {
			add("m1", string(*m.Motor1Status))
		}
		if m.Motor2Status != nil {
			add("m2", string(*m.Motor2Status))
		}
		if m.MotorConfig != nil {
			add("cfg", string(*m.MotorConfig))
		}
		parts = append(parts, formatLevels(m.Levels)...)
		if m.All && !m.Settings.Empty() {
			add("settings", fmt.Sprintf("%d keys", patchSize(m.Settings)))
		}
	case SettingData:
		add("keys", fmt.Sprintf("%d", patchSize(m.Settings)))
		if m.Settings.Mode != nil {
			add("mode", string(*m.Settings.Mode))
		}
		if m.Settings.MAC != nil {
			add("mac", m.Settings.MAC.String())
		}
	case SensorData:
		parts = append(parts, formatLevels(m.Levels)...)
	case MotorUpdate:
		add("motor", fmt.Sprintf("%d", m.Motor))
		add("state", string(m.State))
	case WiFiConfigData:
		add("mode", string(m.Config.Mode))
		add("ssid", m.Config.SSID)
	case LegacyMotorAck:
		add("msv", string(m.State))
	case LegacyHome:
		if m.Runtime != nil {
			add("runtime", fmt.Sprintf("%.0fs", *m.Runtime))
		}
		if m.Mode != nil {
			add("mode", string(*m.Mode))
		}
		if m.Motor != nil {
			add("msv", string(*m.Motor))
		}
		parts = append(parts, formatLevels(m.Levels)...)
	case TextAck:
		add("token", m.Token)
	case Unknown:
		if m.Type != "" {
			add("type", m.Type)
		}
	case DecodeFailed:
		add("error", fmt.Sprintf("%v", m.Err))
	}

	return strings.Join(parts, " ")
}

func formatLevels(l Levels) []string {
	var parts []string
	for _, lv := range []struct {
		name string
		v    *float64
	}{
		{"A.upper", l.UpperA},
		{"A.lower", l.LowerA},
		{"B.upper", l.UpperB},
		{"B.lower", l.LowerB},
	} {
		if lv.v != nil {
			parts = append(parts, fmt.Sprintf("%s=%.0f%%", lv.name, *lv.v))
		}
	}
	return parts
}

func patchSize(p SettingsPatch) int {
	n := len(p.Numbers) + len(p.Flags)
	for _, set := range []bool{p.Mode != nil, p.Topology != nil, p.SyncMode != nil, p.AlternateInterval != nil, p.MAC != nil} {
		if set {
			n++
		}
	}
	return n
}

// FormatState renders a multi-line summary of the state
func FormatState(s State) string {
	st := s.SystemStatus
	var b strings.Builder

	conn := "disconnected"
	if s.IsConnected {
		conn = "connected"
	}
	fmt.Fprintf(&b, "Connection: %s\n", conn)
	if s.Error != "" {
		fmt.Fprintf(&b, "Error:      %s\n", s.Error)
	}
	fmt.Fprintf(&b, "Mode:       %s (%s)\n", st.Mode, st.MotorConfig)
	fmt.Fprintf(&b, "Motor 1:    %s%s  reason: %s\n", st.Motor1Status, enabledSuffix(st.Motor1Enabled), st.AutoModeReasonMotor1)
	fmt.Fprintf(&b, "Motor 2:    %s%s  reason: %s\n", st.Motor2Status, enabledSuffix(st.Motor2Enabled), st.AutoModeReasonMotor2)
	fmt.Fprintf(&b, "Tank A:     upper %5.1f%%  lower %5.1f%%\n", s.TankData.TankA.Upper, s.TankData.TankA.Lower)
	fmt.Fprintf(&b, "Tank B:     upper %5.1f%%  lower %5.1f%%\n", s.TankData.TankB.Upper, s.TankData.TankB.Lower)
	fmt.Fprintf(&b, "Runtime:    %s\n", FormatUptime(time.Duration(st.Runtime*float64(time.Second))))
	if !st.LastUpdated.IsZero() {
		fmt.Fprintf(&b, "Updated:    %s\n", st.LastUpdated.Format("15:04:05"))
	}
	return b.String()
}

func enabledSuffix(enabled bool) string {
	if enabled {
		return ""
	}
	return " (disabled)"
}

// FormatUptime formats a duration as human-readable uptime
func FormatUptime(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}

	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, u := range []struct {
		n    int64
		unit string
	}{
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
		{seconds, "second"},
	} {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.unit)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.unit))
		}
	}

	return strings.Join(parts, ", ")
}

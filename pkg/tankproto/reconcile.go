// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import (
	"fmt"
	"time"
)

// Effects are side signals produced by a reconciliation step
type Effects struct {
	// ResetAttempts tells the reconnection supervisor that the link is
	// demonstrably healthy
	ResetAttempts bool
}

// Reconcile folds msg into prev and returns the next state.
//
// Reconcile is pure: prev is never modified and the only clock input is
// now. Every field the message does not carry keeps its previous value;
// legitimate zero values present in the message are applied.
func Reconcile(prev State, msg Message, now time.Time) (State, Effects) {
	s := prev

	switch m := msg.(type) {
	case HomeData:
		if m.All {
			s.SystemSettings = m.Settings.Apply(s.SystemSettings)
		}
		s = s.withConnected(true)
		st := &s.SystemStatus
		st.LastUpdated = now
		merge(&st.Runtime, m.Runtime)
		merge(&st.Mode, m.Mode)
		merge(&st.Motor1Status, m.Motor1Status)
		merge(&st.Motor2Status, m.Motor2Status)
		merge(&st.Motor1Enabled, m.Motor1Enabled)
		merge(&st.Motor2Enabled, m.Motor2Enabled)
		merge(&st.AutoModeReasonMotor1, m.AutoModeReasonMotor1)
		merge(&st.AutoModeReasonMotor2, m.AutoModeReasonMotor2)
		merge(&st.MotorConfig, m.MotorConfig)
		st.MotorStatus = motorOr(st.Motor1Status, st.Motor2Status)
		s.TankData = applyLevels(s.TankData, m.Levels)
		sensors := &s.SystemSettings.Sensors
		merge(&sensors.LowerTankA, m.Sensors.LowerA)
		merge(&sensors.LowerTankB, m.Sensors.LowerB)
		merge(&sensors.UpperTankA, m.Sensors.UpperA)
		merge(&sensors.UpperTankB, m.Sensors.UpperB)
		s.Error = ""
		return s, Effects{ResetAttempts: true}

	case SettingData:
		s.SystemSettings = m.Settings.Apply(s.SystemSettings)
		st := &s.SystemStatus
		merge(&st.Mode, m.Settings.Mode)
		merge(&st.MotorConfig, m.Settings.Topology)
		if v, ok := m.Settings.Flags[KeyMotor1Enabled]; ok {
			st.Motor1Enabled = v
		}
		if v, ok := m.Settings.Flags[KeyMotor2Enabled]; ok {
			st.Motor2Enabled = v
		}
		s.Error = ""
		return s, Effects{ResetAttempts: true}

	case MotorUpdate:
		s.Error = ""
		st := &s.SystemStatus
		switch m.Motor {
		case 1:
			st.Motor1Status = m.State
		case 2:
			st.Motor2Status = m.State
		default:
			return s, Effects{}
		}
		st.MotorStatus = motorOr(st.Motor1Status, st.Motor2Status)
		st.LastUpdated = now
		return s, Effects{ResetAttempts: true}

	case SensorData:
		s.TankData = applyLevels(s.TankData, m.Levels)
		s.SystemStatus.LastUpdated = now
		s.Error = ""
		return s, Effects{}

	case ConfigAck, WiFiConfigAck:
		s.Error = ""
		return s, Effects{ResetAttempts: true}

	case SystemReset:
		return s.withConnected(false), Effects{}

	case WiFiConfigData:
		s.WiFi = m.Config
		s.WiFi.Password = ""
		s.Error = ""
		return s, Effects{}

	case LegacyMotorAck:
		// Legacy firmware drives a single motor, reported as motor 1
		st := &s.SystemStatus
		st.Motor1Status = m.State
		st.MotorStatus = motorOr(st.Motor1Status, st.Motor2Status)
		st.LastUpdated = now
		return s, Effects{}

	case LegacyHome:
		s = s.withConnected(true)
		st := &s.SystemStatus
		st.LastUpdated = now
		merge(&st.Runtime, m.Runtime)
		merge(&st.Mode, m.Mode)
		merge(&st.Motor1Status, m.Motor)
		merge(&st.AutoModeReasons, m.Reason)
		st.MotorStatus = motorOr(st.Motor1Status, st.Motor2Status)
		if m.Levels.Any() {
			s.TankData = applyLevels(s.TankData, m.Levels)
		}
		s.Error = ""
		return s, Effects{ResetAttempts: true}

	case DecodeFailed:
		s.Error = ErrTextParseFailed
		return s, Effects{}
	}

	// TextAck, Unknown
	return prev, Effects{}
}

func merge[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func applyLevels(t TankData, l Levels) TankData {
	merge(&t.TankA.Upper, l.UpperA)
	merge(&t.TankA.Lower, l.LowerA)
	merge(&t.TankB.Upper, l.UpperB)
	merge(&t.TankB.Lower, l.LowerB)
	return t
}

//////////////////////////////////////////////////////////////
// Link Transitions
//////////////////////////////////////////////////////////////

func (s State) withConnected(connected bool) State {
	s.IsConnected = connected
	s.SystemStatus.Connected = connected
	return s
}

// Opened is the state after the link opened
func (s State) Opened() State {
	s = s.withConnected(true)
	s.Error = ""
	return s
}

// Closed is the state after the link closed with code. A normal closure
// sets no error.
func (s State) Closed(code int) State {
	s = s.withConnected(false)
	if code != CloseNormal {
		s.Error = fmt.Sprintf(errTextConnLostFmt, code)
	}
	return s
}

// Errored is the state after a transport error
func (s State) Errored() State {
	s = s.withConnected(false)
	s.Error = ErrTextConnection
	return s
}

// DialFailed is the state after a connection attempt failed
func (s State) DialFailed(err error) State {
	s = s.withConnected(false)
	s.Error = fmt.Sprintf(errTextDialFailedFmt, err)
	return s
}

// Disconnected is the state after an explicit disconnect. Settings and
// tank levels are kept for display.
func (s State) Disconnected() State {
	return s.withConnected(false)
}

// WithError sets the user-facing error
func (s State) WithError(msg string) State {
	s.Error = msg
	return s
}

// Consistent reports whether the connectivity mirrors and the derived
// motor flag agree
func (s State) Consistent() bool {
	return s.IsConnected == s.SystemStatus.Connected &&
		s.SystemStatus.MotorStatus == motorOr(s.SystemStatus.Motor1Status, s.SystemStatus.Motor2Status)
}

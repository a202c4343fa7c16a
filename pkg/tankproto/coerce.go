// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Frame is a decoded JSON object. Values follow encoding/json conventions
// (float64, string, bool, []interface{}, map[string]interface{}).
type Frame map[string]interface{}

// Has reports whether key is present with a non-null value
func (f Frame) Has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

// GetNumber extracts a number that may arrive as a JSON number or a
// numeric string. NaN and infinities are treated as absent.
func (f Frame) GetNumber(key string) (float64, bool) {
	switch v := f[key].(type) {
	case float64:
		return v, true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil && finite(n)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil && finite(n)
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func finite(n float64) bool {
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}

// GetBool extracts a boolean from a JSON bool, 0/1 or "true"/"false"
func (f Frame) GetBool(key string) (bool, bool) {
	switch v := f[key].(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "on", "yes":
			return true, true
		case "false", "0", "off", "no":
			return false, true
		}
	}
	return false, false
}

// GetString extracts a string value
func (f Frame) GetString(key string) (string, bool) {
	switch v := f[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

// GetMotorState extracts an ON/OFF motor state from a string or bool
func (f Frame) GetMotorState(key string) (MotorState, bool) {
	if s, ok := f[key].(string); ok {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "ON":
			return MotorOn, true
		case "OFF":
			return MotorOff, true
		}
	}
	if b, ok := f.GetBool(key); ok {
		if b {
			return MotorOn, true
		}
		return MotorOff, true
	}
	return "", false
}

// GetMode extracts the operating mode; both "auto" and "Auto Mode"
// spellings are accepted
func (f Frame) GetMode(key string) (Mode, bool) {
	s, ok := f[key].(string)
	if !ok {
		return "", false
	}
	return parseMode(s)
}

func parseMode(s string) (Mode, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, " mode")
	switch s {
	case "auto":
		return ModeAuto, true
	case "manual":
		return ModeManual, true
	}
	return "", false
}

// GetTopology extracts a motor topology
func (f Frame) GetTopology(key string) (Topology, bool) {
	s, ok := f[key].(string)
	if !ok {
		return "", false
	}
	switch t := Topology(strings.ToUpper(strings.TrimSpace(s))); t {
	case TopologySingleTankSingleMotor, TopologySingleTankDualMotor, TopologyDualTankDualMotor:
		return t, true
	}
	return "", false
}

// GetSyncMode extracts a dual motor sync mode
func (f Frame) GetSyncMode(key string) (SyncMode, bool) {
	s, ok := f[key].(string)
	if !ok {
		return "", false
	}
	switch m := SyncMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case SyncSimultaneous, SyncAlternate, SyncPrimaryBackup:
		return m, true
	}
	return "", false
}

// GetMAC extracts a hardware address from a 6 element byte array or a
// colon separated string
func (f Frame) GetMAC(key string) (MAC, bool) {
	var mac MAC
	switch v := f[key].(type) {
	case []interface{}:
		if len(v) != len(mac) {
			return mac, false
		}
		for i, b := range v {
			n, ok := b.(float64)
			if !ok || n < 0 || n > 255 {
				return mac, false
			}
			mac[i] = byte(n)
		}
		return mac, true
	case string:
		return parseMACString(v)
	}
	return mac, false
}

// GetOctet extracts an IPv4 octet
func (f Frame) GetOctet(key string) (byte, bool) {
	n, ok := f.GetNumber(key)
	if !ok || n < 0 || n > 255 {
		return 0, false
	}
	return byte(n), true
}

func numberPtr(f Frame, key string) *float64 {
	if v, ok := f.GetNumber(key); ok {
		return &v
	}
	return nil
}

func boolPtr(f Frame, key string) *bool {
	if v, ok := f.GetBool(key); ok {
		return &v
	}
	return nil
}

func stringPtr(f Frame, key string) *string {
	if v, ok := f.GetString(key); ok {
		return &v
	}
	return nil
}

func motorPtr(f Frame, key string) *MotorState {
	if v, ok := f.GetMotorState(key); ok {
		return &v
	}
	return nil
}

func modePtr(f Frame, key string) *Mode {
	if v, ok := f.GetMode(key); ok {
		return &v
	}
	return nil
}

func topologyPtr(f Frame, key string) *Topology {
	if v, ok := f.GetTopology(key); ok {
		return &v
	}
	return nil
}

// firstNumber returns the first key that carries a number
func firstNumber(f Frame, keys ...string) *float64 {
	for _, k := range keys {
		if p := numberPtr(f, k); p != nil {
			return p
		}
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import (
	"encoding/json"
	"fmt"
)

// Intent is an outbound command requested by a consumer. Type is either a
// bare text token or one of the JSON command types.
type Intent struct {
	Type     string
	Settings *SystemSettings
	WiFi     *WiFiConfig
}

// Command returns an intent for a bare text token
func Command(token string) Intent {
	return Intent{Type: token}
}

// MotorCommand returns the intent switching one motor on or off
func MotorCommand(motor int, on bool) (Intent, error) {
	switch {
	case motor == 1 && on:
		return Command(CmdMotor1On), nil
	case motor == 1:
		return Command(CmdMotor1Off), nil
	case motor == 2 && on:
		return Command(CmdMotor2On), nil
	case motor == 2:
		return Command(CmdMotor2Off), nil
	}
	return Intent{}, fmt.Errorf("invalid motor index: %d", motor)
}

// UpdateSettings returns the intent writing s to the device
func UpdateSettings(s SystemSettings) Intent {
	return Intent{Type: CmdUpdateSettings, Settings: &s}
}

// UpdateWiFiConfig returns the intent writing c to the device
func UpdateWiFiConfig(c WiFiConfig) Intent {
	return Intent{Type: CmdUpdateWiFiConfig, WiFi: &c}
}

// Encoding is the result of encoding an intent
type Encoding struct {
	Frames   [][]byte
	Fallback bool // the intent had no mapping and the refresh fallback was used
}

// EncodeIntent translates an intent into wire frames.
//
// Intents with no explicit mapping fall back to a getHomeData plus
// getSettingData refresh and report Fallback.
func EncodeIntent(in Intent) (Encoding, error) {
	if IsCommandToken(in.Type) && in.Type != "pong" {
		return Encoding{Frames: [][]byte{[]byte(in.Type)}}, nil
	}

	switch in.Type {
	case CmdUpdateSettings:
		if in.Settings == nil {
			return Encoding{}, fmt.Errorf("%s: missing settings", in.Type)
		}
		frame, err := EncodeSettings(*in.Settings)
		if err != nil {
			return Encoding{}, err
		}
		return Encoding{Frames: [][]byte{frame}}, nil

	case CmdUpdateWiFiConfig:
		if in.WiFi == nil {
			return Encoding{}, fmt.Errorf("%s: missing WiFi config", in.Type)
		}
		frame, err := EncodeWiFiConfig(*in.WiFi)
		if err != nil {
			return Encoding{}, err
		}
		return Encoding{Frames: [][]byte{frame}}, nil
	}

	return Encoding{
		Frames:   [][]byte{[]byte(CmdGetHomeData), []byte(CmdGetSettingData)},
		Fallback: true,
	}, nil
}

// EncodeSettings renders an updateSettings frame
func EncodeSettings(s SystemSettings) ([]byte, error) {
	out := flattenSettings(s)
	out["type"] = CmdUpdateSettings
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return data, nil
}

// EncodeWiFiConfig renders an updateWiFiConfig frame
func EncodeWiFiConfig(c WiFiConfig) ([]byte, error) {
	mode := c.Mode
	if mode == "" {
		mode = WiFiDHCP
	}
	out := map[string]interface{}{
		"type": CmdUpdateWiFiConfig,
		"MODE": string(mode),
		"SSID": c.SSID,
		"PASS": c.Password,
	}
	for i := 0; i < 4; i++ {
		out[fmt.Sprintf("SIP%d", i)] = c.StaticIP[i]
		out[fmt.Sprintf("SG%d", i)] = c.Gateway[i]
		out[fmt.Sprintf("SS%d", i)] = c.Subnet[i]
		out[fmt.Sprintf("SPD%d", i)] = c.DNS[i]
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode WiFi config: %w", err)
	}
	return data, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrDecode is returned for frames that are neither JSON objects nor
// known text tokens
var ErrDecode = errors.New("failed to decode frame")

// Home data keys
const (
	keyRuntime     = "RTV"
	keyMotor1State = "M1S"
	keyMotor2State = "M2S"
	keyReason1     = "AMR1"
	keyReason2     = "AMR2"
	keyLevelUA     = "UTWLA"
	keyLevelLA     = "LTWLA"
	keyLevelUB     = "UTWLB"
	keyLevelLB     = "LTWLB"

	keyLegacyMotor  = "MSV"
	keyLegacyReason = "AMR"
)

// Decode normalizes a raw frame into a Message.
//
// Frames are recognized in priority order: a JSON object with a "type"
// discriminator, a legacy JSON object identified by its keys, a bare text
// command acknowledgment. Anything else fails with ErrDecode.
func Decode(frame []byte) (Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecode)
	}

	if trimmed[0] != '{' {
		token := string(trimmed)
		if IsCommandToken(token) {
			return TextAck{Token: token}, nil
		}
		var v interface{}
		if json.Unmarshal(trimmed, &v) == nil {
			return Unknown{}, nil
		}
		return nil, fmt.Errorf("%w: unrecognized text %q", ErrDecode, truncate(token, 32))
	}

	var f Frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if t, ok := f["type"].(string); ok {
		return decodeTyped(t, f), nil
	}
	return decodeLegacy(f), nil
}

// DecodeString is Decode for text frames
func DecodeString(frame string) (Message, error) {
	return Decode([]byte(frame))
}

func decodeTyped(t string, f Frame) Message {
	switch t {
	case TypeHomeData:
		return decodeHome(f, false)
	case TypeAllData:
		return decodeHome(f, true)
	case TypeSettingData:
		return SettingData{Settings: settingsPatchFromFrame(f)}
	case TypeSensorData:
		return SensorData{Levels: decodeLevels(f)}
	case TypeMotorState:
		return decodeMotorState(f)
	case TypeConfigUpdate:
		return ConfigAck{}
	case TypeWiFiConfigUpdate:
		return WiFiConfigAck{}
	case TypeSystemReset:
		return SystemReset{}
	case TypeWiFiConfig:
		return WiFiConfigData{Config: decodeWiFiConfig(f)}
	}
	return Unknown{Type: t}
}

func decodeHome(f Frame, all bool) HomeData {
	m := HomeData{
		All:                  all,
		Runtime:              numberPtr(f, keyRuntime),
		Mode:                 modePtr(f, KeyMode),
		Motor1Status:         motorPtr(f, keyMotor1State),
		Motor2Status:         motorPtr(f, keyMotor2State),
		Motor1Enabled:        boolPtr(f, KeyMotor1Enabled),
		Motor2Enabled:        boolPtr(f, KeyMotor2Enabled),
		AutoModeReasonMotor1: stringPtr(f, keyReason1),
		AutoModeReasonMotor2: stringPtr(f, keyReason2),
		MotorConfig:          topologyPtr(f, KeyMotorConfig),
		Levels:               decodeLevels(f),
		Sensors: SensorFlags{
			LowerA: boolPtr(f, "LAE"),
			LowerB: boolPtr(f, "LBE"),
			UpperA: boolPtr(f, "UAE"),
			UpperB: boolPtr(f, "UBE"),
		},
	}
	if all {
		m.Settings = settingsPatchFromFrame(f)
	}
	return m
}

// decodeLevels accepts both abbreviated and long level key names
func decodeLevels(f Frame) Levels {
	return Levels{
		UpperA: firstNumber(f, keyLevelUA, "upperTankA"),
		LowerA: firstNumber(f, keyLevelLA, "lowerTankA"),
		UpperB: firstNumber(f, keyLevelUB, "upperTankB"),
		LowerB: firstNumber(f, keyLevelLB, "lowerTankB"),
	}
}

func decodeMotorState(f Frame) Message {
	n, ok := f.GetNumber("motor")
	if !ok {
		return Unknown{Type: TypeMotorState}
	}
	state, ok := f.GetMotorState("state")
	if !ok {
		return Unknown{Type: TypeMotorState}
	}
	return MotorUpdate{Motor: int(n), State: state}
}

func decodeWiFiConfig(f Frame) WiFiConfig {
	var c WiFiConfig
	if mode, ok := f.GetString("MODE"); ok {
		c.Mode = WiFiMode(strings.ToLower(mode))
	}
	c.SSID, _ = f.GetString("SSID")
	for i := 0; i < 4; i++ {
		c.StaticIP[i], _ = f.GetOctet(fmt.Sprintf("SIP%d", i))
		c.Gateway[i], _ = f.GetOctet(fmt.Sprintf("SG%d", i))
		c.Subnet[i], _ = f.GetOctet(fmt.Sprintf("SS%d", i))
		c.DNS[i], _ = f.GetOctet(fmt.Sprintf("SPD%d", i))
	}
	return c
}

// legacyDetailKeys are the legacy home keys that may accompany MSV
var legacyDetailKeys = []string{keyLegacyReason, keyLevelUA, keyLevelLA, keyLevelUB, keyLevelLB}

func decodeLegacy(f Frame) Message {
	hasRuntime := f.Has(keyRuntime)
	hasMode := f.Has(KeyMode)
	hasMotor := f.Has(keyLegacyMotor)

	hasDetail := false
	for _, k := range legacyDetailKeys {
		if f.Has(k) {
			hasDetail = true
			break
		}
	}

	// MSV alone is a motor acknowledgment
	if hasMotor && !hasRuntime && !hasMode && !hasDetail {
		state, ok := f.GetMotorState(keyLegacyMotor)
		if !ok {
			return Unknown{}
		}
		return LegacyMotorAck{State: state}
	}

	if hasRuntime || hasMode || hasMotor {
		return LegacyHome{
			Runtime: numberPtr(f, keyRuntime),
			Mode:    modePtr(f, KeyMode),
			Motor:   motorPtr(f, keyLegacyMotor),
			Reason:  stringPtr(f, keyLegacyReason),
			Levels: Levels{
				UpperA: numberPtr(f, keyLevelUA),
				LowerA: numberPtr(f, keyLevelLA),
				UpperB: numberPtr(f, keyLevelUB),
				LowerB: numberPtr(f, keyLevelLB),
			},
		}
	}

	return Unknown{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

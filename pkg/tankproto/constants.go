// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tankproto implements the JSON/text protocol spoken by the ESP32
// water tank controller and the client-side state model built from it.
//
// Frames are either JSON objects (current protocol with a "type"
// discriminator, or legacy abbreviated-key objects) or bare text command
// tokens. Decode normalizes every frame into a Message; Reconcile folds a
// Message into the previous State to produce the next one.
package tankproto

import "time"

// Control port and timing defaults
const (
	DefaultPort = 81

	ProbeTimeout    = 5 * time.Second
	LoadTimeout     = 8 * time.Second
	LoadAttempts    = 3
	LoadRetryDelay  = 2 * time.Second
	DefaultInterval = time.Hour // motor alternate interval

	HeartbeatInterval = 30 * time.Second
)

// Fixed user-facing error strings
const (
	ErrTextParseFailed   = "Failed to parse device message"
	ErrTextConnection    = "Connection error occurred"
	ErrTextNotConnected  = "Not connected to device"
	ErrTextSendFailed    = "Failed to send message to device"
	ErrTextMaxAttempts   = "Max reconnection attempts reached"
	ErrTextMixedContent  = "Mixed content: cannot reach a local network device from a secure context"
	ErrTextNoDevices     = "No devices found on the network"
	ErrTextLoadFailed    = "Failed to load device data"
	errTextConnLostFmt   = "Connection lost (code %d)"
	errTextDialFailedFmt = "Connection failed: %v"
)

// Outbound bare text command tokens
const (
	CmdMotor1On       = "motor1On"
	CmdMotor1Off      = "motor1Off"
	CmdMotor2On       = "motor2On"
	CmdMotor2Off      = "motor2Off"
	CmdSystemReset    = "systemReset"
	CmdGetHomeData    = "getHomeData"
	CmdGetSettingData = "getSettingData"
	CmdGetSensorData  = "getSensorData"
	CmdGetAllData     = "getAllData"
	CmdGetWiFiConfig  = "getWiFiConfig"

	// Keepalive; the device answers ReplyPong
	CmdPing   = "ping"
	ReplyPong = "pong"
)

// Outbound JSON command types
const (
	CmdUpdateSettings   = "updateSettings"
	CmdUpdateWiFiConfig = "updateWiFiConfig"
)

// Inbound message type discriminators
const (
	TypeHomeData         = "homeData"
	TypeSettingData      = "settingData"
	TypeSensorData       = "sensorData"
	TypeAllData          = "allData"
	TypeMotorState       = "motorState"
	TypeConfigUpdate     = "configUpdate"
	TypeWiFiConfigUpdate = "wifiConfigUpdate"
	TypeSystemReset      = "systemReset"
	TypeWiFiConfig       = "wifiConfig"
)

// WebSocket close codes
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// knownTokens are bare text frames that acknowledge a command
var knownTokens = map[string]bool{
	CmdMotor1On:       true,
	CmdMotor1Off:      true,
	CmdMotor2On:       true,
	CmdMotor2Off:      true,
	CmdSystemReset:    true,
	CmdGetHomeData:    true,
	CmdGetSettingData: true,
	CmdGetSensorData:  true,
	CmdGetAllData:     true,
	CmdGetWiFiConfig:  true,
	ReplyPong:         true,
}

// IsCommandToken reports whether s is a bare text command token.
func IsCommandToken(s string) bool {
	return knownTokens[s]
}

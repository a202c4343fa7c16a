// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

// Message is a normalized inbound frame. The concrete type identifies the
// frame shape; pointer fields are nil when the device omitted the key.
type Message interface {
	// Kind returns a short name used for logging and statistics
	Kind() string
	isMessage()
}

// Levels is a sparse tank level update
type Levels struct {
	UpperA *float64
	LowerA *float64
	UpperB *float64
	LowerB *float64
}

// Any reports whether at least one level is present
func (l Levels) Any() bool {
	return l.UpperA != nil || l.LowerA != nil || l.UpperB != nil || l.LowerB != nil
}

// SensorFlags is a sparse sensor enable update
type SensorFlags struct {
	LowerA *bool
	LowerB *bool
	UpperA *bool
	UpperB *bool
}

// HomeData is a homeData or allData frame
type HomeData struct {
	All                  bool // allData frame
	Runtime              *float64
	Mode                 *Mode
	Motor1Status         *MotorState
	Motor2Status         *MotorState
	Motor1Enabled        *bool
	Motor2Enabled        *bool
	AutoModeReasonMotor1 *string
	AutoModeReasonMotor2 *string
	MotorConfig          *Topology
	Levels               Levels
	Sensors              SensorFlags
	Settings             SettingsPatch // allData only
}

// SettingData is a settingData frame
type SettingData struct {
	Settings SettingsPatch
}

// SensorData is a sensorData frame
type SensorData struct {
	Levels Levels
}

// MotorUpdate is a motorState frame for one motor
type MotorUpdate struct {
	Motor int // 1 or 2
	State MotorState
}

// ConfigAck acknowledges a settings update
type ConfigAck struct{}

// WiFiConfigAck acknowledges a WiFi configuration update
type WiFiConfigAck struct{}

// SystemReset announces a device reboot
type SystemReset struct{}

// WiFiConfigData reports the device network configuration
type WiFiConfigData struct {
	Config WiFiConfig
}

// LegacyMotorAck is a legacy frame carrying only MSV
type LegacyMotorAck struct {
	State MotorState
}

// LegacyHome is a legacy home data frame with abbreviated keys
type LegacyHome struct {
	Runtime *float64
	Mode    *Mode
	Motor   *MotorState
	Reason  *string
	Levels  Levels
}

// TextAck is a bare text acknowledgment
type TextAck struct {
	Token string
}

// Unknown is a well-formed frame with no known shape
type Unknown struct {
	Type string
}

// DecodeFailed is produced for frames that could not be decoded
type DecodeFailed struct {
	Err error
}

func (m HomeData) Kind() string {
	if m.All {
		return TypeAllData
	}
	return TypeHomeData
}

func (SettingData) Kind() string    { return TypeSettingData }
func (SensorData) Kind() string     { return TypeSensorData }
func (MotorUpdate) Kind() string    { return TypeMotorState }
func (ConfigAck) Kind() string      { return TypeConfigUpdate }
func (WiFiConfigAck) Kind() string  { return TypeWiFiConfigUpdate }
func (SystemReset) Kind() string    { return TypeSystemReset }
func (WiFiConfigData) Kind() string { return TypeWiFiConfig }
func (LegacyMotorAck) Kind() string { return "legacyMotorAck" }
func (LegacyHome) Kind() string     { return "legacyHome" }
func (TextAck) Kind() string        { return "text" }
func (Unknown) Kind() string        { return "unknown" }
func (DecodeFailed) Kind() string   { return "decodeFailed" }

func (HomeData) isMessage()       {}
func (SettingData) isMessage()    {}
func (SensorData) isMessage()     {}
func (MotorUpdate) isMessage()    {}
func (ConfigAck) isMessage()      {}
func (WiFiConfigAck) isMessage()  {}
func (SystemReset) isMessage()    {}
func (WiFiConfigData) isMessage() {}
func (LegacyMotorAck) isMessage() {}
func (LegacyHome) isMessage()     {}
func (TextAck) isMessage()        {}
func (Unknown) isMessage()        {}
func (DecodeFailed) isMessage()   {}

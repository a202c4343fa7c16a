// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode is the controller operating mode
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// wire returns the device spelling of the mode
func (m Mode) wire() string {
	if m == ModeAuto {
		return "Auto Mode"
	}
	return "Manual Mode"
}

// MotorState is the on/off state of a pump motor
type MotorState string

const (
	MotorOn  MotorState = "ON"
	MotorOff MotorState = "OFF"
)

// On reports whether the motor is running
func (s MotorState) On() bool {
	return s == MotorOn
}

// motorOr returns ON when either motor is on
func motorOr(a, b MotorState) MotorState {
	if a.On() || b.On() {
		return MotorOn
	}
	return MotorOff
}

// Topology is the motor configuration of the installation
type Topology string

const (
	TopologySingleTankSingleMotor Topology = "SINGLE_TANK_SINGLE_MOTOR"
	TopologySingleTankDualMotor   Topology = "SINGLE_TANK_DUAL_MOTOR"
	TopologyDualTankDualMotor     Topology = "DUAL_TANK_DUAL_MOTOR"
)

// SyncMode controls how two motors coordinate
type SyncMode string

const (
	SyncSimultaneous  SyncMode = "SIMULTANEOUS"
	SyncAlternate     SyncMode = "ALTERNATE"
	SyncPrimaryBackup SyncMode = "PRIMARY_BACKUP"
)

// WiFiMode is the network mode of the controller
type WiFiMode string

const (
	WiFiDHCP   WiFiMode = "dhcp"
	WiFiStatic WiFiMode = "static"
	WiFiAP     WiFiMode = "ap"
)

// MAC is a hardware address
type MAC [6]byte

// String formats the address as colon separated hex
func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether no address has been reported
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// MarshalText implements encoding.TextMarshaler
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *MAC) UnmarshalText(text []byte) error {
	mac, ok := parseMACString(string(text))
	if !ok {
		return fmt.Errorf("invalid MAC address: %q", text)
	}
	*m = mac
	return nil
}

func parseMACString(s string) (MAC, bool) {
	var mac MAC
	s = strings.TrimSpace(s)
	if s == "" {
		return mac, true
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != len(mac) {
		return mac, false
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return mac, false
		}
		mac[i] = byte(v)
	}
	return mac, true
}

//////////////////////////////////////////////////////////////
// System Status
//////////////////////////////////////////////////////////////

// SystemStatus is the live status reported by the controller
type SystemStatus struct {
	Connected   bool
	LastUpdated time.Time
	Runtime     float64 // seconds since the device last reported

	Motor1Status  MotorState
	Motor2Status  MotorState
	Motor1Enabled bool
	Motor2Enabled bool
	MotorStatus   MotorState // derived: Motor1Status OR Motor2Status

	Mode                 Mode
	AutoModeReasonMotor1 string
	AutoModeReasonMotor2 string
	AutoModeReasons      string // legacy single-motor reason
	MotorConfig          Topology
}

//////////////////////////////////////////////////////////////
// System Settings
//////////////////////////////////////////////////////////////

// MotorSettings configures motor topology and coordination
type MotorSettings struct {
	Configuration     Topology      `yaml:"configuration"`
	Motor1Enabled     bool          `yaml:"motor1_enabled"`
	Motor2Enabled     bool          `yaml:"motor2_enabled"`
	DualMotorSyncMode SyncMode      `yaml:"dual_motor_sync_mode"`
	AlternateInterval time.Duration `yaml:"alternate_interval"`
}

// TankAutomation holds the automation thresholds for one tank pair
type TankAutomation struct {
	MinAutoValue      float64 `yaml:"min_auto_value"`
	MaxAutoValue      float64 `yaml:"max_auto_value"`
	LowerThreshold    float64 `yaml:"lower_threshold"`
	LowerOverflow     float64 `yaml:"lower_overflow"`
	AutomationEnabled bool    `yaml:"automation_enabled"`
}

// SpecialFunctions are the legacy automation flags
type SpecialFunctions struct {
	UpperTankOverFlowLock bool `yaml:"upper_tank_overflow_lock"`
	LowerTankOverFlowLock bool `yaml:"lower_tank_overflow_lock"`
	SyncBothTank          bool `yaml:"sync_both_tank"`
	BuzzerAlert           bool `yaml:"buzzer_alert"`
}

// AutoMode is the legacy single-pair automation block
type AutoMode struct {
	MinWaterLevel    float64          `yaml:"min_water_level"`
	MaxWaterLevel    float64          `yaml:"max_water_level"`
	SpecialFunctions SpecialFunctions `yaml:"special_functions"`
}

// ManualMode holds manual mode settings
type ManualMode struct {
	MotorControl bool `yaml:"motor_control"`
}

// Sensors holds the enable flag of each physical level sensor
type Sensors struct {
	LowerTankA bool `yaml:"lower_tank_a"`
	LowerTankB bool `yaml:"lower_tank_b"`
	UpperTankA bool `yaml:"upper_tank_a"`
	UpperTankB bool `yaml:"upper_tank_b"`
}

// Dimensions describes one tank: height and the sensor reference
// distances when full and empty
type Dimensions struct {
	Height           float64 `yaml:"height"`
	WaterFullHeight  float64 `yaml:"water_full_height"`
	WaterEmptyHeight float64 `yaml:"water_empty_height"`
}

// TankDimensions holds the dimensions at each sensor position
type TankDimensions struct {
	UpperTankA Dimensions `yaml:"upper_tank_a"`
	UpperTankB Dimensions `yaml:"upper_tank_b"`
	LowerTankA Dimensions `yaml:"lower_tank_a"`
	LowerTankB Dimensions `yaml:"lower_tank_b"`
}

// Calibration holds per-sensor offsets in cm
type Calibration struct {
	UpperTankA float64 `yaml:"upper_tank_a"`
	LowerTankA float64 `yaml:"lower_tank_a"`
	UpperTankB float64 `yaml:"upper_tank_b"`
	LowerTankB float64 `yaml:"lower_tank_b"`
}

// SensorLimits bounds a valid raw sensor reading in mm
type SensorLimits struct {
	MinReading float64 `yaml:"min_reading"`
	MaxReading float64 `yaml:"max_reading"`
}

// SystemSettings is the full controller configuration
type SystemSettings struct {
	Mode              Mode           `yaml:"mode"`
	MotorSettings     MotorSettings  `yaml:"motor_settings"`
	TankAAutomation   TankAutomation `yaml:"tank_a_automation"`
	TankBAutomation   TankAutomation `yaml:"tank_b_automation"`
	AutoMode          AutoMode       `yaml:"auto_mode"`
	ManualMode        ManualMode     `yaml:"manual_mode"`
	Sensors           Sensors        `yaml:"sensors"`
	TankDimensions    TankDimensions `yaml:"tank_dimensions"`
	SensorCalibration Calibration    `yaml:"sensor_calibration"`
	SensorLimits      SensorLimits   `yaml:"sensor_limits"`
	MacAddress        MAC            `yaml:"mac_address"`
}

//////////////////////////////////////////////////////////////
// Tank Data
//////////////////////////////////////////////////////////////

// TankLevel is the fill percentage of a tank pair
type TankLevel struct {
	Upper float64
	Lower float64
}

// TankData holds the current fill of both tank pairs
type TankData struct {
	TankA TankLevel
	TankB TankLevel
}

//////////////////////////////////////////////////////////////
// WiFi
//////////////////////////////////////////////////////////////

// WiFiConfig is the controller network configuration
type WiFiConfig struct {
	Mode     WiFiMode
	SSID     string
	Password string
	StaticIP [4]byte
	Gateway  [4]byte
	Subnet   [4]byte
	DNS      [4]byte
}

//////////////////////////////////////////////////////////////
// Application State
//////////////////////////////////////////////////////////////

// State is the single application state snapshot. It is a value type and
// is replaced wholesale on every update.
type State struct {
	SystemStatus   SystemStatus
	SystemSettings SystemSettings
	TankData       TankData
	WiFi           WiFiConfig // password is never stored
	IsConnected    bool
	Error          string // empty when there is no error
}

// DefaultSettings returns the settings assumed before the device reports
func DefaultSettings() SystemSettings {
	dims := Dimensions{Height: 100, WaterFullHeight: 90, WaterEmptyHeight: 10}
	return SystemSettings{
		Mode: ModeManual,
		MotorSettings: MotorSettings{
			Configuration:     TopologySingleTankSingleMotor,
			Motor1Enabled:     true,
			Motor2Enabled:     false,
			DualMotorSyncMode: SyncSimultaneous,
			AlternateInterval: DefaultInterval,
		},
		TankAAutomation: TankAutomation{
			MinAutoValue:      20,
			MaxAutoValue:      80,
			LowerThreshold:    30,
			LowerOverflow:     95,
			AutomationEnabled: true,
		},
		TankBAutomation: TankAutomation{
			MinAutoValue:   20,
			MaxAutoValue:   80,
			LowerThreshold: 30,
			LowerOverflow:  95,
		},
		AutoMode: AutoMode{
			MinWaterLevel: 20,
			MaxWaterLevel: 80,
			SpecialFunctions: SpecialFunctions{
				UpperTankOverFlowLock: true,
				LowerTankOverFlowLock: true,
				SyncBothTank:          true,
				BuzzerAlert:           true,
			},
		},
		Sensors: Sensors{
			LowerTankA: true,
			LowerTankB: true,
			UpperTankA: true,
			UpperTankB: true,
		},
		TankDimensions: TankDimensions{
			UpperTankA: dims,
			UpperTankB: dims,
			LowerTankA: dims,
			LowerTankB: dims,
		},
		SensorLimits: SensorLimits{MinReading: 20, MaxReading: 4000},
	}
}

// DefaultState returns the startup state
func DefaultState() State {
	return State{
		SystemStatus: SystemStatus{
			Motor1Status:         MotorOff,
			Motor2Status:         MotorOff,
			Motor1Enabled:        true,
			MotorStatus:          MotorOff,
			Mode:                 ModeManual,
			AutoModeReasonMotor1: "NONE",
			AutoModeReasonMotor2: "NONE",
			AutoModeReasons:      "NONE",
			MotorConfig:          TopologySingleTankSingleMotor,
		},
		SystemSettings: DefaultSettings(),
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import "time"

// Device keys shared by settingData, allData and updateSettings
const (
	KeyMode              = "SM"
	KeyMotorConfig       = "MCFG"
	KeyMotor1Enabled     = "M1E"
	KeyMotor2Enabled     = "M2E"
	KeySyncMode          = "DMSM"
	KeyAlternateInterval = "MAI" // milliseconds
	KeyMAC               = "MAC"
)

// numberField binds a device key to a numeric settings field
type numberField struct {
	key   string
	field func(*SystemSettings) *float64
}

// flagField binds a device key to a boolean settings field
type flagField struct {
	key   string
	field func(*SystemSettings) *bool
}

var settingsNumbers = []numberField{
	// Tank A automation
	{"TAMIN", func(s *SystemSettings) *float64 { return &s.TankAAutomation.MinAutoValue }},
	{"TAMAX", func(s *SystemSettings) *float64 { return &s.TankAAutomation.MaxAutoValue }},
	{"TALT", func(s *SystemSettings) *float64 { return &s.TankAAutomation.LowerThreshold }},
	{"TALO", func(s *SystemSettings) *float64 { return &s.TankAAutomation.LowerOverflow }},

	// Tank B automation
	{"TBMIN", func(s *SystemSettings) *float64 { return &s.TankBAutomation.MinAutoValue }},
	{"TBMAX", func(s *SystemSettings) *float64 { return &s.TankBAutomation.MaxAutoValue }},
	{"TBLT", func(s *SystemSettings) *float64 { return &s.TankBAutomation.LowerThreshold }},
	{"TBLO", func(s *SystemSettings) *float64 { return &s.TankBAutomation.LowerOverflow }},

	// Legacy auto thresholds
	{"MINV", func(s *SystemSettings) *float64 { return &s.AutoMode.MinWaterLevel }},
	{"MAXV", func(s *SystemSettings) *float64 { return &s.AutoMode.MaxWaterLevel }},

	// Tank dimensions
	{"UTHA", func(s *SystemSettings) *float64 { return &s.TankDimensions.UpperTankA.Height }},
	{"UTWFHA", func(s *SystemSettings) *float64 { return &s.TankDimensions.UpperTankA.WaterFullHeight }},
	{"UTWEHA", func(s *SystemSettings) *float64 { return &s.TankDimensions.UpperTankA.WaterEmptyHeight }},
	{"UTHB", func(s *SystemSettings) *float64 { return &s.TankDimensions.UpperTankB.Height }},
	{"UTWFHB", func(s *SystemSettings) *float64 { return &s.TankDimensions.UpperTankB.WaterFullHeight }},
	{"UTWEHB", func(s *SystemSettings) *float64 { return &s.TankDimensions.UpperTankB.WaterEmptyHeight }},
	{"LTHA", func(s *SystemSettings) *float64 { return &s.TankDimensions.LowerTankA.Height }},
	{"LTWFHA", func(s *SystemSettings) *float64 { return &s.TankDimensions.LowerTankA.WaterFullHeight }},
	{"LTWEHA", func(s *SystemSettings) *float64 { return &s.TankDimensions.LowerTankA.WaterEmptyHeight }},
	{"LTHB", func(s *SystemSettings) *float64 { return &s.TankDimensions.LowerTankB.Height }},
	{"LTWFHB", func(s *SystemSettings) *float64 { return &s.TankDimensions.LowerTankB.WaterFullHeight }},
	{"LTWEHB", func(s *SystemSettings) *float64 { return &s.TankDimensions.LowerTankB.WaterEmptyHeight }},

	// Calibration
	{"UAOFF", func(s *SystemSettings) *float64 { return &s.SensorCalibration.UpperTankA }},
	{"LAOFF", func(s *SystemSettings) *float64 { return &s.SensorCalibration.LowerTankA }},
	{"UBOFF", func(s *SystemSettings) *float64 { return &s.SensorCalibration.UpperTankB }},
	{"LBOFF", func(s *SystemSettings) *float64 { return &s.SensorCalibration.LowerTankB }},

	// Reading bounds
	{"MINR", func(s *SystemSettings) *float64 { return &s.SensorLimits.MinReading }},
	{"MAXR", func(s *SystemSettings) *float64 { return &s.SensorLimits.MaxReading }},
}

var settingsFlags = []flagField{
	{KeyMotor1Enabled, func(s *SystemSettings) *bool { return &s.MotorSettings.Motor1Enabled }},
	{KeyMotor2Enabled, func(s *SystemSettings) *bool { return &s.MotorSettings.Motor2Enabled }},
	{"TAAE", func(s *SystemSettings) *bool { return &s.TankAAutomation.AutomationEnabled }},
	{"TBAE", func(s *SystemSettings) *bool { return &s.TankBAutomation.AutomationEnabled }},
	{"UTOFL", func(s *SystemSettings) *bool { return &s.AutoMode.SpecialFunctions.UpperTankOverFlowLock }},
	{"LTOFL", func(s *SystemSettings) *bool { return &s.AutoMode.SpecialFunctions.LowerTankOverFlowLock }},
	{"SBT", func(s *SystemSettings) *bool { return &s.AutoMode.SpecialFunctions.SyncBothTank }},
	{"BA", func(s *SystemSettings) *bool { return &s.AutoMode.SpecialFunctions.BuzzerAlert }},
	{"MMC", func(s *SystemSettings) *bool { return &s.ManualMode.MotorControl }},
	{"LAE", func(s *SystemSettings) *bool { return &s.Sensors.LowerTankA }},
	{"LBE", func(s *SystemSettings) *bool { return &s.Sensors.LowerTankB }},
	{"UAE", func(s *SystemSettings) *bool { return &s.Sensors.UpperTankA }},
	{"UBE", func(s *SystemSettings) *bool { return &s.Sensors.UpperTankB }},
}

// SettingsPatch is a sparse set of settings fields. Only fields present
// in the originating frame are set; Apply leaves every other field of the
// target untouched.
type SettingsPatch struct {
	Mode              *Mode
	Topology          *Topology
	SyncMode          *SyncMode
	AlternateInterval *time.Duration
	MAC               *MAC
	Numbers           map[string]float64
	Flags             map[string]bool
}

// Empty reports whether the patch carries no field
func (p SettingsPatch) Empty() bool {
	return p.Mode == nil && p.Topology == nil && p.SyncMode == nil &&
		p.AlternateInterval == nil && p.MAC == nil &&
		len(p.Numbers) == 0 && len(p.Flags) == 0
}

// Apply merges the patch into s field by field
func (p SettingsPatch) Apply(s SystemSettings) SystemSettings {
	if p.Mode != nil {
		s.Mode = *p.Mode
	}
	if p.Topology != nil {
		s.MotorSettings.Configuration = *p.Topology
	}
	if p.SyncMode != nil {
		s.MotorSettings.DualMotorSyncMode = *p.SyncMode
	}
	if p.AlternateInterval != nil {
		s.MotorSettings.AlternateInterval = *p.AlternateInterval
	}
	if p.MAC != nil {
		s.MacAddress = *p.MAC
	}
	for _, nf := range settingsNumbers {
		if v, ok := p.Numbers[nf.key]; ok {
			*nf.field(&s) = v
		}
	}
	for _, ff := range settingsFlags {
		if v, ok := p.Flags[ff.key]; ok {
			*ff.field(&s) = v
		}
	}
	return s
}

// settingsPatchFromFrame collects every settings key present in f
func settingsPatchFromFrame(f Frame) SettingsPatch {
	p := SettingsPatch{
		Mode:     modePtr(f, KeyMode),
		Topology: topologyPtr(f, KeyMotorConfig),
	}
	if v, ok := f.GetSyncMode(KeySyncMode); ok {
		p.SyncMode = &v
	}
	if ms, ok := f.GetNumber(KeyAlternateInterval); ok && ms >= 0 {
		d := time.Duration(ms) * time.Millisecond
		p.AlternateInterval = &d
	}
	if mac, ok := f.GetMAC(KeyMAC); ok {
		p.MAC = &mac
	}
	for _, nf := range settingsNumbers {
		if v, ok := f.GetNumber(nf.key); ok {
			if p.Numbers == nil {
				p.Numbers = make(map[string]float64)
			}
			p.Numbers[nf.key] = v
		}
	}
	for _, ff := range settingsFlags {
		if v, ok := f.GetBool(ff.key); ok {
			if p.Flags == nil {
				p.Flags = make(map[string]bool)
			}
			p.Flags[ff.key] = v
		}
	}
	return p
}

// flattenSettings renders s as flat device keys. The MAC address is
// read-only on the device and is not included.
func flattenSettings(s SystemSettings) map[string]interface{} {
	out := map[string]interface{}{
		KeyMode:              s.Mode.wire(),
		KeyMotorConfig:       string(s.MotorSettings.Configuration),
		KeySyncMode:          string(s.MotorSettings.DualMotorSyncMode),
		KeyAlternateInterval: s.MotorSettings.AlternateInterval.Milliseconds(),
	}
	for _, nf := range settingsNumbers {
		out[nf.key] = *nf.field(&s)
	}
	for _, ff := range settingsFlags {
		out[ff.key] = *ff.field(&s)
	}
	return out
}

// SettingsKeys returns every flat device key written by updateSettings
func SettingsKeys() []string {
	keys := []string{KeyMode, KeyMotorConfig, KeySyncMode, KeyAlternateInterval}
	for _, nf := range settingsNumbers {
		keys = append(keys, nf.key)
	}
	for _, ff := range settingsFlags {
		keys = append(keys, ff.key)
	}
	return keys
}

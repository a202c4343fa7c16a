// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tankproto

import "fmt"

// ProblemType classifies a settings validation failure
type ProblemType int

const (
	ProblemOutOfRange ProblemType = iota
	ProblemOrdering
	ProblemInvalidValue
)

// ValidationError represents a settings validation failure
type ValidationError struct {
	Type    ProblemType
	Field   string
	Message string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateSettings checks settings before they are written to the device.
// Returns a slice of validation errors (empty if the settings are valid).
func ValidateSettings(s SystemSettings) []ValidationError {
	errors := []ValidationError{}

	if s.Mode != ModeAuto && s.Mode != ModeManual {
		errors = append(errors, invalid("mode", fmt.Sprintf("unknown mode %q", s.Mode)))
	}

	switch s.MotorSettings.Configuration {
	case TopologySingleTankSingleMotor, TopologySingleTankDualMotor, TopologyDualTankDualMotor:
	default:
		errors = append(errors, invalid("motor_settings.configuration",
			fmt.Sprintf("unknown motor configuration %q", s.MotorSettings.Configuration)))
	}

	switch s.MotorSettings.DualMotorSyncMode {
	case SyncSimultaneous, SyncAlternate, SyncPrimaryBackup:
	default:
		errors = append(errors, invalid("motor_settings.dual_motor_sync_mode",
			fmt.Sprintf("unknown sync mode %q", s.MotorSettings.DualMotorSyncMode)))
	}

	if s.MotorSettings.AlternateInterval <= 0 {
		errors = append(errors, invalid("motor_settings.alternate_interval", "alternate interval must be positive"))
	}

	errors = append(errors, validateAutomation("tank_a_automation", s.TankAAutomation)...)
	errors = append(errors, validateAutomation("tank_b_automation", s.TankBAutomation)...)

	errors = append(errors, percent("auto_mode.min_water_level", s.AutoMode.MinWaterLevel)...)
	errors = append(errors, percent("auto_mode.max_water_level", s.AutoMode.MaxWaterLevel)...)
	if s.AutoMode.MinWaterLevel >= s.AutoMode.MaxWaterLevel {
		errors = append(errors, ordering("auto_mode", "min water level must be below max water level"))
	}

	dims := map[string]Dimensions{
		"tank_dimensions.upper_tank_a": s.TankDimensions.UpperTankA,
		"tank_dimensions.upper_tank_b": s.TankDimensions.UpperTankB,
		"tank_dimensions.lower_tank_a": s.TankDimensions.LowerTankA,
		"tank_dimensions.lower_tank_b": s.TankDimensions.LowerTankB,
	}
	for _, name := range []string{
		"tank_dimensions.upper_tank_a",
		"tank_dimensions.upper_tank_b",
		"tank_dimensions.lower_tank_a",
		"tank_dimensions.lower_tank_b",
	} {
		errors = append(errors, validateDimensions(name, dims[name])...)
	}

	if s.SensorLimits.MinReading < 0 {
		errors = append(errors, outOfRange("sensor_limits.min_reading", "minimum reading must not be negative"))
	}
	if s.SensorLimits.MinReading >= s.SensorLimits.MaxReading {
		errors = append(errors, ordering("sensor_limits", "minimum reading must be below maximum reading"))
	}

	return errors
}

func validateAutomation(name string, a TankAutomation) []ValidationError {
	errors := []ValidationError{}
	errors = append(errors, percent(name+".min_auto_value", a.MinAutoValue)...)
	errors = append(errors, percent(name+".max_auto_value", a.MaxAutoValue)...)
	errors = append(errors, percent(name+".lower_threshold", a.LowerThreshold)...)
	errors = append(errors, percent(name+".lower_overflow", a.LowerOverflow)...)
	if a.MinAutoValue >= a.MaxAutoValue {
		errors = append(errors, ordering(name, "min auto value must be below max auto value"))
	}
	if a.LowerThreshold >= a.LowerOverflow {
		errors = append(errors, ordering(name, "lower threshold must be below lower overflow"))
	}
	return errors
}

func validateDimensions(name string, d Dimensions) []ValidationError {
	errors := []ValidationError{}
	if d.Height <= 0 {
		errors = append(errors, outOfRange(name+".height", "height must be positive"))
		return errors
	}
	if d.WaterFullHeight < 0 || d.WaterFullHeight > d.Height {
		errors = append(errors, outOfRange(name+".water_full_height",
			fmt.Sprintf("full height %.1f outside 0..%.1f", d.WaterFullHeight, d.Height)))
	}
	if d.WaterEmptyHeight < 0 || d.WaterEmptyHeight > d.Height {
		errors = append(errors, outOfRange(name+".water_empty_height",
			fmt.Sprintf("empty height %.1f outside 0..%.1f", d.WaterEmptyHeight, d.Height)))
	}
	if d.WaterFullHeight == d.WaterEmptyHeight {
		errors = append(errors, ordering(name, "full and empty heights must differ"))
	}
	return errors
}

func percent(field string, v float64) []ValidationError {
	if v < 0 || v > 100 {
		return []ValidationError{outOfRange(field, fmt.Sprintf("%s = %.1f is outside 0..100", field, v))}
	}
	return nil
}

func outOfRange(field, msg string) ValidationError {
	return ValidationError{Type: ProblemOutOfRange, Field: field, Message: msg}
}

func ordering(field, msg string) ValidationError {
	return ValidationError{Type: ProblemOrdering, Field: field, Message: msg}
}

func invalid(field, msg string) ValidationError {
	return ValidationError{Type: ProblemInvalidValue, Field: field, Message: msg}
}

// ClampPercent limits v to 0..100
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import "fmt"

// AnomalyType represents different types of telemetry anomalies
type AnomalyType int

const (
	AnomalySOCRange AnomalyType = iota
	AnomalyCellVoltage
	AnomalyCellUnreadable
	AnomalyTemperature
	AnomalyCapacity
	AnomalyProtection
)

// Plausibility limits. Values outside them are reported, never rejected.
const (
	MinCellVoltage  = 0.5
	MaxCellVoltage  = 5.0
	MinTemperatureC = -40.0
	MaxTemperatureC = 120.0
)

// ValidationError represents one implausible snapshot value
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateSnapshot checks a snapshot for implausible values.
// Returns a slice of validation errors (empty if nothing stands out).
func ValidateSnapshot(s *Snapshot) []ValidationError {
	errors := []ValidationError{}

	if s.SOC > 100 {
		errors = append(errors, ValidationError{
			Type:    AnomalySOCRange,
			Message: fmt.Sprintf("SOC out of range (%d%%, max 100%%)", s.SOC),
			Details: map[string]interface{}{"soc": s.SOC, "max": 100},
		})
	}

	for i, c := range s.Cells {
		if !c.Valid {
			errors = append(errors, ValidationError{
				Type:    AnomalyCellUnreadable,
				Message: fmt.Sprintf("Cell %d voltage unreadable", i+1),
				Details: map[string]interface{}{"cell": i + 1},
			})
			continue
		}
		if c.Voltage < MinCellVoltage || c.Voltage > MaxCellVoltage {
			errors = append(errors, ValidationError{
				Type:    AnomalyCellVoltage,
				Message: fmt.Sprintf("Cell %d voltage out of range (%.3fV, valid: %.1f-%.1fV)", i+1, c.Voltage, MinCellVoltage, MaxCellVoltage),
				Details: map[string]interface{}{"cell": i + 1, "value": c.Voltage},
			})
		}
	}

	for i, t := range s.Temperatures {
		if !t.Valid {
			continue
		}
		if t.Celsius < MinTemperatureC || t.Celsius > MaxTemperatureC {
			errors = append(errors, ValidationError{
				Type:    AnomalyTemperature,
				Message: fmt.Sprintf("%s out of range (%.1f°C, valid: %.0f to %.0f°C)", TemperatureName(i), t.Celsius, MinTemperatureC, MaxTemperatureC),
				Details: map[string]interface{}{"slot": i, "value": t.Celsius},
			})
		}
	}

	if s.Capacity > 0 && s.CapacityRemain > s.Capacity {
		errors = append(errors, ValidationError{
			Type:    AnomalyCapacity,
			Message: fmt.Sprintf("Remaining capacity above full capacity (%.3fAh > %.3fAh)", s.CapacityRemain, s.Capacity),
			Details: map[string]interface{}{"remaining": s.CapacityRemain, "capacity": s.Capacity},
		})
	}

	if s.Protection.Active() {
		errors = append(errors, ValidationError{
			Type:    AnomalyProtection,
			Message: "Protection active: " + FormatProtection(s.Protection),
		})
	}

	return errors
}

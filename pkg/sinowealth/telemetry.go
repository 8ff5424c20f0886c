// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import "time"

// PackConfig is the discovered, session-cached pack layout
type PackConfig struct {
	CellCount          int
	TemperatureSensors int
}

// FETState reports the charge and discharge switches
type FETState struct {
	Charge    bool
	Discharge bool
}

// Protection holds the protection flag levels
type Protection struct {
	OverVoltage               ProtectionLevel
	UnderVoltage              ProtectionLevel
	OverChargeCurrent         ProtectionLevel
	OverChargeTemperature     ProtectionLevel
	OverDischargeTemperature  ProtectionLevel
	UnderChargeTemperature    ProtectionLevel
	UnderDischargeTemperature ProtectionLevel
}

// Active returns true if any protection flag is raised
func (p Protection) Active() bool {
	return p.OverVoltage != ProtectionNone ||
		p.UnderVoltage != ProtectionNone ||
		p.OverChargeCurrent != ProtectionNone ||
		p.OverChargeTemperature != ProtectionNone ||
		p.OverDischargeTemperature != ProtectionNone ||
		p.UnderChargeTemperature != ProtectionNone ||
		p.UnderDischargeTemperature != ProtectionNone
}

// Cell is one cell voltage slot. Valid is false until a read succeeds,
// and again after a read of that cell fails.
type Cell struct {
	Voltage float64
	Valid   bool
}

// Temperature is one temperature slot in Celsius
type Temperature struct {
	Celsius float64
	Valid   bool
}

// Snapshot is the caller-owned telemetry aggregate written by Engine.
// Fields keep their previous value when a refresh aborts before reaching them.
type Snapshot struct {
	Voltage        float64 // V
	Current        float64 // A, negative while discharging
	SOC            int     // percent, not bounds checked
	Capacity       float64 // Ah
	CapacityRemain float64 // Ah
	CycleCount     int

	Cells        []Cell
	Temperatures [TemperatureSlots]Temperature

	ChargeFET    bool
	DischargeFET bool
	Protection   Protection

	UpdatedAt time.Time
}

// allocateCells sizes the cell slots once. Existing slots are kept when the
// count matches.
func (s *Snapshot) allocateCells(count int) {
	if len(s.Cells) == count {
		return
	}
	s.Cells = make([]Cell, count)
}

// Power returns pack power in watts
func (s *Snapshot) Power() float64 {
	return s.Voltage * s.Current
}

// MinCell returns the lowest valid cell voltage and its 1-based index
func (s *Snapshot) MinCell() (float64, int, bool) {
	best, idx := 0.0, 0
	for i, c := range s.Cells {
		if c.Valid && (idx == 0 || c.Voltage < best) {
			best, idx = c.Voltage, i+1
		}
	}
	return best, idx, idx != 0
}

// MaxCell returns the highest valid cell voltage and its 1-based index
func (s *Snapshot) MaxCell() (float64, int, bool) {
	best, idx := 0.0, 0
	for i, c := range s.Cells {
		if c.Valid && (idx == 0 || c.Voltage > best) {
			best, idx = c.Voltage, i+1
		}
	}
	return best, idx, idx != 0
}

// CellDelta returns the spread between the highest and lowest valid cell
func (s *Snapshot) CellDelta() (float64, bool) {
	lo, _, ok := s.MinCell()
	if !ok {
		return 0, false
	}
	hi, _, _ := s.MaxCell()
	return hi - lo, true
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot CBOR map keys
const (
	keyVoltage = iota
	keyCurrent
	keySOC
	keyCapacity
	keyCapacityRemain
	keyCycleCount
	keyCells
	keyTemperatures
	keyChargeFET
	keyDischargeFET
	keyProtection
	keyUpdatedAt
)

// SnapshotMap converts a snapshot to an integer-keyed map.
// Unknown cells and temperatures are encoded as nil.
func SnapshotMap(s *Snapshot) map[int]interface{} {
	cells := make([]interface{}, len(s.Cells))
	for i, c := range s.Cells {
		if c.Valid {
			cells[i] = c.Voltage
		}
	}
	temps := make([]interface{}, len(s.Temperatures))
	for i, t := range s.Temperatures {
		if t.Valid {
			temps[i] = t.Celsius
		}
	}
	var updated uint64
	if !s.UpdatedAt.IsZero() {
		updated = uint64(s.UpdatedAt.UnixMilli())
	}
	p := s.Protection
	return map[int]interface{}{
		keyVoltage:        s.Voltage,
		keyCurrent:        s.Current,
		keySOC:            uint64(s.SOC),
		keyCapacity:       s.Capacity,
		keyCapacityRemain: s.CapacityRemain,
		keyCycleCount:     uint64(s.CycleCount),
		keyCells:          cells,
		keyTemperatures:   temps,
		keyChargeFET:      s.ChargeFET,
		keyDischargeFET:   s.DischargeFET,
		keyProtection: []interface{}{
			uint64(p.OverVoltage), uint64(p.UnderVoltage), uint64(p.OverChargeCurrent),
			uint64(p.OverChargeTemperature), uint64(p.OverDischargeTemperature),
			uint64(p.UnderChargeTemperature), uint64(p.UnderDischargeTemperature),
		},
		keyUpdatedAt: updated,
	}
}

// MarshalSnapshot encodes a snapshot as a CBOR map
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	data, err := cbor.Marshal(SnapshotMap(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a CBOR map produced by MarshalSnapshot
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	s := &Snapshot{}
	s.Voltage, _ = getFloat(m, keyVoltage)
	s.Current, _ = getFloat(m, keyCurrent)
	s.Capacity, _ = getFloat(m, keyCapacity)
	s.CapacityRemain, _ = getFloat(m, keyCapacityRemain)
	if v, ok := getFloat(m, keySOC); ok {
		s.SOC = int(v)
	}
	if v, ok := getFloat(m, keyCycleCount); ok {
		s.CycleCount = int(v)
	}
	s.ChargeFET, _ = m[keyChargeFET].(bool)
	s.DischargeFET, _ = m[keyDischargeFET].(bool)

	if cells, ok := m[keyCells].([]interface{}); ok {
		s.Cells = make([]Cell, len(cells))
		for i, c := range cells {
			if v, ok := toFloat(c); ok {
				s.Cells[i] = Cell{Voltage: v, Valid: true}
			}
		}
	}
	if temps, ok := m[keyTemperatures].([]interface{}); ok {
		for i := 0; i < len(temps) && i < TemperatureSlots; i++ {
			if v, ok := toFloat(temps[i]); ok {
				s.Temperatures[i] = Temperature{Celsius: v, Valid: true}
			}
		}
	}
	if prot, ok := m[keyProtection].([]interface{}); ok && len(prot) == 7 {
		levels := make([]ProtectionLevel, 7)
		for i, v := range prot {
			f, _ := toFloat(v)
			levels[i] = ProtectionLevel(f)
		}
		s.Protection = Protection{
			OverVoltage:               levels[0],
			UnderVoltage:              levels[1],
			OverChargeCurrent:         levels[2],
			OverChargeTemperature:     levels[3],
			OverDischargeTemperature:  levels[4],
			UnderChargeTemperature:    levels[5],
			UnderDischargeTemperature: levels[6],
		}
	}
	if ms, ok := getFloat(m, keyUpdatedAt); ok && ms > 0 {
		s.UpdatedAt = time.UnixMilli(int64(ms))
	}
	return s, nil
}

func getFloat(m map[int]interface{}, key int) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

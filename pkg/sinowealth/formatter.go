// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import (
	"fmt"
	"strings"
)

// TemperatureName returns the label of a temperature slot
func TemperatureName(slot int) string {
	switch slot {
	case TempExternal1:
		return "External 1"
	case TempExternal2:
		return "External 2"
	case TempInternal1:
		return "Internal 1"
	case TempInternal2:
		return "Internal 2"
	default:
		return "Unknown"
	}
}

// FormatSnapshot formats a snapshot into a human-readable block
func FormatSnapshot(s *Snapshot) string {
	var b strings.Builder

	timestamp := "never"
	if !s.UpdatedAt.IsZero() {
		timestamp = s.UpdatedAt.Format("15:04:05.000")
	}
	fmt.Fprintf(&b, "[%s] Voltage: %.3f V, Current: %.3f A, Power: %.1f W\n", timestamp, s.Voltage, s.Current, s.Power())
	fmt.Fprintf(&b, "  SOC: %d%%, Remaining: %.3f / %.3f Ah, Cycles: %d\n", s.SOC, s.CapacityRemain, s.Capacity, s.CycleCount)
	fmt.Fprintf(&b, "  FETs: charge=%s discharge=%s\n", formatOnOff(s.ChargeFET), formatOnOff(s.DischargeFET))

	if len(s.Cells) > 0 {
		b.WriteString("  Cells:")
		for i, c := range s.Cells {
			if c.Valid {
				fmt.Fprintf(&b, " %d=%.3fV", i+1, c.Voltage)
			} else {
				fmt.Fprintf(&b, " %d=--", i+1)
			}
		}
		b.WriteString("\n")
		if delta, ok := s.CellDelta(); ok {
			lo, loIdx, _ := s.MinCell()
			hi, hiIdx, _ := s.MaxCell()
			fmt.Fprintf(&b, "  Min: %.3fV (#%d), Max: %.3fV (#%d), Delta: %.0f mV\n", lo, loIdx, hi, hiIdx, delta*1000)
		}
	}

	for i, t := range s.Temperatures {
		if t.Valid {
			fmt.Fprintf(&b, "  Temp %s: %.1f°C\n", TemperatureName(i), t.Celsius)
		}
	}

	fmt.Fprintf(&b, "  Protection: %s\n", FormatProtection(s.Protection))
	return b.String()
}

// FormatProtection lists the active protection flags, or "none"
func FormatProtection(p Protection) string {
	flags := []struct {
		level ProtectionLevel
		name  string
	}{
		{p.OverVoltage, "over-voltage"},
		{p.UnderVoltage, "under-voltage"},
		{p.OverChargeCurrent, "over-current"},
		{p.OverChargeTemperature, "over-temp (charge)"},
		{p.OverDischargeTemperature, "over-temp (discharge)"},
		{p.UnderChargeTemperature, "under-temp (charge)"},
		{p.UnderDischargeTemperature, "under-temp (discharge)"},
	}

	active := []string{}
	for _, f := range flags {
		if f.level != ProtectionNone {
			active = append(active, f.name)
		}
	}
	if len(active) == 0 {
		return "none"
	}
	return strings.Join(active, ", ")
}

// FormatRegisterValue decodes a raw reply with the register's rule and
// formats the result. Decode failures are returned as text.
func FormatRegisterValue(r Register, payload []byte) string {
	v, err := r.Decode(payload)
	if err != nil {
		return fmt.Sprintf("decode error: %v", err)
	}

	switch val := v.(type) {
	case float64:
		switch r.Kind {
		case KindTemperature:
			return fmt.Sprintf("%.1f°C", val)
		case KindScaledInt32:
			return fmt.Sprintf("%.3f %s", val, r.Unit)
		default:
			return fmt.Sprintf("%.3f V", val)
		}
	case int:
		if r.Kind == KindCycleCount {
			return fmt.Sprintf("%d cycles", val)
		}
		return fmt.Sprintf("%d%%", val)
	case FETState:
		return fmt.Sprintf("charge=%s discharge=%s", formatOnOff(val.Charge), formatOnOff(val.Discharge))
	case Protection:
		return FormatProtection(val)
	case PackConfig:
		return fmt.Sprintf("%d cells, %d temperature sensor(s)", val.CellCount, val.TemperatureSensors)
	default:
		return "unknown register kind"
	}
}

// FormatHex returns a spaced hex dump, 16 bytes per line
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			if i%16 == 0 {
				b.WriteString("\n")
			} else {
				b.WriteString(" ")
			}
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

func formatOnOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

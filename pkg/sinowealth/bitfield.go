// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

// Flag names one bit meaning in the status registers
type Flag int

// Status and battery status flags
const (
	FlagChargeFET Flag = iota
	FlagDischargeFET
	FlagOverChargeTemperature
	FlagOverDischargeTemperature
	FlagUnderChargeTemperature
	FlagUnderDischargeTemperature
	FlagOverVoltage
	FlagUnderVoltage
	FlagOverCurrent
)

// String returns the datasheet mnemonic for a flag
func (f Flag) String() string {
	switch f {
	case FlagChargeFET:
		return "CHGMOS"
	case FlagDischargeFET:
		return "DSGMOS"
	case FlagOverChargeTemperature:
		return "OTC"
	case FlagOverDischargeTemperature:
		return "OTD"
	case FlagUnderChargeTemperature:
		return "UTC"
	case FlagUnderDischargeTemperature:
		return "UTD"
	case FlagOverVoltage:
		return "OV"
	case FlagUnderVoltage:
		return "UV"
	case FlagOverCurrent:
		return "OC"
	default:
		return "UNKNOWN"
	}
}

// BitDef maps one bit of a register payload to a flag
type BitDef struct {
	Byte int
	Bit  uint
	Flag Flag
}

// StatusBits is the layout of the STATUS register.
//
//	[0]  -  -        -       -        -       VDQ     FD      FC
//	[1]  -  FAST_DSG MID_DSG SLOW_DSG DSGING  CHGING  DSGMOS  CHGMOS
var StatusBits = []BitDef{
	{Byte: 1, Bit: 0, Flag: FlagChargeFET},
	{Byte: 1, Bit: 1, Flag: FlagDischargeFET},
}

// BatteryStatusBits is the layout of the BATTERY_STATUS register.
// OC and OCD both map to FlagOverCurrent.
//
//	[0]  -  CTO  AFE_SC  AFE_OV  UTD  UTC  OTD  OTC
//	[1]  -  -    -       -       OCD  OC   UV   OV
var BatteryStatusBits = []BitDef{
	{Byte: 0, Bit: 0, Flag: FlagOverChargeTemperature},
	{Byte: 0, Bit: 1, Flag: FlagOverDischargeTemperature},
	{Byte: 0, Bit: 2, Flag: FlagUnderChargeTemperature},
	{Byte: 0, Bit: 3, Flag: FlagUnderDischargeTemperature},
	{Byte: 1, Bit: 0, Flag: FlagOverVoltage},
	{Byte: 1, Bit: 1, Flag: FlagUnderVoltage},
	{Byte: 1, Bit: 2, Flag: FlagOverCurrent},
	{Byte: 1, Bit: 3, Flag: FlagOverCurrent},
}

// DecodeBits evaluates a bit table against a payload.
// A flag listed on several bits is set when any of them is set.
func DecodeBits(payload []byte, table []BitDef) map[Flag]bool {
	flags := make(map[Flag]bool, len(table))
	for _, def := range table {
		set := def.Byte < len(payload) && payload[def.Byte]>>def.Bit&1 == 1
		flags[def.Flag] = flags[def.Flag] || set
	}
	return flags
}

func levelOf(active bool) ProtectionLevel {
	if active {
		return ProtectionActive
	}
	return ProtectionNone
}

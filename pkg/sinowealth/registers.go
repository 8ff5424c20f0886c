// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import "fmt"

// Kind selects the decode rule applied to a register's payload
type Kind int

// Decode kinds
const (
	KindVoltage       Kind = iota // u16 BE / 1000
	KindScaledInt32               // i32 BE / 1000
	KindSOC                       // byte[1], unscaled
	KindCycleCount                // u16 BE
	KindTemperature               // u16 BE deci-Kelvin
	KindStatus                    // FET bitfield
	KindBatteryStatus             // protection bitfield
	KindPackConfig                // cell and sensor count
)

// minResponse is the reply length each decode rule requires, trailing
// checksum included where the rule strips it
var minResponse = [...]int{
	KindVoltage:       3,
	KindScaledInt32:   5,
	KindSOC:           2,
	KindCycleCount:    2,
	KindTemperature:   3,
	KindStatus:        2,
	KindBatteryStatus: 2,
	KindPackConfig:    2,
}

// Register describes one addressable value inside the chip
type Register struct {
	Code byte
	Name string
	Kind Kind
	Unit string
}

// MinResponse returns the reply length the register's decode rule requires
func (r Register) MinResponse() int {
	if int(r.Kind) >= len(minResponse) {
		return 0
	}
	return minResponse[r.Kind]
}

// Decode applies the register's decode rule to a raw reply
func (r Register) Decode(payload []byte) (any, error) {
	switch r.Kind {
	case KindVoltage:
		return DecodeVoltage(payload)
	case KindScaledInt32:
		return DecodeScaledInt32(payload)
	case KindSOC:
		return DecodeSOC(payload)
	case KindCycleCount:
		return DecodeCycleCount(payload)
	case KindTemperature:
		return DecodeTemperature(payload)
	case KindStatus:
		return DecodeStatus(payload)
	case KindBatteryStatus:
		return DecodeBatteryStatus(payload)
	case KindPackConfig:
		return DecodePackConfig(payload)
	}
	return nil, fmt.Errorf("unknown decode kind %d", r.Kind)
}

// Frame returns the request frame for this register
func (r Register) Frame() Frame {
	return EncodeFrame(r.Code)
}

// maxCellRegister is the highest cell index whose code does not collide with a named register
const maxCellRegister = RegTotalVoltage - 1

var registers = []Register{
	{Code: RegTotalVoltage, Name: "TOTAL_VOLTAGE", Kind: KindVoltage, Unit: "V"},
	{Code: RegTemperatureExt1, Name: "TEMPERATURE_EXT1", Kind: KindTemperature, Unit: "°C"},
	{Code: RegTemperatureExt2, Name: "TEMPERATURE_EXT2", Kind: KindTemperature, Unit: "°C"},
	{Code: RegTemperatureInt1, Name: "TEMPERATURE_INT1", Kind: KindTemperature, Unit: "°C"},
	{Code: RegTemperatureInt2, Name: "TEMPERATURE_INT2", Kind: KindTemperature, Unit: "°C"},
	{Code: RegCurrent, Name: "CURRENT", Kind: KindScaledInt32, Unit: "A"},
	{Code: RegCapacity, Name: "CAPACITY", Kind: KindScaledInt32, Unit: "Ah"},
	{Code: RegRemainingCapacity, Name: "REMAINING_CAPACITY", Kind: KindScaledInt32, Unit: "Ah"},
	{Code: RegSOC, Name: "SOC", Kind: KindSOC, Unit: "%"},
	{Code: RegCycleCount, Name: "CYCLE_COUNT", Kind: KindCycleCount},
	{Code: RegStatus, Name: "STATUS", Kind: KindStatus},
	{Code: RegBatteryStatus, Name: "BATTERY_STATUS", Kind: KindBatteryStatus},
	{Code: RegPackConfig, Name: "PACK_CONFIG", Kind: KindPackConfig},
}

var registerByCode = func() map[byte]Register {
	m := make(map[byte]Register, len(registers))
	for _, r := range registers {
		m[r.Code] = r
	}
	return m
}()

// Registers returns the named (non-cell) registers in code order
func Registers() []Register {
	out := make([]Register, len(registers))
	copy(out, registers)
	return out
}

// CellRegister returns the voltage register for a 1-based cell index.
// The index is used as the command code unchanged.
func CellRegister(index int) Register {
	return Register{
		Code: byte(index),
		Name: fmt.Sprintf("CELL_%d_VOLTAGE", index),
		Kind: KindVoltage,
		Unit: "V",
	}
}

// Lookup returns the register for a command code.
// Named registers win over cell registers when codes overlap.
func Lookup(code byte) (Register, bool) {
	if r, ok := registerByCode[code]; ok {
		return r, true
	}
	if code >= RegCellBase && code <= maxCellRegister {
		return CellRegister(int(code)), true
	}
	return Register{}, false
}

// RegisterName returns the human-readable name for a command code
func RegisterName(code byte) string {
	if r, ok := Lookup(code); ok {
		return r.Name
	}
	return "UNKNOWN"
}

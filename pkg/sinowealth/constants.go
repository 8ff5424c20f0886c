// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sinowealth provides a Go implementation of the Sinowealth BMS register protocol.
//
// Sinowealth battery-management ICs (SH367303 / SH367305 / SH367306 / SH39F003 /
// SH39F004 / BMS_10, as found on Daly/Sinowealth boards) answer one-byte register
// requests over a UART. This package provides command framing, register decoding,
// the configuration discovery and telemetry refresh sequence, and a simulator
// answering frames like a real device.
package sinowealth

// Command frame layout: [StartFlag][register][LengthHint][reserved]
const (
	StartFlag  = 0x0A
	LengthHint = 0x04
	FrameSize  = 4
)

// MaxResponseSize is the largest reply the chip sends (20 data bytes + checksum).
const MaxResponseSize = 21

// Register command codes
const (
	RegCellBase          = 0x01 // cell N voltage is register N (1-based)
	RegTotalVoltage      = 0x0B
	RegTemperatureExt1   = 0x0C
	RegTemperatureExt2   = 0x0D
	RegTemperatureInt1   = 0x0E
	RegTemperatureInt2   = 0x0F
	RegCurrent           = 0x10
	RegCapacity          = 0x11
	RegRemainingCapacity = 0x12
	RegSOC               = 0x13
	RegCycleCount        = 0x14
	RegStatus            = 0x15
	RegBatteryStatus     = 0x16
	RegPackConfig        = 0x17
)

// Cell count bounds accepted from the pack config register
const (
	MinCellCount = 1
	MaxCellCount = 32
)

// Pack config byte layout
const (
	cellCountMask      = 0x07
	cellCountOffset    = 3
	temperatureSensBit = 6
)

// Temperature slots in a Snapshot
const (
	TempExternal1 = iota
	TempExternal2
	TempInternal1
	TempInternal2
	TemperatureSlots
)

// kelvinOffset converts Kelvin to Celsius
const kelvinOffset = 273.15

// ProtectionLevel is the coarse alarm level reported for a protection flag
type ProtectionLevel int

// Protection level values. The chip has no warning tier.
const (
	ProtectionNone   ProtectionLevel = 0
	ProtectionActive ProtectionLevel = 2
)

// String returns the protection level name
func (l ProtectionLevel) String() string {
	switch l {
	case ProtectionNone:
		return "OK"
	case ProtectionActive:
		return "ALARM"
	default:
		return "UNKNOWN"
	}
}

// BatteryType is the BMS family name reported by HardwareVersion
const BatteryType = "Sinowealth"

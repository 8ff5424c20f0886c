// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import (
	"encoding/binary"
	"fmt"
)

// Register decoders. Each takes the raw reply bytes from the transport.
// Numeric values are passed through without range checks.

// checkLength returns ErrTransportFailure for an empty reply and
// ErrShortPayload for a reply shorter than need.
func checkLength(payload []byte, need int) error {
	if len(payload) == 0 {
		return ErrTransportFailure
	}
	if len(payload) < need {
		return fmt.Errorf("%w: got %d bytes, need %d", ErrShortPayload, len(payload), need)
	}
	return nil
}

// stripChecksum drops the trailing checksum byte
func stripChecksum(payload []byte) []byte {
	return payload[:len(payload)-1]
}

// DecodeVoltage decodes an unsigned 16-bit big-endian millivolt value to volts.
// Used for pack voltage and cell voltages. The trailing checksum is ignored.
func DecodeVoltage(payload []byte) (float64, error) {
	if err := checkLength(payload, minResponse[KindVoltage]); err != nil {
		return 0, err
	}
	raw := binary.BigEndian.Uint16(stripChecksum(payload))
	return float64(raw) / 1000, nil
}

// DecodeScaledInt32 decodes a signed 32-bit big-endian value scaled by 1/1000.
// Used for current (A), capacity and remaining capacity (Ah).
func DecodeScaledInt32(payload []byte) (float64, error) {
	if err := checkLength(payload, minResponse[KindScaledInt32]); err != nil {
		return 0, err
	}
	raw := int32(binary.BigEndian.Uint32(stripChecksum(payload)))
	return float64(raw) / 1000, nil
}

// DecodeSOC returns the state of charge from byte 1
func DecodeSOC(payload []byte) (int, error) {
	if err := checkLength(payload, minResponse[KindSOC]); err != nil {
		return 0, err
	}
	return int(payload[1]), nil
}

// DecodeCycleCount decodes an unsigned 16-bit big-endian cycle counter
func DecodeCycleCount(payload []byte) (int, error) {
	if err := checkLength(payload, minResponse[KindCycleCount]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(payload[:2])), nil
}

// DecodeTemperature decodes an unsigned 16-bit big-endian deci-Kelvin value to Celsius
func DecodeTemperature(payload []byte) (float64, error) {
	if err := checkLength(payload, minResponse[KindTemperature]); err != nil {
		return 0, err
	}
	raw := binary.BigEndian.Uint16(stripChecksum(payload))
	return KelvinToCelsius(float64(raw) / 10), nil
}

// KelvinToCelsius converts a Kelvin temperature to Celsius
func KelvinToCelsius(k float64) float64 {
	return k - kelvinOffset
}

// DecodeStatus decodes the FET switches from the STATUS register
func DecodeStatus(payload []byte) (FETState, error) {
	if err := checkLength(payload, minResponse[KindStatus]); err != nil {
		return FETState{}, err
	}
	flags := DecodeBits(payload, StatusBits)
	return FETState{
		Charge:    flags[FlagChargeFET],
		Discharge: flags[FlagDischargeFET],
	}, nil
}

// DecodeBatteryStatus decodes the protection flags from the BATTERY_STATUS register
func DecodeBatteryStatus(payload []byte) (Protection, error) {
	if err := checkLength(payload, minResponse[KindBatteryStatus]); err != nil {
		return Protection{}, err
	}
	flags := DecodeBits(payload, BatteryStatusBits)
	return Protection{
		OverVoltage:               levelOf(flags[FlagOverVoltage]),
		UnderVoltage:              levelOf(flags[FlagUnderVoltage]),
		OverChargeCurrent:         levelOf(flags[FlagOverCurrent]),
		OverChargeTemperature:     levelOf(flags[FlagOverChargeTemperature]),
		OverDischargeTemperature:  levelOf(flags[FlagOverDischargeTemperature]),
		UnderChargeTemperature:    levelOf(flags[FlagUnderChargeTemperature]),
		UnderDischargeTemperature: levelOf(flags[FlagUnderDischargeTemperature]),
	}, nil
}

// DecodePackConfig decodes cell and temperature sensor count from byte 1.
// The sensor bit reads inverted: any bit other than bit 6 set means one sensor.
func DecodePackConfig(payload []byte) (PackConfig, error) {
	if err := checkLength(payload, minResponse[KindPackConfig]); err != nil {
		return PackConfig{}, err
	}
	b := payload[1]
	cfg := PackConfig{
		CellCount:          int(b&cellCountMask) + cellCountOffset,
		TemperatureSensors: 2,
	}
	if b&^(1<<temperatureSensBit) != 0 {
		cfg.TemperatureSensors = 1
	}
	return cfg, nil
}

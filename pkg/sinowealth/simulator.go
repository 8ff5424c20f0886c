// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

// ErrNoReply is returned by the simulator when a register is silent or failing
var ErrNoReply = errors.New("simulator: no reply")

// Simulator answers request frames like a Sinowealth BMS. It implements
// Transport for tests and can serve a byte stream for bench setups.
type Simulator struct {
	mu       sync.Mutex
	replies  map[byte][]byte
	failures map[byte]int // remaining failed replies, negative for always
	requests []Frame
}

// NewSimulator creates a simulator with no registers populated
func NewSimulator() *Simulator {
	return &Simulator{
		replies:  make(map[byte][]byte),
		failures: make(map[byte]int),
	}
}

// NewPackSimulator creates a simulator for an 8S pack with one external
// temperature sensor and plausible readings
func NewPackSimulator() *Simulator {
	s := NewSimulator()
	s.SetPackConfig(0x05)
	s.SetCapacity(100)
	s.SetRemainingCapacity(76.5)
	s.SetSOC(77)
	s.SetCycleCount(42)
	s.SetStatus(FETState{Charge: true, Discharge: true})
	s.SetBatteryStatus(0x00, 0x00)
	s.SetCurrent(-12.5)
	for i := 1; i <= 8; i++ {
		s.SetCellVoltage(i, 3.3+float64(i)/1000)
	}
	s.SetTotalVoltage(26.436)
	s.SetTemperature(RegTemperatureExt1, 21.5)
	s.SetTemperature(RegTemperatureExt2, 22.0)
	s.SetTemperature(RegTemperatureInt1, 25.3)
	s.SetTemperature(RegTemperatureInt2, -10.0)
	return s
}

// Set stores the raw reply for a register code
func (s *Simulator) Set(code byte, reply []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[code] = append([]byte(nil), reply...)
}

// Fail makes the next n reads of code return no data (n < 0 fails forever)
func (s *Simulator) Fail(code byte, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[code] = n
}

// Heal clears any pending failures for code
func (s *Simulator) Heal(code byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, code)
}

// Requests returns the frames received so far
func (s *Simulator) Requests() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.requests))
	copy(out, s.requests)
	return out
}

// ResetRequests clears the request log
func (s *Simulator) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// SendAndReceive implements Transport
func (s *Simulator) SendAndReceive(frame []byte, lengthHint int) ([]byte, error) {
	f, err := ParseFrame(frame)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, f)

	code := f.Register()
	if n, ok := s.failures[code]; ok && n != 0 {
		if n > 0 {
			s.failures[code] = n - 1
		}
		return nil, ErrNoReply
	}
	reply, ok := s.replies[code]
	if !ok {
		return nil, fmt.Errorf("%w for register 0x%02X", ErrNoReply, code)
	}
	return append([]byte(nil), reply...), nil
}

// Serve answers frames read from rw until a read fails.
// Bytes before a start flag are skipped; zero-length reads are ignored.
func (s *Simulator) Serve(rw io.ReadWriter) error {
	frame := make([]byte, 0, FrameSize)
	buf := make([]byte, 64)
	for {
		n, err := rw.Read(buf)
		if err != nil {
			return err
		}
		for _, b := range buf[:n] {
			if len(frame) == 0 && b != StartFlag {
				continue
			}
			frame = append(frame, b)
			if len(frame) < FrameSize {
				continue
			}
			reply, err := s.SendAndReceive(frame, int(frame[2]))
			frame = frame[:0]
			if err != nil {
				continue
			}
			if _, err := rw.Write(reply); err != nil {
				return err
			}
		}
	}
}

// Typed setters. Each reply carries a trailing checksum byte.

// SetPackConfig sets the raw pack config byte
func (s *Simulator) SetPackConfig(b byte) {
	s.Set(RegPackConfig, withChecksum([]byte{0x00, b}))
}

// SetCellVoltage sets a 1-based cell voltage in volts
func (s *Simulator) SetCellVoltage(index int, v float64) {
	s.Set(byte(index), EncodeVoltage(v))
}

// SetTotalVoltage sets the pack voltage in volts
func (s *Simulator) SetTotalVoltage(v float64) {
	s.Set(RegTotalVoltage, EncodeVoltage(v))
}

// SetCurrent sets the pack current in amps
func (s *Simulator) SetCurrent(a float64) {
	s.Set(RegCurrent, EncodeScaledInt32(a))
}

// SetCapacity sets the full capacity in Ah
func (s *Simulator) SetCapacity(ah float64) {
	s.Set(RegCapacity, EncodeScaledInt32(ah))
}

// SetRemainingCapacity sets the remaining capacity in Ah
func (s *Simulator) SetRemainingCapacity(ah float64) {
	s.Set(RegRemainingCapacity, EncodeScaledInt32(ah))
}

// SetSOC sets the state of charge
func (s *Simulator) SetSOC(soc int) {
	s.Set(RegSOC, withChecksum([]byte{0x00, byte(soc)}))
}

// SetCycleCount sets the cycle counter
func (s *Simulator) SetCycleCount(n int) {
	s.Set(RegCycleCount, withChecksum(binary.BigEndian.AppendUint16(nil, uint16(n))))
}

// SetTemperature sets a temperature register in Celsius
func (s *Simulator) SetTemperature(code byte, c float64) {
	s.Set(code, EncodeTemperature(c))
}

// SetStatus sets the FET switches
func (s *Simulator) SetStatus(fet FETState) {
	var b byte
	for _, def := range StatusBits {
		if (def.Flag == FlagChargeFET && fet.Charge) || (def.Flag == FlagDischargeFET && fet.Discharge) {
			b |= 1 << def.Bit
		}
	}
	s.Set(RegStatus, withChecksum([]byte{0x00, b}))
}

// SetBatteryStatus sets the two raw protection bytes
func (s *Simulator) SetBatteryStatus(b0, b1 byte) {
	s.Set(RegBatteryStatus, withChecksum([]byte{b0, b1}))
}

// EncodeVoltage encodes volts as the u16 millivolt reply of a voltage register
func EncodeVoltage(v float64) []byte {
	raw := uint16(math.Round(v * 1000))
	return withChecksum(binary.BigEndian.AppendUint16(nil, raw))
}

// EncodeScaledInt32 encodes a value as the i32 x1000 reply of current and capacity registers
func EncodeScaledInt32(v float64) []byte {
	raw := int32(math.Round(v * 1000))
	return withChecksum(binary.BigEndian.AppendUint32(nil, uint32(raw)))
}

// EncodeTemperature encodes Celsius as the deci-Kelvin reply of a temperature register
func EncodeTemperature(c float64) []byte {
	raw := uint16(math.Round((c + kelvinOffset) * 10))
	return withChecksum(binary.BigEndian.AppendUint16(nil, raw))
}

// withChecksum appends an additive checksum. The engine never verifies it.
func withChecksum(data []byte) []byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return append(data, sum)
}

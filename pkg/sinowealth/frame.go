// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import "fmt"

// Frame is a register request as sent on the wire
type Frame [FrameSize]byte

// EncodeFrame builds the request frame for a register code.
// Any code is accepted; byte 2 is always the template LengthHint.
func EncodeFrame(code byte) Frame {
	return Frame{StartFlag, code, LengthHint, 0x00}
}

// Register returns the requested register code
func (f Frame) Register() byte {
	return f[1]
}

// LengthHint returns the length hint handed to the transport
func (f Frame) LengthHint() int {
	return int(f[2])
}

// Bytes returns the frame as a byte slice
func (f Frame) Bytes() []byte {
	b := make([]byte, FrameSize)
	copy(b, f[:])
	return b
}

// String returns a hex dump of the frame
func (f Frame) String() string {
	return fmt.Sprintf("%02X %02X %02X %02X", f[0], f[1], f[2], f[3])
}

// ParseFrame validates and parses a request frame.
// Only the start flag is checked; the simulator uses this to answer requests.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if len(data) < FrameSize-1 {
		return f, fmt.Errorf("frame too short: %d bytes (min %d)", len(data), FrameSize-1)
	}
	if data[0] != StartFlag {
		return f, fmt.Errorf("invalid start flag: 0x%02X (expected 0x%02X)", data[0], StartFlag)
	}
	copy(f[:], data)
	return f, nil
}

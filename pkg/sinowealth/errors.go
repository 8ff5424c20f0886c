// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import (
	"errors"
	"fmt"
)

// Error kinds. All of them are recoverable at the boundary of one register
// read or one refresh cycle.
var (
	// ErrTransportFailure means the transport returned no usable bytes
	// (timeout, framing or checksum mismatch, disconnect).
	ErrTransportFailure = errors.New("transport returned no data")

	// ErrShortPayload means the reply was shorter than the register requires.
	ErrShortPayload = errors.New("response payload too short")

	// ErrConfigurationMissing means a read needed the pack configuration and
	// discovery did not produce one.
	ErrConfigurationMissing = errors.New("pack configuration unknown")

	// ErrInvalidCellCount means the decoded cell count is outside MinCellCount..MaxCellCount.
	ErrInvalidCellCount = errors.New("invalid cell count")
)

// RegisterError reports a failed read of one register
type RegisterError struct {
	Register byte
	Err      error
}

// Error implements the error interface
func (e *RegisterError) Error() string {
	return fmt.Sprintf("read %s (0x%02X): %v", RegisterName(e.Register), e.Register, e.Err)
}

// Unwrap returns the underlying error kind
func (e *RegisterError) Unwrap() error {
	return e.Err
}

func registerError(code byte, err error) error {
	return &RegisterError{Register: code, Err: err}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

// Transport sends one request frame and returns the raw reply.
// Any error, or an empty reply, is treated as "no data" for that register.
// Timeouts and link-level retries belong to the implementation.
type Transport interface {
	SendAndReceive(frame []byte, lengthHint int) ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc func(frame []byte, lengthHint int) ([]byte, error)

// SendAndReceive calls f
func (f TransportFunc) SendAndReceive(frame []byte, lengthHint int) ([]byte, error) {
	return f(frame, lengthHint)
}

// Logger receives per-register debug traces
type Logger interface {
	Debug(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}

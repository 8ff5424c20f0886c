// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import (
	"fmt"
	"time"
)

// State is the configuration discovery state
type State int

// Discovery states
const (
	StateUnconfigured State = iota
	StateConfigured
)

// String returns the state name
func (s State) String() string {
	if s == StateConfigured {
		return "CONFIGURED"
	}
	return "UNCONFIGURED"
}

// Engine drives the register protocol over a single-owner transport.
// It is not safe for concurrent use; callers serialize Establish and Refresh.
type Engine struct {
	transport Transport
	log       Logger
	state     State
	config    PackConfig

	// established is set once discovery and the capacity read have both
	// succeeded, and cleared by a failed Establish or Reset
	established bool
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the debug trace sink
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an unconfigured engine on top of a transport
func NewEngine(t Transport, opts ...Option) *Engine {
	e := &Engine{
		transport: t,
		log:       nopLogger{},
		state:     StateUnconfigured,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current discovery state
func (e *Engine) State() State {
	return e.state
}

// Config returns the cached pack configuration, if discovered
func (e *Engine) Config() (PackConfig, bool) {
	return e.config, e.state == StateConfigured
}

// Established reports whether the last Establish completed. A configured
// engine is not necessarily established: discovery may have succeeded while
// the capacity read failed.
func (e *Engine) Established() bool {
	return e.established
}

// HardwareVersion returns the identification string for the attached pack
func (e *Engine) HardwareVersion() string {
	if e.state != StateConfigured {
		return "Daly/Sinowealth BMS"
	}
	return fmt.Sprintf("Daly/Sinowealth BMS %dS", e.config.CellCount)
}

// Reset forgets the cached pack configuration. Use it when the transport
// is reopened and a new session starts.
func (e *Engine) Reset() {
	e.state = StateUnconfigured
	e.config = PackConfig{}
	e.established = false
}

// Establish runs configuration discovery, reads the full capacity and sizes
// the snapshot's cell slots. Calling it again keeps the existing slots.
func (e *Engine) Establish(s *Snapshot) error {
	e.established = false
	if err := e.ensureConfigured(); err != nil {
		return err
	}
	e.log.Debug(">>> INFO: %s", e.HardwareVersion())

	if err := readCapacity(e, s); err != nil {
		return err
	}

	s.allocateCells(e.config.CellCount)
	e.established = true
	return nil
}

// Refresh reads one telemetry cycle into s. The first failing step aborts the
// cycle; steps applied before it keep their fresh values, later fields keep
// their previous values.
func (e *Engine) Refresh(s *Snapshot) error {
	if err := e.runSteps(s, refreshSteps); err != nil {
		return err
	}
	s.UpdatedAt = time.Now()
	return nil
}

// Probe is the connection self-test: Establish followed by one Refresh
func (e *Engine) Probe(s *Snapshot) error {
	if err := e.Establish(s); err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	if err := e.Refresh(s); err != nil {
		return fmt.Errorf("refresh data: %w", err)
	}
	return nil
}

// TestConnection reports whether a Sinowealth BMS answers correctly
func (e *Engine) TestConnection(s *Snapshot) bool {
	err := e.Probe(s)
	if err != nil {
		e.log.Debug(">>> ERROR: connection test failed: %v", err)
	}
	return err == nil
}

// ensureConfigured performs pack config discovery once per session
func (e *Engine) ensureConfigured() error {
	if e.state == StateConfigured {
		return nil
	}

	cfg, err := readValue[PackConfig](e, registerByCode[RegPackConfig])
	if err != nil {
		return err
	}
	if err := validatePackConfig(cfg); err != nil {
		e.log.Debug(">>> ERROR: No valid cell count returned: %d", cfg.CellCount)
		return registerError(RegPackConfig, err)
	}

	e.log.Debug(">>> INFO: Number of cells: %d", cfg.CellCount)
	e.log.Debug(">>> INFO: Number of temperature sensors: %d", cfg.TemperatureSensors)

	e.config = cfg
	e.state = StateConfigured
	return nil
}

// validatePackConfig accepts 1..32 cells, wider than the 3..10 the config
// byte can encode
func validatePackConfig(cfg PackConfig) error {
	if cfg.CellCount < MinCellCount || cfg.CellCount > MaxCellCount {
		return fmt.Errorf("%w: %d (valid %d-%d)", ErrInvalidCellCount, cfg.CellCount, MinCellCount, MaxCellCount)
	}
	return nil
}

// requireConfig triggers discovery and maps its failure to ErrConfigurationMissing
func (e *Engine) requireConfig() error {
	if err := e.ensureConfigured(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigurationMissing, err)
	}
	return nil
}

// read performs one blocking round trip for a register code
func (e *Engine) read(code byte) ([]byte, error) {
	frame := EncodeFrame(code)
	data, err := e.transport.SendAndReceive(frame.Bytes(), frame.LengthHint())
	if err != nil {
		return nil, registerError(code, fmt.Errorf("%w: %w", ErrTransportFailure, err))
	}
	if len(data) == 0 {
		return nil, registerError(code, ErrTransportFailure)
	}
	return data, nil
}

// readValue reads a register and decodes the reply with the rule its table
// entry names
func readValue[T any](e *Engine, r Register) (T, error) {
	var zero T
	data, err := e.read(r.Code)
	if err != nil {
		return zero, err
	}
	v, err := r.Decode(data)
	if err != nil {
		return zero, registerError(r.Code, err)
	}
	out, ok := v.(T)
	if !ok {
		return zero, registerError(r.Code, fmt.Errorf("%s decodes to %T, not %T", r.Name, v, zero))
	}
	return out, nil
}

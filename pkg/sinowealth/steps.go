// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import "fmt"

// step is one stage of an acquisition cycle. A step writes into the snapshot
// only after its reads succeed.
type step struct {
	name string
	run  func(*Engine, *Snapshot) error
}

// refreshSteps is the telemetry read order of one Refresh cycle. Pack config
// comes first so an unconfigured engine discovers before any telemetry read.
var refreshSteps = []step{
	{name: "pack config", run: readPackConfig},
	{name: "soc", run: readSOC},
	{name: "status", run: readStatus},
	{name: "battery status", run: readBatteryStatus},
	{name: "pack voltage", run: readPackVoltage},
	{name: "pack current", run: readPackCurrent},
	{name: "cell voltages", run: readCells},
	{name: "temperatures", run: readTemperatures},
	{name: "remaining capacity", run: readRemainingCapacity},
	{name: "cycle count", run: readCycleCount},
}

// StepNames returns the refresh step order
func StepNames() []string {
	names := make([]string, len(refreshSteps))
	for i, st := range refreshSteps {
		names[i] = st.name
	}
	return names
}

// StepError reports the refresh step that aborted a cycle
type StepError struct {
	Step  string
	Index int
	Err   error
}

// Error implements the error interface
func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Step, e.Err)
}

// Unwrap returns the step's error
func (e *StepError) Unwrap() error {
	return e.Err
}

// runSteps executes steps in order and stops at the first failure
func (e *Engine) runSteps(s *Snapshot, steps []step) error {
	for i, st := range steps {
		if err := st.run(e, s); err != nil {
			e.log.Debug(">>> ERROR: refresh aborted at %s: %v", st.name, err)
			return &StepError{Step: st.name, Index: i, Err: err}
		}
	}
	return nil
}

// readPackConfig runs discovery when the engine is unconfigured and sizes the
// cell slots. It sends nothing once the config is cached.
func readPackConfig(e *Engine, s *Snapshot) error {
	if err := e.requireConfig(); err != nil {
		return err
	}
	s.allocateCells(e.config.CellCount)
	return nil
}

func readSOC(e *Engine, s *Snapshot) error {
	soc, err := readValue[int](e, registerByCode[RegSOC])
	if err != nil {
		return err
	}
	s.SOC = soc
	e.log.Debug(">>> INFO: current SOC: %d", soc)
	return nil
}

func readStatus(e *Engine, s *Snapshot) error {
	fet, err := readValue[FETState](e, registerByCode[RegStatus])
	if err != nil {
		return err
	}
	s.ChargeFET = fet.Charge
	s.DischargeFET = fet.Discharge
	e.log.Debug(">>> INFO: Discharge fet: %t, charge fet: %t", fet.Discharge, fet.Charge)
	return nil
}

func readBatteryStatus(e *Engine, s *Snapshot) error {
	p, err := readValue[Protection](e, registerByCode[RegBatteryStatus])
	if err != nil {
		return err
	}
	s.Protection = p
	return nil
}

func readPackVoltage(e *Engine, s *Snapshot) error {
	v, err := readValue[float64](e, registerByCode[RegTotalVoltage])
	if err != nil {
		return err
	}
	s.Voltage = v
	e.log.Debug(">>> INFO: current pack voltage: %f", v)
	return nil
}

func readPackCurrent(e *Engine, s *Snapshot) error {
	c, err := readValue[float64](e, registerByCode[RegCurrent])
	if err != nil {
		return err
	}
	s.Current = c
	e.log.Debug(">>> INFO: current pack current: %f", c)
	return nil
}

func readCapacity(e *Engine, s *Snapshot) error {
	c, err := readValue[float64](e, registerByCode[RegCapacity])
	if err != nil {
		return err
	}
	s.Capacity = c
	e.log.Debug(">>> INFO: Battery capacity: %f Ah", c)
	return nil
}

func readRemainingCapacity(e *Engine, s *Snapshot) error {
	c, err := readValue[float64](e, registerByCode[RegRemainingCapacity])
	if err != nil {
		return err
	}
	s.CapacityRemain = c
	e.log.Debug(">>> INFO: remaining battery capacity: %f Ah", c)
	return nil
}

func readCycleCount(e *Engine, s *Snapshot) error {
	n, err := readValue[int](e, registerByCode[RegCycleCount])
	if err != nil {
		return err
	}
	s.CycleCount = n
	e.log.Debug(">>> INFO: current cycle count: %d", n)
	return nil
}

// readCells sweeps every cell. A cell that cannot be read is marked invalid
// and the sweep continues; the step itself does not fail on it.
func readCells(e *Engine, s *Snapshot) error {
	if err := e.requireConfig(); err != nil {
		return err
	}

	for i := range s.Cells {
		v, err := readValue[float64](e, CellRegister(i+1))
		if err != nil {
			s.Cells[i] = Cell{}
			e.log.Debug(">>> WARN: Cell %d voltage unreadable: %v", i+1, err)
			continue
		}
		s.Cells[i] = Cell{Voltage: v, Valid: true}
		e.log.Debug(">>> INFO: Cell %d voltage: %f V", i+1, v)
	}
	return nil
}

// readTemperatures reads external sensor 1, external sensor 2 when the pack
// has two sensors, then both internal sensors
func readTemperatures(e *Engine, s *Snapshot) error {
	if err := e.requireConfig(); err != nil {
		return err
	}

	sensors := []struct {
		code byte
		slot int
	}{
		{RegTemperatureExt1, TempExternal1},
		{RegTemperatureExt2, TempExternal2},
		{RegTemperatureInt1, TempInternal1},
		{RegTemperatureInt2, TempInternal2},
	}

	for _, sensor := range sensors {
		if sensor.slot == TempExternal2 && e.config.TemperatureSensors != 2 {
			continue
		}
		t, err := readValue[float64](e, registerByCode[sensor.code])
		if err != nil {
			return err
		}
		s.Temperatures[sensor.slot] = Temperature{Celsius: t, Valid: true}
		e.log.Debug(">>> INFO: BMS %s: %f C", RegisterName(sensor.code), t)
	}
	return nil
}

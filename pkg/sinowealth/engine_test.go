// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import (
	"errors"
	"fmt"
	"testing"
)

// recordingLogger collects debug traces
type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Debug(format string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func requestCodes(frames []Frame) []byte {
	codes := make([]byte, len(frames))
	for i, f := range frames {
		codes[i] = f.Register()
	}
	return codes
}

// ============================================================
// Establish Tests
// ============================================================

func TestEstablish_DiscoversConfig(t *testing.T) {
	sim := NewPackSimulator()
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Establish(&snap); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if e.State() != StateConfigured {
		t.Errorf("expected CONFIGURED, got %s", e.State())
	}
	cfg, ok := e.Config()
	if !ok || cfg.CellCount != 8 || cfg.TemperatureSensors != 1 {
		t.Errorf("unexpected config %+v (ok=%v)", cfg, ok)
	}
	if len(snap.Cells) != 8 {
		t.Errorf("expected 8 cell slots, got %d", len(snap.Cells))
	}
	if snap.Capacity != 100 {
		t.Errorf("expected capacity 100 Ah, got %f", snap.Capacity)
	}
	if got := e.HardwareVersion(); got != "Daly/Sinowealth BMS 8S" {
		t.Errorf("unexpected hardware version %q", got)
	}

	codes := requestCodes(sim.Requests())
	if len(codes) != 2 || codes[0] != RegPackConfig || codes[1] != RegCapacity {
		t.Errorf("expected pack config then capacity, got % X", codes)
	}
}

func TestEstablish_Idempotent(t *testing.T) {
	sim := NewPackSimulator()
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Establish(&snap); err != nil {
		t.Fatalf("first Establish failed: %v", err)
	}
	first := &snap.Cells[0]

	if err := e.Establish(&snap); err != nil {
		t.Fatalf("second Establish failed: %v", err)
	}
	if len(snap.Cells) != 8 {
		t.Errorf("cell count changed to %d", len(snap.Cells))
	}
	if &snap.Cells[0] != first {
		t.Error("second Establish should not reallocate cell slots")
	}

	// Second call only re-reads capacity
	codes := requestCodes(sim.Requests())
	if len(codes) != 3 || codes[2] != RegCapacity {
		t.Errorf("expected cached config on second call, got % X", codes)
	}
}

func TestEstablish_DiscoveryFailure(t *testing.T) {
	sim := NewPackSimulator()
	sim.Fail(RegPackConfig, -1)
	e := NewEngine(sim)
	var snap Snapshot

	err := e.Establish(&snap)
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	var regErr *RegisterError
	if !errors.As(err, &regErr) || regErr.Register != RegPackConfig {
		t.Errorf("expected RegisterError for PACK_CONFIG, got %v", err)
	}
	if e.State() != StateUnconfigured {
		t.Error("engine should stay unconfigured")
	}
	if snap.Cells != nil {
		t.Error("cell slots should not be allocated")
	}

	// Recovers on a later attempt
	sim.Heal(RegPackConfig)
	if err := e.Establish(&snap); err != nil {
		t.Fatalf("Establish after heal failed: %v", err)
	}
}

func TestEstablish_CapacityFailure(t *testing.T) {
	sim := NewPackSimulator()
	sim.Fail(RegCapacity, 1)
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Establish(&snap); err == nil {
		t.Fatal("expected Establish to fail when capacity is unreadable")
	}
	if snap.Cells != nil {
		t.Error("cell slots should not be allocated on failure")
	}

	// Discovery succeeded, so the engine is configured but not established
	if e.State() != StateConfigured {
		t.Errorf("expected CONFIGURED after discovery, got %s", e.State())
	}
	if e.Established() {
		t.Error("engine should not report established after a capacity failure")
	}

	// Refresh alone never reads capacity
	if err := e.Refresh(&snap); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if snap.Capacity != 0 {
		t.Errorf("capacity should still be unread, got %f", snap.Capacity)
	}

	// A retried Establish picks it up
	if err := e.Establish(&snap); err != nil {
		t.Fatalf("retried Establish failed: %v", err)
	}
	if !e.Established() || snap.Capacity != 100 {
		t.Errorf("expected established with capacity 100, got %v/%f", e.Established(), snap.Capacity)
	}
}

func TestEstablished_ClearedByReset(t *testing.T) {
	e := NewEngine(NewPackSimulator())
	if e.Established() {
		t.Error("new engine should not be established")
	}
	if err := e.Establish(&Snapshot{}); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if !e.Established() {
		t.Error("engine should be established")
	}
	e.Reset()
	if e.Established() {
		t.Error("Reset should clear established")
	}
}

func TestValidatePackConfig_LooseBound(t *testing.T) {
	for _, n := range []int{1, 3, 10, 32} {
		if err := validatePackConfig(PackConfig{CellCount: n}); err != nil {
			t.Errorf("%d cells should be accepted: %v", n, err)
		}
	}
	for _, n := range []int{0, 33, -1} {
		if err := validatePackConfig(PackConfig{CellCount: n}); !errors.Is(err, ErrInvalidCellCount) {
			t.Errorf("%d cells should be rejected with ErrInvalidCellCount, got %v", n, err)
		}
	}
}

// ============================================================
// Refresh Tests
// ============================================================

func TestRefresh_Order(t *testing.T) {
	sim := NewPackSimulator()
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Establish(&snap); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	sim.ResetRequests()

	if err := e.Refresh(&snap); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	want := []byte{
		RegSOC, RegStatus, RegBatteryStatus, RegTotalVoltage, RegCurrent,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		RegTemperatureExt1, RegTemperatureInt1, RegTemperatureInt2,
		RegRemainingCapacity, RegCycleCount,
	}
	got := requestCodes(sim.Requests())
	if string(got) != string(want) {
		t.Errorf("read order mismatch:\n got % X\nwant % X", got, want)
	}
}

func TestRefresh_Values(t *testing.T) {
	sim := NewPackSimulator()
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Probe(&snap); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if snap.SOC != 77 || snap.CycleCount != 42 {
		t.Errorf("SOC/cycles = %d/%d", snap.SOC, snap.CycleCount)
	}
	if snap.Current != -12.5 {
		t.Errorf("expected current -12.5, got %f", snap.Current)
	}
	if !snap.ChargeFET || !snap.DischargeFET {
		t.Error("both FETs should be on")
	}
	if snap.CapacityRemain != 76.5 {
		t.Errorf("expected remaining 76.5 Ah, got %f", snap.CapacityRemain)
	}
	for i, c := range snap.Cells {
		if !c.Valid {
			t.Errorf("cell %d should be valid", i+1)
		}
	}
	if !snap.Temperatures[TempExternal1].Valid || snap.Temperatures[TempExternal2].Valid {
		t.Error("one-sensor pack should report external 1 only")
	}
	if !snap.Temperatures[TempInternal1].Valid || !snap.Temperatures[TempInternal2].Valid {
		t.Error("internal temperatures should be read")
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set after a good cycle")
	}
}

func TestRefresh_TwoSensors(t *testing.T) {
	sim := NewPackSimulator()
	sim.SetPackConfig(0x40) // 3 cells, 2 sensors
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Probe(&snap); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if len(snap.Cells) != 3 {
		t.Errorf("expected 3 cells, got %d", len(snap.Cells))
	}
	if !snap.Temperatures[TempExternal2].Valid {
		t.Error("two-sensor pack should read external 2")
	}
}

func TestRefresh_PartialFailure(t *testing.T) {
	sim := NewPackSimulator()
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Probe(&snap); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	old := snap
	oldTemps := snap.Temperatures

	sim.SetSOC(55)
	sim.SetStatus(FETState{Charge: false, Discharge: true})
	sim.SetBatteryStatus(0x00, 0x01)
	sim.SetTotalVoltage(30.0)
	sim.SetCurrent(5)
	sim.SetCycleCount(99)
	sim.Fail(RegTotalVoltage, 1)

	err := e.Refresh(&snap)
	if err == nil {
		t.Fatal("expected Refresh to fail")
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Index != 4 || stepErr.Step != "pack voltage" {
		t.Errorf("expected failure at step 5 (pack voltage), got %v", err)
	}

	// Steps before the failure are applied
	if snap.SOC != 55 || snap.ChargeFET || !snap.DischargeFET {
		t.Errorf("SOC/FETs should be fresh: soc=%d charge=%v discharge=%v", snap.SOC, snap.ChargeFET, snap.DischargeFET)
	}
	if snap.Protection.OverVoltage != ProtectionActive {
		t.Error("battery status should be fresh")
	}

	// The failed step and everything after keeps the previous value
	if snap.Voltage != old.Voltage || snap.Current != old.Current || snap.CycleCount != old.CycleCount {
		t.Errorf("later fields should be stale: v=%f c=%f cycles=%d", snap.Voltage, snap.Current, snap.CycleCount)
	}
	if snap.Temperatures != oldTemps || snap.UpdatedAt != old.UpdatedAt {
		t.Error("temperatures and timestamp should be stale")
	}

	// Next cycle recovers
	if err := e.Refresh(&snap); err != nil {
		t.Fatalf("Refresh after recovery failed: %v", err)
	}
	if snap.Voltage != 30.0 || snap.CycleCount != 99 {
		t.Errorf("recovered cycle should apply new values, got v=%f cycles=%d", snap.Voltage, snap.CycleCount)
	}
}

func TestRefresh_CellFailureContinues(t *testing.T) {
	sim := NewPackSimulator()
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Establish(&snap); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	sim.Fail(0x03, 1)

	if err := e.Refresh(&snap); err != nil {
		t.Fatalf("a single unreadable cell should not abort the cycle: %v", err)
	}
	if snap.Cells[2].Valid {
		t.Error("cell 3 should be marked invalid")
	}
	if !snap.Cells[3].Valid {
		t.Error("cells after the failure should still be read")
	}
}

func TestRefresh_TemperatureFailureAborts(t *testing.T) {
	sim := NewPackSimulator()
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Establish(&snap); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	sim.Fail(RegTemperatureInt2, 1)

	err := e.Refresh(&snap)
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "temperatures" {
		t.Fatalf("expected temperatures step failure, got %v", err)
	}
	if !snap.Temperatures[TempInternal1].Valid {
		t.Error("reads before the failing sensor should be applied")
	}
}

func TestRefresh_WithoutEstablish(t *testing.T) {
	sim := NewPackSimulator()
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Refresh(&snap); err != nil {
		t.Fatalf("Refresh should discover the config on demand: %v", err)
	}
	if e.State() != StateConfigured || len(snap.Cells) != 8 {
		t.Errorf("expected configured engine with 8 cells, got %s/%d", e.State(), len(snap.Cells))
	}
}

func TestRefresh_DiscoversBeforeTelemetry(t *testing.T) {
	sim := NewPackSimulator()
	e := NewEngine(sim)
	var snap Snapshot

	if err := e.Refresh(&snap); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	codes := requestCodes(sim.Requests())
	if len(codes) < 2 || codes[0] != RegPackConfig || codes[1] != RegSOC {
		t.Errorf("expected pack config before SOC, got % X", codes)
	}

	// Once cached, the config is not read again
	sim.ResetRequests()
	if err := e.Refresh(&snap); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	for _, c := range requestCodes(sim.Requests()) {
		if c == RegPackConfig {
			t.Error("configured engine should not re-read pack config")
		}
	}
}

func TestRefresh_ConfigurationMissing(t *testing.T) {
	sim := NewPackSimulator()
	sim.Fail(RegPackConfig, -1)
	e := NewEngine(sim)
	var snap Snapshot

	err := e.Refresh(&snap)
	if !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Index != 0 || stepErr.Step != "pack config" {
		t.Errorf("expected failure at the first step, got %v", err)
	}
	if snap.SOC != 0 {
		t.Error("no telemetry should be read without a pack config")
	}
	codes := requestCodes(sim.Requests())
	if len(codes) != 1 || codes[0] != RegPackConfig {
		t.Errorf("expected a single pack config request, got % X", codes)
	}
}

// ============================================================
// Connection Test
// ============================================================

func TestTestConnection(t *testing.T) {
	var snap Snapshot
	if !NewEngine(NewPackSimulator()).TestConnection(&snap) {
		t.Error("pack simulator should pass the connection test")
	}

	log := &recordingLogger{}
	e := NewEngine(NewSimulator(), WithLogger(log))
	if e.TestConnection(&Snapshot{}) {
		t.Error("silent device should fail the connection test")
	}
	if len(log.lines) == 0 {
		t.Error("failure should be traced")
	}
}

func TestTransportFunc_Error(t *testing.T) {
	tr := TransportFunc(func(frame []byte, hint int) ([]byte, error) {
		if hint != 4 {
			t.Errorf("length hint should be 4, got %d", hint)
		}
		return nil, errors.New("timeout")
	})
	e := NewEngine(tr)
	err := e.Establish(&Snapshot{})
	if !errors.Is(err, ErrTransportFailure) {
		t.Errorf("transport error should map to ErrTransportFailure, got %v", err)
	}
}

func TestReset(t *testing.T) {
	e := NewEngine(NewPackSimulator())
	if err := e.Establish(&Snapshot{}); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	e.Reset()
	if _, ok := e.Config(); ok || e.State() != StateUnconfigured {
		t.Error("Reset should forget the configuration")
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/sinostat/internal/config"
	"github.com/Thermoquad/sinostat/internal/logger"
	"github.com/Thermoquad/sinostat/pkg/sinowealth"
)

// fakeConn answers each written frame with scripted read chunks
type fakeConn struct {
	respond  func(frame []byte) [][]byte
	pending  [][]byte
	writes   [][]byte
	timeouts []time.Duration
	readErr  error
	flushes  int
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), p...))
	if f.respond != nil {
		f.pending = append(f.pending, f.respond(p)...)
	}
	return len(p), nil
}

func (f *fakeConn) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.pending) == 0 {
		return 0, nil
	}
	n := copy(p, f.pending[0])
	if n < len(f.pending[0]) {
		f.pending[0] = f.pending[0][n:]
	} else {
		f.pending = f.pending[1:]
	}
	return n, nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) Flush() error {
	f.flushes++
	f.pending = nil
	return nil
}

func (f *fakeConn) SetReadTimeout(t time.Duration) error {
	f.timeouts = append(f.timeouts, t)
	return nil
}

// simConn wires a fake connection to a simulator
func simConn(sim *sinowealth.Simulator) *fakeConn {
	return &fakeConn{
		respond: func(frame []byte) [][]byte {
			reply, err := sim.SendAndReceive(frame, int(frame[2]))
			if err != nil {
				return nil
			}
			return [][]byte{reply}
		},
	}
}

// ============================================================
// Transport Tests
// ============================================================

func TestRegisterTransport_ChunkedReply(t *testing.T) {
	conn := &fakeConn{
		respond: func(frame []byte) [][]byte {
			return [][]byte{{0x00, 0x00}, {0x30, 0x39, 0x69}}
		},
	}
	tr := NewRegisterTransport(conn, 200*time.Millisecond, nil)

	frame := sinowealth.EncodeFrame(sinowealth.RegCurrent)
	reply, err := tr.SendAndReceive(frame.Bytes(), frame.LengthHint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(reply, []byte{0x00, 0x00, 0x30, 0x39, 0x69}) {
		t.Errorf("reply % X not reassembled", reply)
	}
	if !bytes.Equal(conn.writes[0], []byte{0x0A, 0x10, 0x04, 0x00}) {
		t.Errorf("unexpected frame on the wire: % X", conn.writes[0])
	}

	// Full timeout for the first byte, then the inter-byte gap
	if len(conn.timeouts) != 2 || conn.timeouts[0] != 200*time.Millisecond || conn.timeouts[1] != replyGap {
		t.Errorf("unexpected timeout sequence %v", conn.timeouts)
	}
}

func TestRegisterTransport_Silence(t *testing.T) {
	tr := NewRegisterTransport(&fakeConn{}, 10*time.Millisecond, nil)
	_, err := tr.SendAndReceive(sinowealth.EncodeFrame(sinowealth.RegSOC).Bytes(), 4)
	if !errors.Is(err, ErrNoReply) {
		t.Errorf("expected ErrNoReply, got %v", err)
	}
}

func TestRegisterTransport_ReadError(t *testing.T) {
	conn := &fakeConn{readErr: ErrConnectionClosed}
	tr := NewRegisterTransport(conn, 10*time.Millisecond, nil)
	_, err := tr.SendAndReceive(sinowealth.EncodeFrame(sinowealth.RegSOC).Bytes(), 4)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestRegisterTransport_CapsReplySize(t *testing.T) {
	conn := &fakeConn{
		respond: func(frame []byte) [][]byte {
			return [][]byte{make([]byte, 64)}
		},
	}
	tr := NewRegisterTransport(conn, 10*time.Millisecond, nil)
	reply, err := tr.SendAndReceive(sinowealth.EncodeFrame(sinowealth.RegSOC).Bytes(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reply) != sinowealth.MaxResponseSize {
		t.Errorf("expected reply capped at %d bytes, got %d", sinowealth.MaxResponseSize, len(reply))
	}
}

func TestRegisterTransport_EngineEndToEnd(t *testing.T) {
	sim := sinowealth.NewPackSimulator()
	tr := NewRegisterTransport(simConn(sim), 10*time.Millisecond, logger.Discard())
	engine := sinowealth.NewEngine(tr)

	var snap sinowealth.Snapshot
	if err := engine.Probe(&snap); err != nil {
		t.Fatalf("Probe over transport failed: %v", err)
	}
	if snap.SOC != 77 || len(snap.Cells) != 8 {
		t.Errorf("unexpected snapshot: SOC %d, %d cells", snap.SOC, len(snap.Cells))
	}
}

func TestRegisterTransport_DropsLateReply(t *testing.T) {
	conn := &fakeConn{
		respond: func(frame []byte) [][]byte {
			return [][]byte{{0x00, 0x4D, 0x00}}
		},
	}
	// Bytes of an earlier reply that arrived after its timeout
	conn.pending = [][]byte{{0xCB, 0x20, 0x11}}

	tr := NewRegisterTransport(conn, 10*time.Millisecond, nil)
	reply, err := tr.SendAndReceive(sinowealth.EncodeFrame(sinowealth.RegSOC).Bytes(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(reply, []byte{0x00, 0x4D, 0x00}) {
		t.Errorf("stale bytes leaked into the reply: % X", reply)
	}
	if conn.flushes != 1 {
		t.Errorf("expected one flush before the write, got %d", conn.flushes)
	}
}

func TestWebSocketConnection_Flush(t *testing.T) {
	w := &WebSocketConnection{
		messages: make(chan []byte, 4),
		done:     make(chan struct{}),
		timeout:  time.Millisecond,
		buf:      []byte{0x01, 0x02, 0x03},
	}
	w.messages <- []byte{0x04}
	w.messages <- []byte{0x05}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	n, err := w.Read(make([]byte, 8))
	if n != 0 || err != nil {
		t.Errorf("expected an empty timed-out read after flush, got %d bytes, %v", n, err)
	}
}

// ============================================================
// Register Argument Tests
// ============================================================

func TestParseRegister(t *testing.T) {
	tests := []struct {
		arg  string
		code byte
		name string
	}{
		{"soc", sinowealth.RegSOC, "SOC"},
		{"PACK_CONFIG", sinowealth.RegPackConfig, "PACK_CONFIG"},
		{"cell3", 0x03, "CELL_3_VOLTAGE"},
		{"CELL_7_VOLTAGE", 0x07, "CELL_7_VOLTAGE"},
		{"0x10", sinowealth.RegCurrent, "CURRENT"},
		{"22", sinowealth.RegBatteryStatus, "BATTERY_STATUS"},
		{"0x7f", 0x7F, "UNKNOWN"},
	}
	for _, tt := range tests {
		r, err := parseRegister(tt.arg)
		if err != nil {
			t.Errorf("parseRegister(%q) failed: %v", tt.arg, err)
			continue
		}
		if r.Code != tt.code || r.Name != tt.name {
			t.Errorf("parseRegister(%q) = 0x%02X %s, want 0x%02X %s", tt.arg, r.Code, r.Name, tt.code, tt.name)
		}
	}

	for _, bad := range []string{"cell0", "cell33", "voltage", "0x100"} {
		if _, err := parseRegister(bad); err == nil {
			t.Errorf("parseRegister(%q) should fail", bad)
		}
	}
}

// ============================================================
// Settings Tests
// ============================================================

func TestApplyFlags_OverridesFile(t *testing.T) {
	c := &cobra.Command{}
	c.Flags().StringVar(&portName, "port", "", "")
	c.Flags().IntVar(&baudRate, "baud", config.DefaultBaudRate, "")
	c.Flags().IntVar(&timeoutMs, "timeout", config.DefaultTimeoutMs, "")
	c.Flags().StringVar(&logLevel, "log-level", logger.LevelInfo, "")

	if err := c.Flags().Set("port", "/dev/ttyUSB3"); err != nil {
		t.Fatal(err)
	}
	if err := c.Flags().Set("timeout", "900"); err != nil {
		t.Fatal(err)
	}

	resolved, err := config.Parse([]byte("connection:\n  url: ws://bridge/serial\n  baud: 19200\nlogging:\n  level: warn\n"))
	if err != nil {
		t.Fatal(err)
	}
	applyFlags(c, resolved)

	if resolved.Connection.Port != "/dev/ttyUSB3" || resolved.Connection.URL != "" {
		t.Errorf("--port should replace the file's url: %+v", resolved.Connection)
	}
	if resolved.Connection.Baud != 19200 {
		t.Errorf("unset --baud should keep file value, got %d", resolved.Connection.Baud)
	}
	if resolved.Connection.TimeoutMs != 900 {
		t.Errorf("--timeout should override, got %d", resolved.Connection.TimeoutMs)
	}
	if resolved.Logging.Level != "warn" {
		t.Errorf("unset --log-level should keep file value, got %s", resolved.Logging.Level)
	}
}

// ============================================================
// Poll Tests
// ============================================================

func withTestSettings(t *testing.T) {
	t.Helper()
	prevCfg, prevLog := cfg, appLog
	cfg = config.Default()
	cfg.Poll.IntervalMs = 1
	appLog = logger.Discard()
	t.Cleanup(func() {
		cfg, appLog = prevCfg, prevLog
	})
}

func TestPollLoop_Count(t *testing.T) {
	withTestSettings(t)
	cfg.Poll.Count = 3

	sim := sinowealth.NewPackSimulator()
	sim.Fail(sinowealth.RegPackConfig, 1) // first discovery fails
	engine := sinowealth.NewEngine(sim)
	stats := sinowealth.NewStatistics()

	var results []error
	sink := func(snap *sinowealth.Snapshot, err error) error {
		results = append(results, err)
		return nil
	}

	if err := pollLoop(context.Background(), engine, stats, sink); err != nil {
		t.Fatalf("pollLoop failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 cycles, got %d", len(results))
	}
	if results[0] == nil || results[1] != nil || results[2] != nil {
		t.Errorf("expected first cycle to fail and the rest to recover: %v", results)
	}
	if stats.GoodCycles != 2 || stats.FailedCycles != 1 {
		t.Errorf("good/failed = %d/%d", stats.GoodCycles, stats.FailedCycles)
	}
}

func TestPollLoop_RetriesEstablish(t *testing.T) {
	withTestSettings(t)
	cfg.Poll.Count = 3

	sim := sinowealth.NewPackSimulator()
	sim.Fail(sinowealth.RegCapacity, 1) // discovery works, capacity does not
	engine := sinowealth.NewEngine(sim)

	var results []error
	var capacity float64
	sink := func(snap *sinowealth.Snapshot, err error) error {
		results = append(results, err)
		capacity = snap.Capacity
		return nil
	}

	if err := pollLoop(context.Background(), engine, sinowealth.NewStatistics(), sink); err != nil {
		t.Fatalf("pollLoop failed: %v", err)
	}
	if len(results) != 3 || results[0] == nil || results[1] != nil {
		t.Fatalf("expected a failed first cycle then recovery: %v", results)
	}
	if !engine.Established() || capacity != 100 {
		t.Errorf("capacity should be read by a later cycle, got established=%v capacity=%f", engine.Established(), capacity)
	}
}

func TestPollLoop_Cancel(t *testing.T) {
	withTestSettings(t)
	cfg.Poll.IntervalMs = 60000

	ctx, cancel := context.WithCancel(context.Background())
	engine := sinowealth.NewEngine(sinowealth.NewPackSimulator())
	cycles := 0
	sink := func(snap *sinowealth.Snapshot, err error) error {
		cycles++
		cancel()
		return nil
	}

	if err := pollLoop(ctx, engine, sinowealth.NewStatistics(), sink); err != nil {
		t.Fatalf("pollLoop failed: %v", err)
	}
	if cycles != 1 {
		t.Errorf("expected 1 cycle before cancel, got %d", cycles)
	}
}

func TestCBORSink(t *testing.T) {
	var buf bytes.Buffer
	sink := cborSink(&buf)

	engine := sinowealth.NewEngine(sinowealth.NewPackSimulator())
	var snap sinowealth.Snapshot
	if err := engine.Probe(&snap); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if err := sink(&snap, errors.New("cycle failed")); err != nil || buf.Len() != 0 {
		t.Fatalf("failed cycles should not be emitted (err=%v, %d bytes)", err, buf.Len())
	}
	if err := sink(&snap, nil); err != nil {
		t.Fatalf("sink failed: %v", err)
	}

	got, err := sinowealth.UnmarshalSnapshot(buf.Bytes())
	if err != nil {
		t.Fatalf("stream not decodable: %v", err)
	}
	if got.SOC != snap.SOC || len(got.Cells) != len(snap.Cells) {
		t.Errorf("decoded snapshot mismatch: %+v", got)
	}
}

func TestTextSink(t *testing.T) {
	var buf bytes.Buffer
	sink := textSink(&buf)

	if err := sink(&sinowealth.Snapshot{}, errors.New("step 5 (pack voltage): no reply")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "CYCLE FAILED") {
		t.Errorf("failure not printed: %q", buf.String())
	}
}

// ============================================================
// Monitor TUI Tests
// ============================================================

func TestMonitorModel_Cycle(t *testing.T) {
	sim := sinowealth.NewPackSimulator()
	engine := sinowealth.NewEngine(sim)
	m := newMonitorModel(engine, "Serial: test", time.Second)

	msg := cycleCmd(engine, m.work, false)()
	cm, ok := msg.(cycleMsg)
	if !ok {
		t.Fatalf("expected cycleMsg, got %T", msg)
	}
	if cm.err != nil || !cm.established {
		t.Fatalf("first cycle should establish and succeed: %+v", cm)
	}

	updated, cmd := m.Update(cm)
	m = updated.(monitorModel)
	if cmd == nil {
		t.Error("a finished cycle should schedule the next tick")
	}
	if !m.hasData || m.busy || m.hardware != "Daly/Sinowealth BMS 8S" {
		t.Errorf("unexpected model state: hasData=%v busy=%v hw=%q", m.hasData, m.busy, m.hardware)
	}

	// Displayed snapshot is a copy, not the work buffer
	m.work.Cells[0].Voltage = 9.999
	if m.snap.Cells[0].Voltage == 9.999 {
		t.Error("displayed snapshot shares cells with the work buffer")
	}

	view := m.View()
	for _, want := range []string{"SINOSTAT", "Cell  1:", "Protection:", "Connected: Daly/Sinowealth BMS 8S"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestMonitorModel_FailedCycle(t *testing.T) {
	sim := sinowealth.NewPackSimulator()
	sim.Fail(sinowealth.RegPackConfig, -1)
	engine := sinowealth.NewEngine(sim)
	m := newMonitorModel(engine, "Serial: test", time.Second)

	updated, _ := m.Update(cycleCmd(engine, m.work, false)())
	m = updated.(monitorModel)
	if m.hasData || m.stats.FailedCycles != 1 || len(m.events) != 1 || !m.events[0].isError {
		t.Errorf("failed discovery should be logged: hasData=%v failed=%d events=%v", m.hasData, m.stats.FailedCycles, m.events)
	}
	if !strings.Contains(m.View(), "Pack not configured") {
		t.Error("view should report the unconfigured pack")
	}
}

func TestMonitorModel_RetriesEstablish(t *testing.T) {
	sim := sinowealth.NewPackSimulator()
	sim.Fail(sinowealth.RegCapacity, 1)
	engine := sinowealth.NewEngine(sim)
	m := newMonitorModel(engine, "Serial: test", time.Second)

	first := cycleCmd(engine, m.work, false)().(cycleMsg)
	if first.err == nil {
		t.Fatal("first cycle should fail on the capacity read")
	}

	second := cycleCmd(engine, m.work, false)().(cycleMsg)
	if second.err != nil || !second.established {
		t.Fatalf("second cycle should establish again: %+v", second)
	}
	if second.snap.Capacity != 100 {
		t.Errorf("expected capacity 100 Ah, got %f", second.snap.Capacity)
	}
}

func TestMonitorModel_Keys(t *testing.T) {
	m := newMonitorModel(sinowealth.NewEngine(sinowealth.NewSimulator()), "test", time.Second)
	m.busy = false

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'d'}})
	m = updated.(monitorModel)
	if !m.rediscover {
		t.Error("'d' should request rediscovery")
	}

	updated, cmd := m.Update(pollTickMsg(time.Now()))
	m = updated.(monitorModel)
	if !m.busy || m.rediscover || cmd == nil {
		t.Error("tick should start a cycle and consume the rediscover request")
	}

	// A second tick while busy does not start another cycle
	if _, cmd := m.Update(pollTickMsg(time.Now())); cmd != nil {
		t.Error("only one cycle may be in flight")
	}

	updated, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if !updated.(monitorModel).quitting || cmd == nil {
		t.Error("'q' should quit")
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{90 * time.Second, "1 minute and 30 seconds"},
		{26*time.Hour + 2*time.Minute + 5*time.Second, "1 day, 2 hours, 2 minutes, and 5 seconds"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

// ============================================================
// Exit Code Tests
// ============================================================

func TestRunProbe_ConnectionError(t *testing.T) {
	withTestSettings(t)

	err := runProbe(probeCmd, nil)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitConnectionError {
		t.Errorf("expected exit code %d, got %v", ExitConnectionError, err)
	}
}

func TestRunDiscovery_NothingFound(t *testing.T) {
	withTestSettings(t)
	cfg.Connection.Port = "/nonexistent/ttySINO0"
	cfg.Connection.TimeoutMs = 1

	err := runDiscovery(discoveryCmd, nil)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitFailure {
		t.Errorf("expected exit code %d, got %v", ExitFailure, err)
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/sinostat/pkg/sinowealth"
)

// Event log entry
type eventEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// Key bindings
type monitorKeys struct {
	Quit       key.Binding
	ResetStats key.Binding
	Rediscover key.Binding
}

func defaultMonitorKeys() monitorKeys {
	return monitorKeys{
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		ResetStats: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset stats")),
		Rediscover: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "rediscover pack")),
	}
}

// TUI model. The engine and work snapshot belong to the in-flight cycle
// command; Update only ever sees copies.
type monitorModel struct {
	connInfo   string
	interval   time.Duration
	engine     *sinowealth.Engine
	work       *sinowealth.Snapshot
	snap       sinowealth.Snapshot
	hasData    bool
	hardware   string
	busy       bool
	rediscover bool
	stats      *sinowealth.Statistics
	events     []eventEntry
	maxEvents  int
	spinner    spinner.Model
	keys       monitorKeys
	started    time.Time
	width      int
	height     int
	quitting   bool
}

// Messages
type cycleMsg struct {
	snap        sinowealth.Snapshot
	err         error
	anomalies   []sinowealth.ValidationError
	established bool
	hardware    string
}
type pollTickMsg time.Time

func newMonitorModel(engine *sinowealth.Engine, connInfo string, interval time.Duration) monitorModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return monitorModel{
		connInfo:  connInfo,
		interval:  interval,
		engine:    engine,
		work:      &sinowealth.Snapshot{},
		stats:     sinowealth.NewStatistics(),
		events:    make([]eventEntry, 0),
		maxEvents: 100,
		spinner:   sp,
		keys:      defaultMonitorKeys(),
		started:   time.Now(),
		busy:      true,
		width:     80,
		height:    24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		cycleCmd(m.engine, m.work, false),
		tea.EnterAltScreen,
	)
}

// cycleCmd runs one acquisition cycle off the UI goroutine
func cycleCmd(engine *sinowealth.Engine, work *sinowealth.Snapshot, rediscover bool) tea.Cmd {
	return func() tea.Msg {
		if rediscover {
			engine.Reset()
		}
		msg := cycleMsg{}
		if !engine.Established() {
			if err := engine.Establish(work); err != nil {
				msg.err = err
				msg.snap = cloneSnapshot(work)
				return msg
			}
			msg.established = true
		}
		msg.hardware = engine.HardwareVersion()
		msg.err = engine.Refresh(work)
		msg.snap = cloneSnapshot(work)
		if msg.err == nil {
			msg.anomalies = sinowealth.ValidateSnapshot(work)
		}
		return msg
	}
}

func pollTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func cloneSnapshot(s *sinowealth.Snapshot) sinowealth.Snapshot {
	c := *s
	c.Cells = append([]sinowealth.Cell(nil), s.Cells...)
	return c
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.ResetStats):
			m.stats.Reset()
			m.addEvent("Statistics reset", false)
		case key.Matches(msg, m.keys.Rediscover):
			m.rediscover = true
			m.addEvent("Pack configuration will be rediscovered", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollTickMsg:
		if m.busy {
			return m, nil
		}
		m.busy = true
		rediscover := m.rediscover
		m.rediscover = false
		return m, cycleCmd(m.engine, m.work, rediscover)

	case cycleMsg:
		m.busy = false
		m.snap = msg.snap
		m.stats.Update(msg.err, msg.anomalies)
		if msg.hardware != "" {
			m.hardware = msg.hardware
		}
		if msg.established {
			m.addEvent("Connected: "+msg.hardware, false)
		}
		if msg.err != nil {
			m.addEvent(msg.err.Error(), true)
		} else {
			m.hasData = true
		}
		for _, a := range msg.anomalies {
			m.addEvent(a.Message, true)
		}
		return m, pollTickCmd(m.interval)
	}

	return m, nil
}

func (m *monitorModel) addEvent(message string, isError bool) {
	m.events = append(m.events, eventEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

// formatElapsed formats a duration as a human-friendly string
func formatElapsed(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("SINOSTAT - BMS MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Interval: %v | Session: %s",
		m.connInfo, m.interval, formatElapsed(time.Since(m.started)))))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s  %s  %s",
		m.keys.Quit.Help().Key+" "+m.keys.Quit.Help().Desc,
		m.keys.ResetStats.Help().Key+" "+m.keys.ResetStats.Help().Desc,
		m.keys.Rediscover.Help().Key+" "+m.keys.Rediscover.Help().Desc)))
	s.WriteString("\n\n")

	// Link status
	switch {
	case !m.hasData && m.busy:
		s.WriteString(m.spinner.View() + warningStyle.Render(" Waiting for BMS..."))
	case m.busy:
		s.WriteString(m.spinner.View() + valueStyle.Render(" "+m.hardware))
	case m.hardware != "":
		s.WriteString(valueStyle.Render("✓ " + m.hardware))
	default:
		s.WriteString(errorStyle.Render("✗ Pack not configured"))
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.renderStats()))
	s.WriteString("\n\n")

	if m.hasData {
		s.WriteString(labelStyle.Render("Latest Telemetry:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.renderTelemetry()))
		s.WriteString("\n\n")
	}

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(m.renderEvents()))

	return s.String()
}

func (m monitorModel) renderStats() string {
	st := m.stats
	st.CalculateRates()

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Cycles:"), valueStyle.Render(fmt.Sprintf("%d", st.TotalCycles)),
		labelStyle.Render("Good:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.GoodCycles, st.SuccessPercent())),
		labelStyle.Render("Failed:"), errorStyle.Render(fmt.Sprintf("%d", st.FailedCycles)),
	))
	if st.FailedCycles > 0 {
		b.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d\n",
			headerStyle.Render("no data"), st.TransportFailures,
			headerStyle.Render("short"), st.ShortPayloads,
			headerStyle.Render("config"), st.ConfigFailures+st.InvalidCellCounts,
		))
	}
	if st.Anomalies > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Anomalies:"), warningStyle.Render(fmt.Sprintf("%d", st.Anomalies))))
	}
	errRate := valueStyle.Render(fmt.Sprintf("%.2f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.2f err/s", st.ErrorRate))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Cycle Rate:"), valueStyle.Render(fmt.Sprintf("%.2f cyc/s", st.CycleRate)),
		labelStyle.Render("Error Rate:"), errRate,
	))
	return b.String()
}

func (m monitorModel) renderTelemetry() string {
	snap := &m.snap
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Voltage:"), valueStyle.Render(fmt.Sprintf("%.3f V", snap.Voltage)),
		labelStyle.Render("Current:"), valueStyle.Render(fmt.Sprintf("%.3f A", snap.Current)),
		labelStyle.Render("Power:"), valueStyle.Render(fmt.Sprintf("%.1f W", snap.Power())),
	))
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("SOC:"), valueStyle.Render(fmt.Sprintf("%d%%", snap.SOC)),
		labelStyle.Render("Remaining:"), valueStyle.Render(fmt.Sprintf("%.2f / %.2f Ah", snap.CapacityRemain, snap.Capacity)),
		labelStyle.Render("Cycles:"), valueStyle.Render(fmt.Sprintf("%d", snap.CycleCount)),
	))
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Charge FET:"), renderSwitch(snap.ChargeFET),
		labelStyle.Render("Discharge FET:"), renderSwitch(snap.DischargeFET),
	))

	_, loIdx, _ := snap.MinCell()
	_, hiIdx, _ := snap.MaxCell()
	for i, c := range snap.Cells {
		label := labelStyle.Render(fmt.Sprintf("Cell %2d:", i+1))
		var value string
		switch {
		case !c.Valid:
			value = errorStyle.Render("  --   ")
		case i+1 == loIdx:
			value = warningStyle.Render(fmt.Sprintf("%.3f V", c.Voltage))
		case i+1 == hiIdx:
			value = errorStyle.Render(fmt.Sprintf("%.3f V", c.Voltage))
		default:
			value = valueStyle.Render(fmt.Sprintf("%.3f V", c.Voltage))
		}
		sep := "   "
		if (i+1)%4 == 0 || i == len(snap.Cells)-1 {
			sep = "\n"
		}
		b.WriteString(label + " " + value + sep)
	}
	if delta, ok := snap.CellDelta(); ok {
		b.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Cell Delta:"), valueStyle.Render(fmt.Sprintf("%.0f mV", delta*1000))))
	}

	for i, t := range snap.Temperatures {
		if !t.Valid {
			continue
		}
		b.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render(sinowealth.TemperatureName(i)+":"),
			valueStyle.Render(fmt.Sprintf("%.1f°C", t.Celsius)),
		))
	}

	protection := valueStyle.Render("none")
	if snap.Protection.Active() {
		protection = errorStyle.Render(sinowealth.FormatProtection(snap.Protection))
	}
	b.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Protection:"), protection))
	return b.String()
}

func (m monitorModel) renderEvents() string {
	logHeight := m.height - 30
	if logHeight < 5 {
		logHeight = 5
	}

	if len(m.events) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	var b strings.Builder
	startIdx := max(len(m.events)-logHeight, 0)
	for _, entry := range m.events[startIdx:] {
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	return b.String()
}

func renderSwitch(on bool) string {
	if on {
		return valueStyle.Render("ON")
	}
	return errorStyle.Render("OFF")
}

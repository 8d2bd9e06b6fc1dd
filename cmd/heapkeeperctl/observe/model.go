// Package observe implements the bubbletea TUI behind `heapkeeperctl observe`.
package observe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Tab selects which panel of the dashboard is active.
type Tab int

const (
	TabLive Tab = iota
	TabHistory
)

// Sample is one GetStats snapshot taken from a running heapkeeper process.
type Sample struct {
	Timestamp       time.Time
	LiveAllocations float64
	Generation      float64
	BytesThreshold  float64
	CallsThreshold  float64
	AutoCollect     bool
	CPUPercent      float64
	MemUsedPercent  float64
	MemAvailableMB  float64
	MemTotalMB      float64
}

// Model is the Bubbletea model driving the observe dashboard.
type Model struct {
	addr string

	conn   *grpc.ClientConn
	client bool

	connected bool
	connErr   string

	samples   []Sample
	maxSample int
	paused    bool

	activeTab Tab
	viewport  viewport.Model

	width  int
	height int

	showHelp bool
}

type connectedMsg struct{ conn *grpc.ClientConn }
type connectErrMsg struct{ err error }
type sampleMsg Sample
type sampleErrMsg struct{ err error }

// NewModel builds an observe Model that polls the telemetry GetStats RPC
// on addr once per second.
func NewModel(addr string) Model {
	return Model{
		addr:      addr,
		maxSample: 300,
		samples:   make([]Sample, 0, 300),
		activeTab: TabLive,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.connect(), tea.EnterAltScreen)
}

func (m Model) connect() tea.Cmd {
	return func() tea.Msg {
		conn, err := grpc.NewClient(m.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return connectErrMsg{err}
		}
		return connectedMsg{conn: conn}
	}
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		req := &structpb.Struct{}
		resp := &structpb.Struct{}
		if err := m.conn.Invoke(ctx, "/heapkeeper.telemetry.Telemetry/GetStats", req, resp); err != nil {
			return sampleErrMsg{err}
		}
		return sampleMsg(sampleFromStruct(resp))
	}
}

func sampleFromStruct(s *structpb.Struct) Sample {
	f := func(key string) float64 {
		v, ok := s.Fields[key]
		if !ok {
			return 0
		}
		return v.GetNumberValue()
	}
	return Sample{
		Timestamp:       time.Now(),
		LiveAllocations: f("live_allocations"),
		Generation:      f("generation"),
		BytesThreshold:  f("bytes_threshold"),
		CallsThreshold:  f("calls_threshold"),
		AutoCollect:     f("auto_collect") != 0,
		CPUPercent:      f("cpu_percent"),
		MemUsedPercent:  f("mem_used_percent"),
		MemAvailableMB:  f("mem_available_mb"),
		MemTotalMB:      f("mem_total_mb"),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return t })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = msg.Height - 10

	case connectedMsg:
		m.connected = true
		m.conn = msg.conn
		m.client = true
		return m, tea.Batch(m.poll(), tick())

	case connectErrMsg:
		m.connErr = msg.err.Error()

	case sampleMsg:
		if !m.paused {
			m.addSample(Sample(msg))
		}

	case sampleErrMsg:
		m.connErr = msg.err.Error()

	case time.Time:
		if m.client {
			return m, tea.Batch(m.poll(), tick())
		}
	}

	return m, nil
}

func (m *Model) addSample(s Sample) {
	m.samples = append(m.samples, s)
	if len(m.samples) > m.maxSample {
		m.samples = m.samples[1:]
	}
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.conn != nil {
			m.conn.Close()
		}
		return m, tea.Quit
	case "?", "h":
		m.showHelp = !m.showHelp
	case "1":
		m.activeTab = TabLive
	case "2":
		m.activeTab = TabHistory
	case "p":
		m.paused = !m.paused
	case "c":
		m.samples = m.samples[:0]
	}
	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

func (m Model) renderMain() string {
	title := titleStyle.Render(" heapkeeper observe ")
	var status string
	switch {
	case !m.connected && m.connErr != "":
		status = errorStyle.Render(" ✗ " + m.connErr)
	case !m.connected:
		status = " Connecting..."
	case m.paused:
		status = pausedStyle.Render(" ⏸ PAUSED ")
	default:
		status = successStyle.Render(" ● LIVE ")
	}

	header := title + "  " + status + "\n\n" + m.renderTabs() + "\n"
	header += lipgloss.NewStyle().Foreground(mutedColor).Render(strings.Repeat("─", min(m.width-2, 100))) + "\n"

	var content string
	switch m.activeTab {
	case TabLive:
		content = m.renderLive()
	case TabHistory:
		content = m.renderHistory()
	}

	footer := lipgloss.NewStyle().Foreground(mutedColor).Render(strings.Repeat("─", min(m.width-2, 100))) + "\n"
	footer += m.renderStatusBar()

	return header + content + footer
}

func (m Model) renderTabs() string {
	tabs := []struct {
		name string
		tab  Tab
	}{
		{"[1] Live", TabLive},
		{"[2] History", TabHistory},
	}
	var result string
	for _, t := range tabs {
		if t.tab == m.activeTab {
			result += activeTabStyle.Render(t.name) + "  "
		} else {
			result += inactiveTabStyle.Render(t.name) + "  "
		}
	}
	return result
}

func (m Model) renderLive() string {
	if len(m.samples) == 0 {
		return lipgloss.NewStyle().Foreground(mutedColor).Render("  Waiting for first sample...")
	}
	s := m.samples[len(m.samples)-1]

	var out string
	out += "  " + statLabelStyle.Render("Live allocations: ") + statValueStyle.Render(fmt.Sprintf("%.0f", s.LiveAllocations)) + "\n"
	out += "  " + statLabelStyle.Render("Generation:       ") + statValueStyle.Render(fmt.Sprintf("%.0f", s.Generation)) + "\n"
	out += "  " + statLabelStyle.Render("Bytes threshold:  ") + statValueStyle.Render(fmt.Sprintf("%.0f", s.BytesThreshold)) + "\n"
	out += "  " + statLabelStyle.Render("Calls threshold:  ") + statValueStyle.Render(fmt.Sprintf("%.0f", s.CallsThreshold)) + "\n"
	autoState := "off"
	if s.AutoCollect {
		autoState = "on"
	}
	out += "  " + statLabelStyle.Render("Auto collect:     ") + statValueStyle.Render(autoState) + "\n\n"
	out += "  " + statLabelStyle.Render("Host CPU:         ") + statValueStyle.Render(fmt.Sprintf("%.1f%%", s.CPUPercent)) + "\n"
	out += "  " + statLabelStyle.Render("Host memory:      ") + statValueStyle.Render(fmt.Sprintf("%.1f%% (%.0f/%.0f MB)", s.MemUsedPercent, s.MemTotalMB-s.MemAvailableMB, s.MemTotalMB)) + "\n\n"
	out += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render("live allocations: ") + sparkline(allocSeries(m.samples)) + "\n"
	return out
}

func (m Model) renderHistory() string {
	if len(m.samples) == 0 {
		return lipgloss.NewStyle().Foreground(mutedColor).Render("  No samples recorded yet.")
	}

	header := fmt.Sprintf("  %-12s %12s %10s", "TIME", "LIVE ALLOCS", "GEN")
	rows := lipgloss.NewStyle().Foreground(mutedColor).Render(header) + "\n"

	start := 0
	if len(m.samples) > 20 {
		start = len(m.samples) - 20
	}
	for i := start; i < len(m.samples); i++ {
		s := m.samples[i]
		rows += fmt.Sprintf("  %s %12.0f %10.0f\n",
			timestampStyle.Render(s.Timestamp.Format("15:04:05.000")), s.LiveAllocations, s.Generation)
	}
	return rows
}

// allocSeries extracts the live-allocation series used for the sparkline.
func allocSeries(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.LiveAllocations
	}
	return out
}

var sparkBars = []rune("▁▂▃▄▅▆▇█")

// sparkline renders a bounded-width text sparkline of the tail of series.
func sparkline(series []float64) string {
	if len(series) == 0 {
		return ""
	}
	if len(series) > 60 {
		series = series[len(series)-60:]
	}
	lo, hi := series[0], series[0]
	for _, v := range series {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	var b strings.Builder
	for _, v := range series {
		idx := len(sparkBars) - 1
		if span > 0 {
			idx = int((v - lo) / span * float64(len(sparkBars)-1))
		}
		b.WriteRune(sparkBars[idx])
	}
	return b.String()
}

func (m Model) renderStatusBar() string {
	left := statusBarStyle.Render(fmt.Sprintf("%d samples", len(m.samples)))
	pauseHint := "[P] Pause"
	if m.paused {
		pauseHint = "[P] Resume"
	}
	right := helpStyle.Render(pauseHint + "  [C] Clear  [?] Help  [Q] Quit")
	return left + "    " + right
}

func (m Model) renderHelp() string {
	s := titleStyle.Render(" heapkeeper observe - help ") + "\n\n"
	s += lipgloss.NewStyle().Bold(true).Render("  Tabs:") + "\n"
	s += "  " + keyStyle.Render("1") + keyDescStyle.Render("  Live stats") + "\n"
	s += "  " + keyStyle.Render("2") + keyDescStyle.Render("  Sample history") + "\n"
	s += "\n" + lipgloss.NewStyle().Bold(true).Render("  Actions:") + "\n"
	s += "  " + keyStyle.Render("P") + keyDescStyle.Render("  Pause/resume polling") + "\n"
	s += "  " + keyStyle.Render("C") + keyDescStyle.Render("  Clear sample history") + "\n"
	s += "  " + keyStyle.Render("?/H") + keyDescStyle.Render("  Toggle this help") + "\n"
	s += "  " + keyStyle.Render("Q") + keyDescStyle.Render("  Quit") + "\n"
	s += "\n  " + helpStyle.Render("Press ? or H to close help")
	return s
}

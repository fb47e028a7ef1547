// Package tui is a terminal jog console: pick a channel, jog its target,
// then send every target as one synchronized move.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/cjeanneret/ServoSync/internal/logic/motion"
)

const (
	headerHeight = 2 // title + blank line
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	listWidth    = 30
	pollInterval = 50 * time.Millisecond
)

// Line colors, cycled by channel position.
var palette = []string{"196", "208", "226", "46", "51", "201", "33", "141"}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Reverse(true)
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Mover is what the console needs from motion.Mover.
type Mover interface {
	TryMove(ctx context.Context, targets map[motion.Channel]float64) (motion.Result, error)
	Cancel()
	Busy() bool
	Snapshot() map[motion.Channel]float64
	Channels() []motion.Channel
	HomeAngles() map[motion.Channel]float64
	Range() float64
	StepSize() float64
}

// Model is the bubbletea model of the jog console.
type Model struct {
	ctx      context.Context
	mover    Mover
	chart    *streamlinechart.Model
	channels []motion.Channel
	selected int
	targets  map[motion.Channel]float64
	angles   map[motion.Channel]float64
	jog      float64
	width    int
	height   int
	logs     []string
	quitting bool
}

type snapshotMsg map[motion.Channel]float64

type moveDoneMsg struct {
	result motion.Result
	err    error
}

// New builds the console. Moves run under ctx; jog is the target change
// per left/right key press.
func New(ctx context.Context, mover Mover, jog float64) Model {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(0, mover.Range()),
	)
	channels := mover.Channels()
	for i, ch := range channels {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(palette[i%len(palette)]))
		chart.SetDataSetStyles(dataSet(ch), runes.ThinLineStyle, style)
	}
	angles := mover.Snapshot()
	targets := make(map[motion.Channel]float64, len(angles))
	for ch, a := range angles {
		targets[ch] = a
	}
	return Model{
		ctx:      ctx,
		mover:    mover,
		chart:    &chart,
		channels: channels,
		targets:  targets,
		angles:   angles,
		jog:      jog,
	}
}

// Run starts the console and blocks until the user quits or ctx ends.
func Run(ctx context.Context, mover Mover, jog float64) error {
	p := tea.NewProgram(New(ctx, mover, jog), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func dataSet(ch motion.Channel) string {
	return fmt.Sprintf("ch%d", ch)
}

func (m Model) poll() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return snapshotMsg(m.mover.Snapshot())
	})
}

func (m *Model) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *Model) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - listWidth - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m Model) Init() tea.Cmd {
	return m.poll()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := m.chartSize()
		m.chart.Resize(w, h)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case snapshotMsg:
		if changed(m.angles, msg) {
			for ch, a := range msg {
				m.chart.PushDataSet(dataSet(ch), a)
			}
			m.chart.DrawAll()
		}
		m.angles = msg
		return m, m.poll()

	case moveDoneMsg:
		switch {
		case errors.Is(msg.err, motion.ErrBusy):
			m.addLog("busy: another move is in flight")
		case msg.err != nil:
			m.addLog("error: " + msg.err.Error())
		case msg.result.Cancelled:
			m.addLog(fmt.Sprintf("cancelled after %d/%d ticks", msg.result.Completed, msg.result.Ticks))
		default:
			m.addLog(fmt.Sprintf("move complete (%d ticks)", msg.result.Ticks))
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.mover.Cancel()
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.channels)-1 {
			m.selected++
		}
	case "left":
		m.nudge(-m.jog)
	case "right":
		m.nudge(m.jog)

	case "g", "enter":
		return m, m.submit(m.targets)
	case "h":
		home := m.mover.HomeAngles()
		for ch, a := range home {
			m.targets[ch] = a
		}
		m.addLog("homing")
		return m, m.submit(home)
	case "s":
		m.mover.Cancel()
		m.addLog("stop requested")
	}
	return m, nil
}

func (m *Model) nudge(delta float64) {
	if len(m.channels) == 0 {
		return
	}
	ch := m.channels[m.selected]
	m.targets[ch] = motion.Clamp(m.targets[ch]+delta, 0, m.mover.Range())
}

func (m *Model) submit(targets map[motion.Channel]float64) tea.Cmd {
	if m.mover.Busy() {
		m.addLog("busy: another move is in flight")
		return nil
	}
	cp := make(map[motion.Channel]float64, len(targets))
	for ch, a := range targets {
		cp[ch] = a
	}
	ctx, mover := m.ctx, m.mover
	return func() tea.Msg {
		res, err := mover.TryMove(ctx, cp)
		return moveDoneMsg{result: res, err: err}
	}
}

func changed(prev, next map[motion.Channel]float64) bool {
	if len(prev) != len(next) {
		return true
	}
	for ch, a := range next {
		if p, ok := prev[ch]; !ok || p != a {
			return true
		}
	}
	return false
}

func (m Model) View() string {
	if m.quitting {
		return "Jog console stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("ServoSync"))
	state := "idle"
	if m.mover.Busy() {
		state = "moving"
	}
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  %s  jog %.1f°  step %g°/tick", state, m.jog, m.mover.StepSize())))
	sb.WriteString("\n\n")

	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.renderList(), chartStyle.Render(m.chart.View())))
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240"))
	if m.width > 4 {
		logStyle = logStyle.Width(m.width - 4)
	}
	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("↑/↓ select  ←/→ jog  g move  h home  s stop  q quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m Model) renderList() string {
	var lines []string
	for i, ch := range m.channels {
		color := palette[i%len(palette)]
		mark := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Render("━━")
		line := fmt.Sprintf("%s ch%-2d %6.1f°", mark, ch, m.angles[ch])
		if t := m.targets[ch]; t != m.angles[ch] {
			line += pendingStyle.Render(fmt.Sprintf(" → %.1f°", t))
		}
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return lipgloss.NewStyle().Width(listWidth).Render(strings.Join(lines, "\n"))
}

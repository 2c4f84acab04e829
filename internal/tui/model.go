package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	tea "github.com/charmbracelet/bubbletea"

	"emocall/internal/domain"
)

const (
	keyQuit      = "q"
	keyQuitUpper = "Q"
	keyCtrlC     = "ctrl+c"
	keyEsc       = "esc"
)

const (
	meterWidth     = 24
	recentPoints   = 5
	defaultWidth   = 80
	stopCmdTimeout = 10 * time.Second
)

// Controller is the part of the session controller the view drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Model is the live call view: level meter, current emotion and timeline.
type Model struct {
	controller Controller
	duration   time.Duration

	state     domain.SessionState
	level     domain.AudioLevel
	current   *domain.EmotionEvent
	timeline  []domain.TimelinePoint
	startedAt time.Time

	spinner  spinner.Model
	width    int
	stopping bool
	quitting bool
	errMsg   string
	err      error

	now func() time.Time
}

// New builds the view. A positive duration stops the call automatically.
func New(controller Controller, duration time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		controller: controller,
		duration:   duration,
		state:      domain.SessionStateIdle,
		spinner:    sp,
		width:      defaultWidth,
		now:        time.Now,
	}
}

// Err reports why the call could not be recorded, if it could not.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, startCmd(m.controller)}
	if m.duration > 0 {
		cmds = append(cmds, tea.Tick(m.duration, func(time.Time) tea.Msg {
			return durationElapsedMsg{}
		}))
	}
	return tea.Batch(cmds...)
}

func startCmd(c Controller) tea.Cmd {
	return func() tea.Msg {
		return startedMsg{err: c.Start(context.Background())}
	}
}

func stopCmd(c Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), stopCmdTimeout)
		defer cancel()
		return stoppedMsg{err: c.Stop(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err
			if m.errMsg == "" {
				m.errMsg = msg.err.Error()
			}
			m.quitting = true
			return m, tea.Quit
		}
		m.startedAt = m.now()
		return m, nil

	case durationElapsedMsg:
		return m.beginStop()

	case stoppedMsg:
		if msg.err != nil && m.err == nil {
			m.err = msg.err
			m.errMsg = msg.err.Error()
		}
		m.quitting = true
		return m, tea.Quit

	case StateMsg:
		m.state = msg.State
		return m, nil

	case EmotionMsg:
		event := msg.Event
		m.current = &event
		return m, nil

	case FrameMsg:
		m.level = msg.Frame.Level
		m.timeline = msg.Frame.Timeline
		if msg.Frame.Current != nil {
			m.current = msg.Frame.Current
		}
		return m, nil

	case ErrorMsg:
		m.errMsg = msg.Message
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case keyQuit, keyQuitUpper, keyEsc:
		return m.beginStop()
	case keyCtrlC:
		// A second ctrl+c leaves without waiting for the save.
		if m.stopping {
			m.quitting = true
			return m, tea.Quit
		}
		return m.beginStop()
	}
	return m, nil
}

func (m Model) beginStop() (tea.Model, tea.Cmd) {
	if m.stopping || m.quitting {
		return m, nil
	}
	m.stopping = true
	return m, stopCmd(m.controller)
}

func (m Model) View() string {
	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, dividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, renderLevelMeter("MIC", m.level.RMS))
	sections = append(sections, "")
	sections = append(sections, m.renderCurrent())
	sections = append(sections, "")
	sections = append(sections, m.renderTimeline())
	sections = append(sections, dividerStyle.Render(strings.Repeat("─", m.width)))
	if m.errMsg != "" {
		sections = append(sections, errorStyle.Render("✗ "+m.errMsg))
	}
	if !m.quitting {
		sections = append(sections, m.renderFooter())
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("emocall")

	var dot string
	switch m.state {
	case domain.SessionStateRecording:
		dot = recordingDotStyle.Render("● REC")
		if !m.startedAt.IsZero() {
			dot += statusStyle.Render(" " + formatElapsed(m.now().Sub(m.startedAt)))
		}
	case domain.SessionStateStarting, domain.SessionStateStopping:
		dot = m.spinner.View() + statusStyle.Render(string(m.state))
	default:
		dot = idleDotStyle.Render("○ " + string(m.state))
	}
	if m.stopping && m.state == domain.SessionStateRecording {
		dot += statusStyle.Render("  saving…")
	}
	return title + "  " + dot
}

func (m Model) renderCurrent() string {
	if m.current == nil {
		return statusStyle.Render("Waiting for the first emotion reading…")
	}
	line := "Current: " + emotionStyle(m.current.Emotion).Render(m.current.Emotion) +
		statusStyle.Render(fmt.Sprintf(" %.0f%%", m.current.Confidence*100))
	if s := m.current.Suggestions; s != nil {
		if s.Message != "" {
			line += "\n  " + s.Message
		}
		for _, action := range s.Actions {
			line += "\n  • " + action
		}
	}
	return line
}

func (m Model) renderTimeline() string {
	if len(m.timeline) == 0 {
		return statusStyle.Render("Timeline: no readings yet")
	}

	var strip strings.Builder
	for _, p := range m.timeline {
		strip.WriteString(emotionStyle(p.Emotion).Render("█"))
	}
	lines := []string{"Timeline: " + strip.String()}

	start := max(0, len(m.timeline)-recentPoints)
	for i := len(m.timeline) - 1; i >= start; i-- {
		p := m.timeline[i]
		lines = append(lines, fmt.Sprintf("  %s %s %s",
			statusStyle.Render(time.UnixMilli(p.Timestamp).Format("15:04:05")),
			emotionStyle(p.Emotion).Render(p.Emotion),
			statusStyle.Render(fmt.Sprintf("%.0f%%", p.Confidence*100)),
		))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	return footerKeyStyle.Render("q") + footerDescStyle.Render(" end call  ") +
		footerKeyStyle.Render("ctrl+c ×2") + footerDescStyle.Render(" quit without waiting")
}

func renderLevelMeter(label string, level float64) string {
	filled := int(level * meterWidth)
	filled = min(max(filled, 0), meterWidth)

	var bar strings.Builder
	for i := 0; i < meterWidth; i++ {
		switch {
		case i >= filled:
			bar.WriteString(levelEmptyStyle.Render("░"))
		case float64(i)/meterWidth > 0.6:
			bar.WriteString(levelHighStyle.Render("█"))
		default:
			bar.WriteString(levelLowStyle.Render("█"))
		}
	}
	return statusStyle.Render(label) + " " + bar.String()
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

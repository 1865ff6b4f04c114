// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxEventEntries = 200
	eventLogHeight  = 12
	logSinkBuffer   = 64
)

// Event kinds
const (
	eventCommand = iota
	eventOK
	eventFailure
	eventLog
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type eventEntry struct {
	timestamp time.Time
	message   string
	kind      int
}

// shellModel is the Bubble Tea model for the interactive shell
type shellModel struct {
	ctx  context.Context
	sess *session

	input   textinput.Model
	spinner spinner.Model

	// Command in flight
	busy     bool
	running  string
	cancel   context.CancelFunc
	progress progressMsg

	events []eventEntry

	// Transport failure that ended the session
	err error

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type shellTickMsg time.Time

type replyMsg struct {
	reply Reply
}

type progressMsg struct {
	written uint32
	total   uint32
}

type logLineMsg string

//////////////////////////////////////////////////////////////
// Log routing
//////////////////////////////////////////////////////////////

// logSink is an io.Writer that hands complete log lines to the UI. Lines are
// dropped while the buffer is full.
type logSink struct {
	lines chan string
}

func newLogSink() *logSink {
	return &logSink{lines: make(chan string, logSinkBuffer)}
}

func (l *logSink) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		select {
		case l.lines <- line:
		default:
		}
	}
	return len(p), nil
}

// forward delivers log lines to the program until ctx ends
func (l *logSink) forward(ctx context.Context, p *tea.Program) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-l.lines:
			p.Send(logLineMsg(line))
		}
	}
}

//////////////////////////////////////////////////////////////
// Program
//////////////////////////////////////////////////////////////

func runShellTUI(ctx context.Context, s *session, sink *logSink) error {
	m := initialShellModel(ctx, s)
	p := tea.NewProgram(m, tea.WithAltScreen())

	s.processor.SetProgress(func(written, total uint32) {
		p.Send(progressMsg{written: written, total: total})
	})

	fwdCtx, stop := context.WithCancel(ctx)
	defer stop()
	if sink != nil {
		go sink.forward(fwdCtx, p)
	}

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	if fm, ok := final.(shellModel); ok && fm.err != nil {
		return &exitError{code: 2, err: fm.err}
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialShellModel(ctx context.Context, s *session) shellModel {
	ti := textinput.New()
	ti.Placeholder = "start"
	ti.Prompt = "> "
	ti.CharLimit = 256
	ti.Width = 60
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	return shellModel{
		ctx:     ctx,
		sess:    s,
		input:   ti,
		spinner: sp,
		events:  make([]eventEntry, 0),
		width:   80,
		height:  24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m shellModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, shellTickCmd())
}

func shellTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return shellTickMsg(t)
	})
}

func (m shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit

		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-8, 10)

	case shellTickMsg:
		// Redraw so the statistics bar stays current
		return m, shellTickCmd()

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		m.progress = msg
		return m, nil

	case logLineMsg:
		m.addEvent(string(msg), eventLog)
		return m, nil

	case replyMsg:
		m.busy = false
		m.running = ""
		m.cancel = nil
		if msg.reply.Text != "" {
			kind := eventFailure
			if msg.reply.OK {
				kind = eventOK
			}
			m.addEvent(msg.reply.Text, kind)
		}
		if msg.reply.Done {
			m.err = msg.reply.Err
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}

	if m.busy {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit runs the typed line on the processor in the background
func (m shellModel) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	m.input.Reset()
	m.addEvent("> "+line, eventCommand)

	ctx, cancel := context.WithCancel(m.ctx)
	m.busy = true
	m.running = strings.TrimSpace(line)
	m.cancel = cancel
	m.progress = progressMsg{}

	p := m.sess.processor
	run := func() tea.Msg {
		defer cancel()
		return replyMsg{reply: p.Execute(ctx, line)}
	}
	return m, tea.Batch(m.spinner.Tick, run)
}

func (m shellModel) View() string {
	if m.quitting {
		return "Closing session...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("SMPCTL SHELL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | Enter=run Esc=quit", m.sess.connInfo)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(shellHelp))
	s.WriteString("\n\n")

	s.WriteString(m.renderSessionBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, headerStyle, statsValueStyle, errorStyle, warningStyle, boxStyle))
	s.WriteString("\n")

	// Prompt or activity line
	if m.busy {
		s.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), warningStyle.Render(m.running)))
		if m.progress.total > 0 {
			s.WriteString("  ")
			s.WriteString(statsValueStyle.Render(formatProgress(m.progress.written, m.progress.total)))
		}
	} else {
		s.WriteString(m.input.View())
	}
	s.WriteString("\n")

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m shellModel) renderSessionBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	ch := m.sess.processor.Channel()

	values := "-"
	if sess, ok := ch.Session(); ok {
		values = sess.String()
	}

	snap := m.sess.stats.Snapshot()
	var errCount uint64
	for _, n := range snap.LocalErrors {
		errCount += n
	}
	errText := statsValueStyle.Render("0")
	if errCount > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%d", errCount))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("State:"), statsValueStyle.Render(ch.State().String()),
		statsLabelStyle.Render("Values:"), statsValueStyle.Render(values),
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", snap.FramesSent, snap.FramesReceived)),
		statsLabelStyle.Render("Errors:"), errText,
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f B/s", snap.ByteRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m shellModel) renderEventLog(statsLabelStyle, headerStyle, successStyle, errorStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	height := eventLogHeight
	if m.height > 0 {
		// Header, session bar and prompt take about ten lines
		height = max(m.height-12, 3)
	}
	start := max(len(m.events)-height, 0)

	if len(m.events) == 0 {
		s.WriteString(headerStyle.Render("  (type start to open a session)"))
	}
	for _, entry := range m.events[start:] {
		timestamp := entry.timestamp.Format("15:04:05.000")
		var line string
		switch entry.kind {
		case eventCommand:
			line = statsLabelStyle.Render(entry.message)
		case eventOK:
			line = successStyle.Render(entry.message)
		case eventFailure:
			line = errorStyle.Render(entry.message)
		default:
			line = warningStyle.Render(entry.message)
		}
		s.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), line))
	}

	return boxStyle.Width(m.width - 4).Render(strings.TrimRight(s.String(), "\n"))
}

func (m *shellModel) addEvent(message string, kind int) {
	m.events = append(m.events, eventEntry{
		timestamp: time.Now(),
		message:   message,
		kind:      kind,
	})

	if len(m.events) > maxEventEntries {
		m.events = m.events[len(m.events)-maxEventEntries:]
	}
}

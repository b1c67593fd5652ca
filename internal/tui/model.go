package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	bprogress "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agbru/primecount/internal/format"
	"github.com/agbru/primecount/internal/orchestration"
)

// StatusFetcher reads a job's status. *client.Client implements it.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (orchestration.JobStatus, error)
}

// statusMsg carries the result of one poll.
type statusMsg struct {
	status orchestration.JobStatus
	err    error
}

// pollMsg asks for the next poll.
type pollMsg struct{}

const (
	rateSamples = 40
	minBarWidth = 10
	maxBarWidth = 60
)

// Model is the bubbletea model of the watch dashboard: one job, its chunk
// progress, a sparkline of chunks finished per poll and the final result.
type Model struct {
	ctx      context.Context
	fetcher  StatusFetcher
	jobID    string
	interval time.Duration
	version  string
	keymap   KeyMap
	bar      bprogress.Model
	rate     *RingBuffer

	status        orchestration.JobStatus
	err           error
	lastCompleted int
	started       time.Time
	ended         time.Time
	width         int
	paused        bool
	done          bool
	now           func() time.Time
}

// NewModel returns a dashboard polling jobID every interval.
func NewModel(ctx context.Context, fetcher StatusFetcher, jobID string, interval time.Duration, version string) Model {
	return Model{
		ctx:      ctx,
		fetcher:  fetcher,
		jobID:    jobID,
		interval: interval,
		version:  version,
		keymap:   DefaultKeyMap(),
		bar:      bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(40)),
		rate:     NewRingBuffer(rateSamples),
		status:   orchestration.JobStatus{JobID: jobID, State: orchestration.JobPending},
		started:  time.Now(),
		now:      time.Now,
	}
}

// Status returns the last status received.
func (m Model) Status() orchestration.JobStatus { return m.status }

// Init starts the first poll.
func (m Model) Init() tea.Cmd {
	return m.fetchCmd()
}

func (m Model) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		st, err := m.fetcher.Status(m.ctx, m.jobID)
		return statusMsg{status: st, err: err}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Pause):
			m.paused = !m.paused
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(minBarWidth, min(msg.Width-16, maxBarWidth))
		return m, nil

	case statusMsg:
		if msg.err != nil {
			// Transient: keep the last status and try again.
			m.err = msg.err
			return m, m.tickCmd()
		}
		m.err = nil
		m.record(msg.status)
		if m.status.State.Terminal() {
			m.done = true
			m.ended = m.now()
			return m, nil
		}
		return m, m.tickCmd()

	case pollMsg:
		if m.done {
			return m, nil
		}
		if m.paused {
			return m, m.tickCmd()
		}
		return m, m.fetchCmd()
	}
	return m, nil
}

func (m *Model) record(st orchestration.JobStatus) {
	if st.Progress != nil {
		m.rate.Push(float64(max(st.Progress.Completed-m.lastCompleted, 0)))
		m.lastCompleted = st.Progress.Completed
	}
	m.status = st
}

func (m Model) elapsed() time.Duration {
	if !m.ended.IsZero() {
		return m.ended.Sub(m.started)
	}
	return m.now().Sub(m.started)
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder

	title := "primecount watch"
	if m.version != "" && m.version != "dev" {
		title += " " + m.version
	}
	fmt.Fprintf(&b, "%s %s %s\n\n", titleStyle.Render(title), labelStyle.Render("job"), valueStyle.Render(m.jobID))

	fmt.Fprintf(&b, "%s %s   %s %s\n", labelStyle.Render("State:"), m.stateView(),
		labelStyle.Render("Elapsed:"), valueStyle.Render(format.FormatExecutionDuration(m.elapsed().Round(time.Millisecond))))

	if p := m.status.Progress; p != nil {
		eta := format.EstimateETA(p.Fraction(), m.elapsed())
		if m.done {
			eta = 0
		}
		fmt.Fprintf(&b, "\n%s\n", m.bar.ViewAs(p.Fraction()))
		fmt.Fprintf(&b, "%s %s   %s %s\n", labelStyle.Render("Chunks:"),
			valueStyle.Render(fmt.Sprintf("%d/%d", p.Completed, p.Total)),
			labelStyle.Render("ETA:"), valueStyle.Render(format.FormatETA(eta)))
	}
	if m.rate.Len() > 0 {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Rate:  "), sparklineStyle.Render(RenderSparkline(m.rate.Slice())))
	}

	if r := m.status.Result; r != nil {
		fmt.Fprintf(&b, "\n%s %s primes in %s over %d chunks\n", successStyle.Render("✓"),
			valueStyle.Render(format.FormatNumber(r.PrimeCount)), format.FormatSeconds(r.DurationSec), r.ChunksProcessed)
	}
	if m.status.Error != "" {
		fmt.Fprintf(&b, "\n%s %s\n", errorStyle.Render("✗"), m.status.Error)
	}
	if m.err != nil {
		fmt.Fprintf(&b, "\n%s %v\n", errorStyle.Render("poll failed:"), m.err)
	}

	b.WriteString("\n" + m.footerView())
	return panelStyle.Render(b.String())
}

func (m Model) stateView() string {
	s := string(m.status.State)
	switch {
	case m.status.State == orchestration.JobSuccess:
		return successStyle.Render(s)
	case m.status.State == orchestration.JobFailure:
		return errorStyle.Render(s)
	case m.paused:
		return valueStyle.Render(s + " (paused)")
	default:
		return valueStyle.Render(s)
	}
}

func (m Model) footerView() string {
	parts := []string{
		footerKeyStyle.Render(m.keymap.Quit.Help().Key) + " " + footerDescStyle.Render(m.keymap.Quit.Help().Desc),
	}
	if !m.done {
		parts = append(parts, footerKeyStyle.Render(m.keymap.Pause.Help().Key)+" "+footerDescStyle.Render(m.keymap.Pause.Help().Desc))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, strings.Join(parts, "  "))
}

// Run shows the dashboard until the user quits or ctx ends and returns the
// last status seen.
func Run(ctx context.Context, fetcher StatusFetcher, jobID string, interval time.Duration, version string) (orchestration.JobStatus, error) {
	initStyles()

	model := NewModel(ctx, fetcher, jobID, interval, version)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	final, err := p.Run()
	if m, ok := final.(Model); ok {
		model = m
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return model.Status(), err
	}
	if err != nil {
		return model.Status(), ctx.Err()
	}
	return model.Status(), nil
}

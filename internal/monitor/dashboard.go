// Package monitor renders a live terminal dashboard of a running nudged
// daemon: intake rate, admission filter rate, per-stage activity and the
// next reminders due.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	httpapi "github.com/fyrsmithlabs/nudged/internal/http"
	"github.com/fyrsmithlabs/nudged/internal/pipeline"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	upcomingLimit   = 5
)

// Source is the part of the API the dashboard polls.
type Source interface {
	Stats(ctx context.Context) (httpapi.StatsResponse, error)
	Agents(ctx context.Context) ([]pipeline.AgentStatus, error)
	Reminders(ctx context.Context, statuses ...reminder.Status) ([]reminder.Reminder, error)
}

// Snapshot is one poll of the daemon.
type Snapshot struct {
	Stats    httpapi.StatsResponse
	Agents   []pipeline.AgentStatus
	Upcoming []reminder.Reminder
	At       time.Time
}

// Model represents the BubbleTea dashboard model
type Model struct {
	source   Source
	label    string
	interval time.Duration
	now      func() time.Time

	snap        Snapshot
	have        bool
	rate        float64
	rateHistory []float64
	openHistory []float64
	err         error
	quitting    bool

	filterProgress progress.Model
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling source every interval. label names
// the daemon in the header, usually its URL.
func NewModel(source Source, label string, interval time.Duration) Model {
	return Model{
		source:   source,
		label:    label,
		interval: interval,
		now:      time.Now,
		filterProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(40),
		),
	}
}

func priorityBadge(r reminder.Reminder) string {
	switch {
	case r.Type == reminder.TypeUrgent || r.Status == reminder.StatusEscalated:
		return errorStyle.Render("[!]")
	case r.Priority >= activity.PriorityHigh:
		return warningStyle.Render("[^]")
	}
	return healthyStyle.Render("[ ]")
}

func agentBadge(a pipeline.AgentStatus) string {
	switch {
	case a.Errors > 0:
		return warningStyle.Render("⚠")
	case a.Active:
		return healthyStyle.Render("●")
	}
	return dimStyle.Render("○")
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg struct{ err error }

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), m.fetch())
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetch() tea.Cmd {
	source, now := m.source, m.now
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		stats, err := source.Stats(ctx)
		if err != nil {
			return errMsg{err}
		}
		agents, err := source.Agents(ctx)
		if err != nil {
			return errMsg{err}
		}
		open, err := source.Reminders(ctx, reminder.StatusActive, reminder.StatusSnoozed)
		if err != nil {
			return errMsg{err}
		}
		sort.Slice(open, func(i, j int) bool { return open[i].ScheduledTime.Before(open[j].ScheduledTime) })
		if len(open) > upcomingLimit {
			open = open[:upcomingLimit]
		}
		return snapshotMsg{Stats: stats, Agents: agents, Upcoming: open, At: now()}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), m.fetch())

	case snapshotMsg:
		snap := Snapshot(msg)
		if m.have {
			if elapsed := snap.At.Sub(m.snap.At); elapsed > 0 {
				delta := snap.Stats.TotalItemsProcessed - m.snap.Stats.TotalItemsProcessed
				m.rate = float64(delta) / elapsed.Minutes()
				m.rateHistory = appendToHistory(m.rateHistory, m.rate)
			}
		}
		m.openHistory = appendToHistory(m.openHistory, float64(snap.Stats.ActiveTasks))
		m.snap = snap
		m.have = true
		m.err = nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" nudged Monitor ") + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach nudged") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.label) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the daemon with `nudged` or pass --server.") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")
	return containerStyle.Render(b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder
	st := m.snap.Stats

	updated := "Never"
	if m.have {
		updated = m.snap.At.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" nudged Monitor ") + "\n")
	b.WriteString(dimStyle.Render(m.label) + "   " + dimStyle.Render(updated) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Intake") + "\n")
	b.WriteString(labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(m.rate)) + "   " +
		createSparkline(m.rateHistory) + "\n")
	b.WriteString(labelStyle.Render("  Items: ") +
		valueStyle.Render(fmt.Sprintf("%d", st.TotalItemsProcessed)) +
		dimStyle.Render(fmt.Sprintf("  passed %d  filtered %d", st.ItemsPassed, st.ItemsFiltered)) + "\n")
	b.WriteString(labelStyle.Render("  Filtered: ") +
		m.filterProgress.ViewAs(clamp01(st.FilterRate)) + " " +
		dimStyle.Render(FormatPercentage(st.FilterRate)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Reminders") + "\n")
	b.WriteString(labelStyle.Render("  Open: ") +
		valueStyle.Render(fmt.Sprintf("%d", st.ActiveTasks)) + "   " +
		createSparkline(m.openHistory) + "\n")
	overdue := valueStyle.Render(fmt.Sprintf("%d", st.OverdueTasks))
	if st.OverdueTasks > 0 {
		overdue = errorStyle.Render(fmt.Sprintf("%d", st.OverdueTasks))
	}
	b.WriteString(labelStyle.Render("  Urgent: ") + valueStyle.Render(fmt.Sprintf("%d", st.UrgentTasks)) +
		labelStyle.Render("  Overdue: ") + overdue +
		labelStyle.Render("  Done: ") + valueStyle.Render(fmt.Sprintf("%d", st.CompletedTasks)) + "\n")

	now := m.now()
	if len(m.snap.Upcoming) == 0 {
		b.WriteString(dimStyle.Render("  nothing scheduled") + "\n")
	}
	for _, r := range m.snap.Upcoming {
		b.WriteString("  " + priorityBadge(r) + " " +
			valueStyle.Render(truncate(r.Description, 48)) + " " +
			dimStyle.Render(FormatDue(now, r.ScheduledTime)) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Agents") + "\n")
	for _, a := range m.snap.Agents {
		line := fmt.Sprintf("%-12s", a.Name)
		b.WriteString("  " + agentBadge(a) + " " + labelStyle.Render(line) +
			valueStyle.Render(fmt.Sprintf("%6d", a.Processed)) +
			dimStyle.Render(fmt.Sprintf("  errors %d", a.Errors)) + "\n")
	}

	b.WriteString("\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval)))

	return containerStyle.Render(b.String())
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run starts the dashboard full screen and blocks until the user quits.
func Run(source Source, label string, interval time.Duration) error {
	_, err := tea.NewProgram(NewModel(source, label, interval), tea.WithAltScreen()).Run()
	return err
}

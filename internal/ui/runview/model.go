// Package runview renders live extraction progress in the terminal.
package runview

import (
	"context"
	"fmt"
	"sort"
	"strings"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailtasks/internal/pipeline"
	"github.com/nhle/mailtasks/internal/progress"
	"github.com/nhle/mailtasks/internal/theme"
)

// EventMsg carries one progress event into the program.
type EventMsg progress.Event

// DoneMsg ends the program with the run's outcome.
type DoneMsg struct {
	Outcomes []pipeline.AccountOutcome
	Total    pipeline.Summary
	Err      error
}

// RunFunc performs the extraction, reporting through sinkFor.
type RunFunc func(
	ctx context.Context,
	sinkFor func(accountID string) progress.Sink,
) ([]pipeline.AccountOutcome, pipeline.Summary, error)

const maxLogLines = 6

type accountState struct {
	id      string
	status  string
	current int
	total   int
	batch   int
	batches int
	created int
	err     string
	done    bool
}

// Model is the progress view.
type Model struct {
	title    string
	accounts map[string]*accountState
	log      []string
	bar      bprogress.Model
	spinner  spinner.Model
	cancel   context.CancelFunc
	stopping bool
	done     *DoneMsg
	width    int
}

// New creates a progress view. cancel is called when the user quits
// before the run finishes.
func New(title string, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	bar := bprogress.New(bprogress.WithDefaultGradient())
	bar.Width = 40

	return Model{
		title:    title,
		accounts: make(map[string]*accountState),
		bar:      bar,
		spinner:  s,
		cancel:   cancel,
		width:    80,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update applies events, key presses and the final result.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(min(msg.Width-30, 60), 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.done != nil {
				return m, tea.Quit
			}
			if !m.stopping && m.cancel != nil {
				m.stopping = true
				m.cancel()
			}
		}
		return m, nil

	case EventMsg:
		m.apply(progress.Event(msg))
		return m, nil

	case DoneMsg:
		m.done = &msg
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(e progress.Event) {
	st, ok := m.accounts[e.AccountID]
	if !ok {
		st = &accountState{id: e.AccountID}
		m.accounts[e.AccountID] = st
	}

	switch e.Kind {
	case progress.KindStart:
		st.status = "starting"
	case progress.KindProgress:
		st.total = e.Total
		st.status = e.Message
	case progress.KindBatch:
		st.batch, st.batches = e.BatchIndex, e.TotalBatches
		st.current, st.total = e.Current, e.Total
		st.status = e.Message
	case progress.KindMessage:
		st.current, st.total = e.Current, e.Total
	case progress.KindTaskCreated:
		st.created = e.CreatedCount
		m.addLog(fmt.Sprintf("%s: %s", label(st.id), e.TaskTitle))
	case progress.KindComplete:
		st.done = true
		st.current = st.total
		st.created = e.Created
		st.status = e.Message
	case progress.KindError:
		st.done = true
		st.err = e.Error
	}
}

func (m *Model) addLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// View renders one row per account, recent tasks, and the summary once
// the run ends.
func (m Model) View() string {
	var b strings.Builder

	header := theme.HeaderStyle.Render(m.title)
	if m.done == nil {
		header = m.spinner.View() + " " + header
	}
	b.WriteString(header + "\n\n")

	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) == 0 && m.done == nil {
		b.WriteString(theme.HelpStyle.Render("Checking accounts...") + "\n")
	}
	for _, id := range ids {
		b.WriteString(m.renderAccount(m.accounts[id]) + "\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n" + lipgloss.NewStyle().Bold(true).Render("Recent tasks") + "\n")
		for _, line := range m.log {
			b.WriteString("  • " + line + "\n")
		}
	}

	b.WriteString("\n")
	switch {
	case m.done != nil:
		b.WriteString(m.renderSummary() + "\n")
	case m.stopping:
		b.WriteString(theme.HelpStyle.Render("Stopping after the current batch...") + "\n")
	default:
		b.WriteString(theme.HelpStyle.Render("q: stop") + "\n")
	}
	return b.String()
}

func (m Model) renderAccount(st *accountState) string {
	name := lipgloss.NewStyle().Bold(true).Width(16).Render(label(st.id))

	if st.err != "" {
		return name + " " + theme.ErrorStyle.Render("✗ "+st.err)
	}

	percent := 0.0
	if st.total > 0 {
		percent = float64(st.current) / float64(st.total)
	}

	counts := fmt.Sprintf("%d/%d", st.current, st.total)
	if st.batches > 0 {
		counts += fmt.Sprintf("  batch %d/%d", st.batch, st.batches)
	}
	counts += fmt.Sprintf("  %d tasks", st.created)

	mark := ""
	if st.done {
		mark = theme.SuccessStyle.Render(" ✓")
	}
	return name + " " + m.bar.ViewAs(percent) + " " + theme.DimmedStyle.Render(counts) + mark
}

func (m Model) renderSummary() string {
	if m.done.Err != nil {
		return theme.ErrorStyle.Render("Run failed: " + m.done.Err.Error())
	}

	failed := 0
	for _, o := range m.done.Outcomes {
		if o.Err != nil {
			failed++
		}
	}

	t := m.done.Total
	line := fmt.Sprintf("Processed %d messages, extracted %d tasks, created %d.",
		t.Processed, t.Extracted, t.Created)
	if t.Processed == 0 && failed == 0 {
		line = "No new messages."
	}
	if failed > 0 {
		return theme.ErrorStyle.Render(fmt.Sprintf("%s %d account(s) failed.", line, failed))
	}
	return theme.SuccessStyle.Render(line)
}

func label(id string) string {
	if id == "" {
		return "run"
	}
	return id
}

// Run drives fn under a progress view and returns its result once the
// program exits. Quitting early cancels fn's context.
func Run(ctx context.Context, title string, fn RunFunc) ([]pipeline.AccountOutcome, pipeline.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(New(title, cancel))
	result := make(chan DoneMsg, 1)

	go func() {
		outcomes, total, err := fn(ctx, func(accountID string) progress.Sink {
			return progress.WithAccount(accountID, Sink(program))
		})
		done := DoneMsg{Outcomes: outcomes, Total: total, Err: err}
		result <- done
		program.Send(done)
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-result
		return nil, pipeline.Summary{}, fmt.Errorf("running progress view: %w", err)
	}

	done := <-result
	return done.Outcomes, done.Total, done.Err
}

// Sink forwards events to a running program.
func Sink(p *tea.Program) progress.Sink {
	return progress.SinkFunc(func(e progress.Event) {
		p.Send(EventMsg(e))
	})
}

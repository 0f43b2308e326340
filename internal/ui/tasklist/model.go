package tasklist

import (
	"context"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailtasks/internal/keys"
	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/store"
	"github.com/nhle/mailtasks/internal/theme"
)

// TaskLister loads tasks for the list.
type TaskLister interface {
	GetTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
}

// TasksLoadedMsg is sent when tasks have been loaded from the store.
type TasksLoadedMsg struct {
	Tasks []model.Task
	Err   error
}

// SelectedTaskMsg is sent when a user selects a task to view details.
type SelectedTaskMsg struct {
	Task model.Task
}

// sortModes defines the available sort modes cycled by Tab.
var sortModes = []string{
	"received_at",
	"priority",
	"due_date",
	"title",
	"created_at",
}

// priorityModes is the cycle for the priority filter; the empty entry
// shows every priority.
var priorityModes = []model.Priority{
	"",
	model.PriorityUrgent,
	model.PriorityHigh,
	model.PriorityMedium,
	model.PriorityLow,
}

// Model is the main task list view component.
type Model struct {
	list          list.Model
	store         TaskLister
	keys          *keys.KeyMap
	filter        store.TaskFilter
	sortIndex     int
	priorityIndex int
	searchMode    bool
	searchInput   textinput.Model
	loadErr       error
	width         int
	height        int
}

// New creates a new task list model. filter seeds the query, for example
// with an account.
func New(s TaskLister, k *keys.KeyMap, filter store.TaskFilter, width, height int) Model {
	l := list.New([]list.Item{}, TaskDelegate{}, width, height-2)
	l.Title = "Tasks"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search tasks..."
	si.Prompt = "/ "
	si.Width = width - 4

	if filter.SortBy == "" {
		filter.SortBy = sortModes[0]
		filter.SortDesc = true
	}

	return Model{
		list:        l,
		store:       s,
		keys:        k,
		filter:      filter,
		searchInput: si,
		width:       width,
		height:      height,
	}
}

// Init returns a command that loads the initial set of tasks.
func (m Model) Init() tea.Cmd {
	return m.LoadTasks()
}

// Update handles messages for the task list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case TasksLoadedMsg:
		m.loadErr = msg.Err
		items := make([]list.Item, len(msg.Tasks))
		for i, task := range msg.Tasks {
			items[i] = TaskItem{Task: task}
		}
		cmd := m.list.SetItems(items)
		return m, cmd

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}

// Len returns the number of loaded tasks.
func (m Model) Len() int {
	return len(m.list.Items())
}

// handleSearchKeys processes key input while in search mode.
func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		query := m.searchInput.Value()
		if query != "" {
			m.filter.Query = &query
		} else {
			m.filter.Query = nil
		}
		return m, m.LoadTasks()

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.filter.Query = nil
		return m, m.LoadTasks()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

// handleNormalKeys processes key input in normal (non-search) mode.
func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		item, ok := m.list.SelectedItem().(TaskItem)
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedTaskMsg{Task: item.Task}
		}

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.Reset()
		return m, m.searchInput.Focus()

	case key.Matches(msg, m.keys.Refresh):
		return m, m.LoadTasks()

	case key.Matches(msg, m.keys.CyclePriority):
		m.priorityIndex = (m.priorityIndex + 1) % len(priorityModes)
		if p := priorityModes[m.priorityIndex]; p != "" {
			m.filter.Priority = &p
		} else {
			m.filter.Priority = nil
		}
		return m, m.LoadTasks()

	case key.Matches(msg, m.keys.CycleSort):
		m.sortIndex = (m.sortIndex + 1) % len(sortModes)
		m.filter.SortBy = sortModes[m.sortIndex]
		// Titles read best A to Z; everything else newest or highest first.
		m.filter.SortDesc = m.filter.SortBy != "title"
		return m, m.LoadTasks()
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the task list view.
func (m Model) View() string {
	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, m.list.View())
	}

	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return m.list.View()
}

// renderEmptyState shows guidance text when no tasks are available.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	switch {
	case m.loadErr != nil:
		return style.Foreground(theme.ColorRed).Render("Could not load tasks:\n" + m.loadErr.Error())
	case m.filter.Priority != nil || m.filter.Query != nil:
		return style.Render("No matching tasks.\nTry adjusting your filters.")
	default:
		return style.Render("No tasks yet.\n\nRun `mailtasks run` to extract tasks from your mail.")
	}
}

// LoadTasks returns a tea.Cmd that queries the store with the current filter.
func (m Model) LoadTasks() tea.Cmd {
	filter := m.filter
	s := m.store
	return func() tea.Msg {
		tasks, err := s.GetTasks(context.Background(), filter)
		return TasksLoadedMsg{Tasks: tasks, Err: err}
	}
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}

// Package app is the root Bubble Tea model for browsing extracted tasks.
package app

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailtasks/internal/keys"
	"github.com/nhle/mailtasks/internal/store"
	"github.com/nhle/mailtasks/internal/ui"
	"github.com/nhle/mailtasks/internal/ui/detail"
	helpview "github.com/nhle/mailtasks/internal/ui/help"
	"github.com/nhle/mailtasks/internal/ui/tasklist"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
	ViewHelp
)

// Model is the root Bubble Tea model that manages view routing and
// layout.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	taskList     tasklist.Model
	detail       detail.Model
	helpView     helpview.Model
	title        string
	ready        bool
}

// New creates the root model. filter scopes the task list.
func New(s tasklist.TaskLister, filter store.TaskFilter, title string) Model {
	k := keys.DefaultKeyMap()
	if title == "" {
		title = "mailtasks"
	}
	return Model{
		currentView: ViewList,
		keys:        k,
		taskList:    tasklist.New(s, k, filter, 80, 24),
		detail:      detail.New(k, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		title:       title,
	}
}

// Init loads the task list.
func (m Model) Init() tea.Cmd {
	return m.taskList.Init()
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.taskList.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.helpView.SetSize(w, h)
		return m, nil

	case tasklist.SelectedTaskMsg:
		m.previousView = m.currentView
		m.currentView = ViewDetail
		m.detail.SetTask(msg.Task)
		return m, nil

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case tea.KeyMsg:
		if m.currentView == ViewList && m.taskList.Searching() {
			break
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
			} else {
				m.previousView = m.currentView
				m.currentView = ViewHelp
			}
			return m, nil
		case m.currentView == ViewHelp && key.Matches(msg, m.keys.Back):
			m.currentView = m.previousView
			return m, nil
		}
	}

	return m.updateActiveView(msg)
}

func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.currentView {
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	default:
		m.taskList, cmd = m.taskList.Update(msg)
	}

	// Task loads can land while another view is showing.
	if _, ok := msg.(tasklist.TasksLoadedMsg); ok && m.currentView != ViewList {
		m.taskList, cmd = m.taskList.Update(msg)
	}
	return m, cmd
}

// View renders the header, the active view and the key hints.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(m.title, fmt.Sprintf("%d tasks", m.taskList.Len()))
	statusBar := m.layout.RenderStatusBar(m.keyHints())
	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

func (m Model) renderContent() string {
	switch m.currentView {
	case ViewDetail:
		return m.detail.View()
	case ViewHelp:
		return m.helpView.View()
	default:
		return m.taskList.View()
	}
}

func (m Model) keyHints() string {
	switch m.currentView {
	case ViewDetail:
		return "esc: back  j/k: scroll  q: quit"
	case ViewHelp:
		return "?/esc: close help"
	default:
		return "enter: open  /: search  p: priority  tab: sort  r: reload  ?: help  q: quit"
	}
}

package app

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/store"
)

type fakeLister struct {
	tasks  []model.Task
	filter store.TaskFilter
}

func (f *fakeLister) GetTasks(_ context.Context, filter store.TaskFilter) ([]model.Task, error) {
	f.filter = filter
	return f.tasks, nil
}

func run(m tea.Model, msg tea.Msg) tea.Model {
	m, cmd := m.Update(msg)
	// Resolve one level of commands, enough for loads and selections.
	if cmd != nil {
		if next := cmd(); next != nil {
			if _, ok := next.(tea.BatchMsg); !ok {
				m, _ = m.Update(next)
			}
		}
	}
	return m
}

func TestBrowseListDetailAndBack(t *testing.T) {
	lister := &fakeLister{tasks: []model.Task{{
		ID:          "t1",
		Title:       "Renew passport",
		Description: "Appointment before June",
		Priority:    model.PriorityHigh,
		Status:      model.TaskStatusOpen,
		Sender:      "Registry <no-reply@gov.example>",
		ReceivedAt:  time.Now().Add(-2 * time.Hour),
	}}}

	m := tea.Model(New(lister, store.TaskFilter{}, ""))
	m = run(m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = run(m, m.Init()())

	if !strings.Contains(m.View(), "Renew passport") || !strings.Contains(m.View(), "1 tasks") {
		t.Fatalf("expected the task in the list:\n%s", m.View())
	}
	if lister.filter.SortBy != "received_at" || !lister.filter.SortDesc {
		t.Fatalf("expected newest-first default sort, got %+v", lister.filter)
	}

	m = run(m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.(Model).currentView != ViewDetail {
		t.Fatal("expected detail view after enter")
	}
	if !strings.Contains(m.View(), "Appointment before June") {
		t.Fatalf("expected description in detail view:\n%s", m.View())
	}

	m = run(m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.(Model).currentView != ViewList {
		t.Fatal("expected list view after esc")
	}
}

func TestHelpToggle(t *testing.T) {
	m := tea.Model(New(&fakeLister{}, store.TaskFilter{}, ""))
	m = run(m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m = run(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	if m.(Model).currentView != ViewHelp {
		t.Fatal("expected help view")
	}
	if !strings.Contains(m.View(), "Keyboard Shortcuts") {
		t.Fatalf("expected help content:\n%s", m.View())
	}
	m = run(m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.(Model).currentView != ViewList {
		t.Fatal("expected esc to close help")
	}
}

func TestPriorityFilterCycles(t *testing.T) {
	lister := &fakeLister{}
	m := tea.Model(New(lister, store.TaskFilter{}, ""))
	m = run(m, tea.WindowSizeMsg{Width: 100, Height: 30})

	run(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	if lister.filter.Priority == nil || *lister.filter.Priority != model.PriorityUrgent {
		t.Fatalf("expected urgent filter, got %+v", lister.filter.Priority)
	}
}

package tasklist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/mailtasks/internal/model"
	"github.com/nhle/mailtasks/internal/theme"
)

// TaskItem wraps a model.Task so it can be used in a bubbles/list.
type TaskItem struct {
	Task model.Task
}

// FilterValue returns the string used for fuzzy filtering.
func (i TaskItem) FilterValue() string { return i.Task.Title }

// Title returns the task title for the list.
func (i TaskItem) Title() string { return i.Task.Title }

// Description returns a short summary line for the list.
func (i TaskItem) Description() string {
	parts := []string{
		string(i.Task.Priority),
		i.Task.Sender,
		RelativeTime(i.Task.ReceivedAt),
	}
	return strings.Join(parts, " | ")
}

// IsOverdue reports whether the task has a due date in the past and is
// still open.
func (i TaskItem) IsOverdue(now time.Time) bool {
	return i.Task.DueDate != nil &&
		i.Task.Status != model.TaskStatusDone &&
		i.Task.DueDate.Before(now)
}

// TaskDelegate implements list.ItemDelegate for rendering task lines.
type TaskDelegate struct{}

// Height returns the number of lines each item takes.
func (d TaskDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d TaskDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused for now).
func (d TaskDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single list item line.
func (d TaskDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ti, ok := item.(TaskItem)
	if !ok {
		return
	}
	fmt.Fprint(w, renderLine(ti, index == m.Index(), time.Now()))
}

func renderLine(ti TaskItem, selected bool, now time.Time) string {
	task := ti.Task

	prefix := "○"
	if task.Status == model.TaskStatusDone {
		prefix = "✓"
	}

	priBadge := theme.PriorityStyle(task.Priority).Render(PriorityLabel(task.Priority))

	due := ""
	if task.DueDate != nil {
		due = theme.DueDateStyle.Render(" " + task.DueDate.Format("Jan 02"))
	}

	overdue := ""
	if ti.IsOverdue(now) {
		overdue = theme.OverdueStyle.Render(" OVERDUE")
	}

	from := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(senderName(task.Sender) + ", " + RelativeTime(task.ReceivedAt))

	line := fmt.Sprintf("%s %s %s%s%s  %s", prefix, priBadge, task.Title, due, overdue, from)

	if task.Status == model.TaskStatusDone {
		line = theme.DimmedStyle.Render(line)
	}
	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// RelativeTime returns a human-friendly relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

// PriorityLabel returns a short label for the given priority.
func PriorityLabel(p model.Priority) string {
	switch p {
	case model.PriorityUrgent:
		return "P1"
	case model.PriorityHigh:
		return "P2"
	case model.PriorityMedium:
		return "P3"
	case model.PriorityLow:
		return "P4"
	default:
		return "P?"
	}
}

// senderName trims "Name <addr>" down to the display name.
func senderName(from string) string {
	if i := strings.Index(from, "<"); i > 0 {
		return strings.TrimSpace(from[:i])
	}
	return from
}

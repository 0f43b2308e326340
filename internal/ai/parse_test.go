package ai

import (
	"strings"
	"testing"
)

func TestParseResultObject(t *testing.T) {
	raw := "Here is what I found:\n```json\n" + `{
		"tasks": [
			{"title": "Send Q3 report", "description": "Finance asked for it", "priority": "HIGH", "due_date": "2024-10-04"},
			{"title": "", "priority": "LOW"},
			{"title": "Book flights", "priority": ["URGENT", "LOW"], "dueDate": "2024-11-01"},
		],
		"confidence": 0.85,
		"reasoning": "Two direct requests",
	}` + "\n```"

	res := ParseResult(raw)
	if res.Unparsed {
		t.Fatalf("expected parsed result, got %q", res.Reasoning)
	}
	if len(res.Tasks) != 2 {
		t.Fatalf("expected untitled task to be skipped, got %d tasks", len(res.Tasks))
	}
	if res.Tasks[0].Title != "Send Q3 report" || res.Tasks[0].DueDate != "2024-10-04" {
		t.Fatalf("unexpected first task: %+v", res.Tasks[0])
	}
	if res.Tasks[1].Priority != "URGENT" || res.Tasks[1].DueDate != "2024-11-01" {
		t.Fatalf("unexpected second task: %+v", res.Tasks[1])
	}
	if res.Confidence != 0.85 || res.Reasoning != "Two direct requests" {
		t.Fatalf("unexpected metadata: %v %q", res.Confidence, res.Reasoning)
	}
}

func TestParseResultBareArray(t *testing.T) {
	res := ParseResult(`[{"title": "Reply to Ann", "due_date": null}]`)
	if res.Unparsed || len(res.Tasks) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Tasks[0].DueDate != "" {
		t.Fatalf("expected null due date to be empty, got %q", res.Tasks[0].DueDate)
	}
}

func TestParseResultNoTasks(t *testing.T) {
	res := ParseResult(`{"tasks": [], "confidence": 0.95, "reasoning": "newsletter"}`)
	if res.Unparsed || len(res.Tasks) != 0 || res.Confidence != 0.95 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseResultDegrades(t *testing.T) {
	for _, raw := range []string{
		"",
		"I'm sorry, there are no tasks here.",
		`{"tasks": [{"title": "unterminated`,
		`{"tasks": "none"}`,
		`"just a string"`,
	} {
		res := ParseResult(raw)
		if !res.Unparsed {
			t.Fatalf("expected %q to degrade, got %+v", raw, res)
		}
		if len(res.Tasks) != 0 || res.Confidence != 0 {
			t.Fatalf("expected empty zero-confidence result for %q, got %+v", raw, res)
		}
		if !strings.HasPrefix(res.Reasoning, "unparseable model output") {
			t.Fatalf("expected failure reason, got %q", res.Reasoning)
		}
	}
}

func TestParseResultClampsConfidence(t *testing.T) {
	if res := ParseResult(`{"tasks": [], "confidence": 7}`); res.Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", res.Confidence)
	}
}

package ai

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Draft is a task as the model returned it, before normalization.
type Draft struct {
	Title       string
	Description string
	Priority    string
	DueDate     string
}

// Result is the outcome of one extraction. When the model output could
// not be parsed, Unparsed is set, Tasks is empty, Confidence is zero and
// Reasoning describes the failure.
type Result struct {
	Tasks      []Draft
	Confidence float64
	Reasoning  string
	Unparsed   bool
}

// ParseResult repairs and parses raw model output. It never fails: any
// problem degrades to an Unparsed result.
func ParseResult(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return unparsed("empty model response")
	}

	repaired := RepairJSON(raw)
	if !gjson.Valid(repaired) {
		return unparsed("model response is not valid JSON after repair")
	}

	root := gjson.Parse(repaired)

	var (
		items gjson.Result
		res   Result
	)
	switch {
	case root.IsArray():
		items = root
	case root.IsObject():
		res.Confidence = clamp01(root.Get("confidence").Float())
		res.Reasoning = strings.TrimSpace(root.Get("reasoning").String())

		items = root.Get("tasks")
		if !items.Exists() && root.Get("title").Exists() {
			// A lone task object.
			items = gjson.Parse("[" + root.Raw + "]")
		}
		if !items.Exists() || items.Type == gjson.Null {
			return res
		}
		if !items.IsArray() {
			return unparsed(`"tasks" is not a list`)
		}
	default:
		return unparsed("model response is not a JSON object or list")
	}

	items.ForEach(func(_, item gjson.Result) bool {
		if d, ok := draftFrom(item); ok {
			res.Tasks = append(res.Tasks, d)
		}
		return true
	})
	return res
}

// draftFrom reads one task item. Items without a title are skipped.
func draftFrom(item gjson.Result) (Draft, bool) {
	if !item.IsObject() {
		return Draft{}, false
	}

	title := strings.TrimSpace(item.Get("title").String())
	if title == "" {
		return Draft{}, false
	}

	priority := item.Get("priority")
	if priority.IsArray() {
		priority = priority.Get("0")
	}

	due := firstString(item, "due_date", "dueDate", "due")

	return Draft{
		Title:       title,
		Description: strings.TrimSpace(item.Get("description").String()),
		Priority:    strings.TrimSpace(priority.String()),
		DueDate:     due,
	}, true
}

func firstString(item gjson.Result, keys ...string) string {
	for _, k := range keys {
		v := item.Get(k)
		if v.Exists() && v.Type != gjson.Null {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

func unparsed(reason string) Result {
	return Result{Unparsed: true, Reasoning: "unparseable model output: " + reason}
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nhle/mailtasks/internal/model"
)

// charsPerToken is the rough character-to-token ratio used for budgeting.
const charsPerToken = 4

// TruncationMarker is appended when content had to be hard-cut.
const TruncationMarker = "[truncated]"

const systemPrompt = `You extract actionable tasks from email for the mailbox owner.
Only extract direct requests, deadlines and follow-ups addressed to the owner.
Ignore informational content: newsletters, receipts, order and shipping
notifications, marketing, automated alerts and social updates.
Reply with JSON only, no prose and no code fences.`

const responseShape = `{"tasks":[{"title":"short imperative title","description":"one or two sentences of context","priority":"LOW|MEDIUM|HIGH|URGENT","due_date":"YYYY-MM-DD or null"}],"confidence":0.0,"reasoning":"one sentence"}`

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// Truncate shortens s to at most maxChars characters. It prefers to end
// at a sentence boundary that falls within the last 20% of the cut; when
// there is none it hard-cuts and appends TruncationMarker.
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if maxChars <= 0 || len(runes) <= maxChars {
		return s
	}

	window := maxChars / 5
	for i := maxChars - 1; i >= maxChars-window && i > 0; i-- {
		if isSentenceEnd(runes, i) {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}

	return strings.TrimSpace(string(runes[:maxChars])) + "\n" + TruncationMarker
}

// isSentenceEnd reports whether runes[i] terminates a sentence: a
// newline, or ./!/? followed by whitespace.
func isSentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '\n':
		return true
	case '.', '!', '?':
		if i+1 >= len(runes) {
			return true
		}
		next := runes[i+1]
		return next == ' ' || next == '\n' || next == '\t' || next == '\r'
	}
	return false
}

// singlePrompt asks for the tasks in one piece of text.
func singlePrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Extract the tasks from this email.\n")
	sb.WriteString("Respond with exactly this JSON shape:\n")
	sb.WriteString(responseShape)
	sb.WriteString("\n\n--- EMAIL ---\n")
	sb.WriteString(text)
	sb.WriteString("\n--- END EMAIL ---\n")
	return sb.String()
}

// batchPrompt asks for the tasks across several emails in one response.
func batchPrompt(msgs []model.Message, contents []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract the tasks from these %d emails.\n", len(msgs))
	sb.WriteString("Return every task in a single list, in the order of the emails they came from.\n")
	sb.WriteString("Respond with exactly this JSON shape:\n")
	sb.WriteString(responseShape)
	sb.WriteString("\n")

	for i, m := range msgs {
		fmt.Fprintf(&sb, "\n--- EMAIL %d (id %s) ---\n", i+1, m.ID)
		sb.WriteString(contents[i])
		sb.WriteString("\n")
	}
	sb.WriteString("--- END EMAILS ---\n")
	return sb.String()
}

package ai

import "strings"

// RepairJSON extracts the first balanced {...} or [...] span from model
// output and cleans it up so a strict JSON parser has a chance: comments
// are removed, trailing commas dropped, and whitespace outside strings
// collapsed. Raw control characters inside strings become spaces. If the
// span never closes, everything from its opening bracket is returned. If
// there is no bracket at all, the trimmed input is returned unchanged.
func RepairJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return strings.TrimSpace(s)
	}

	var (
		out      strings.Builder
		depth    int
		inString bool
		escaped  bool
		pendingS bool
	)

	src := s[start:]
	for i := 0; i < len(src); i++ {
		c := src[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '\n' || c == '\r' || c == '\t':
				c = ' '
			}
			out.WriteByte(c)
			continue
		}

		// Comments outside strings.
		if c == '/' && i+1 < len(src) {
			switch src[i+1] {
			case '/':
				for i < len(src) && src[i] != '\n' {
					i++
				}
				pendingS = true
				continue
			case '*':
				end := strings.Index(src[i+2:], "*/")
				if end < 0 {
					i = len(src)
				} else {
					i += 2 + end + 1
				}
				pendingS = true
				continue
			}
		}

		if c == ' ' || c == '\n' || c == '\r' || c == '\t' {
			pendingS = true
			continue
		}

		if pendingS {
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			pendingS = false
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
		out.WriteByte(c)

		if depth == 0 {
			break
		}
	}

	return stripTrailingCommas(out.String())
}

// stripTrailingCommas removes commas that directly precede a closing
// bracket, ignoring string contents.
func stripTrailingCommas(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			out.WriteByte(c)
			continue
		}

		if c == '"' {
			inString = true
		}

		if c == ',' {
			j := i + 1
			for j < len(s) && s[j] == ' ' {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		out.WriteByte(c)
	}

	return out.String()
}

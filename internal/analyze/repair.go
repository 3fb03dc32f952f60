package analyze

import "strings"

// RepairJSON extracts and closes the first JSON value in s. Model output is
// frequently wrapped in prose or markdown fences, and long answers get cut
// off mid-structure; this walks the text with brace/bracket/string-escape
// state and appends whatever closers the truncation dropped. Input that is
// already valid JSON comes back unchanged apart from the surrounding text.
func RepairJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	s = s[start:]

	var stack []byte
	inString := false
	escaped := false

	end := -1
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
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				// Stray closer; cut here and close whatever is open.
				return closeValue(s[:i], stack, false, false)
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				return closeValue(s[:i], stack, false, false)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				end = i + 1
			}
		}
		if end > 0 {
			break
		}
	}

	if end > 0 {
		return s[:end]
	}

	return closeValue(s, stack, inString, escaped)
}

// closeValue terminates any open string, drops a dangling separator, then
// unwinds the container stack so the result parses.
func closeValue(s string, stack []byte, inString, escaped bool) string {
	if inString && escaped {
		s = s[:len(s)-1]
	}
	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	} else {
		trimmed := strings.TrimRight(s, " \t\r\n")
		if strings.HasSuffix(trimmed, ",") {
			b.Reset()
			b.WriteString(trimmed[:len(trimmed)-1])
		} else if strings.HasSuffix(trimmed, ":") {
			b.WriteString("null")
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

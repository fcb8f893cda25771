// internal/llmutil/parser.go
package llmutil

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// codeFenceRegex matches markdown fence lines (```json, ```, ```JSON ...) so they
// can be removed from model output before or after extraction.
var codeFenceRegex = regexp.MustCompile("(?m)^\\s*\x60\x60\x60[a-zA-Z]*\\s*$")

// Fragment is a balanced top-level {...} region found in free text.
type Fragment struct {
	Start int // byte offset of the opening brace
	End   int // byte offset one past the closing brace
	Text  string
}

// ExtractJSONObjects returns every balanced top-level JSON object in s, in order of
// appearance. Braces inside string literals are ignored and backslash escapes are
// honored. Text outside objects is treated as prose, so quotes there do not open
// strings. A brace that is never closed is treated as prose and scanning resumes
// just after it, so a stray brace cannot hide a later object.
//
// The fragments are only brace-balanced; callers still have to decode them.
func ExtractJSONObjects(s string) []Fragment {
	var (
		fragments []Fragment
		depth     int
		start     = -1
		inString  bool
		escaped   bool
	)

	for i := 0; ; i++ {
		if i == len(s) {
			if depth == 0 {
				break
			}
			i = start
			depth, start, inString, escaped = 0, -1, false, false
			continue
		}

		c := s[i]
		if depth == 0 {
			if c == '{' {
				depth = 1
				start = i
			}
			continue
		}

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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				fragments = append(fragments, Fragment{Start: start, End: i + 1, Text: s[start : i+1]})
				start = -1
			}
		}
	}
	return fragments
}

// StripCodeFences removes markdown fence lines, keeping the fenced content.
func StripCodeFences(s string) string {
	return strings.TrimSpace(codeFenceRegex.ReplaceAllString(s, ""))
}

// Prose returns s with the given fragments and any code fences removed, with
// whitespace collapsed. It is used to recover free-form reasoning around a JSON block.
func Prose(s string, fragments ...Fragment) string {
	var b strings.Builder
	last := 0
	for _, f := range fragments {
		if f.Start < last || f.End > len(s) {
			continue
		}
		b.WriteString(s[last:f.Start])
		b.WriteByte(' ')
		last = f.End
	}
	b.WriteString(s[last:])
	return strings.Join(strings.Fields(StripCodeFences(b.String())), " ")
}

// Truncate shortens s to at most maxLen bytes without splitting a UTF-8 sequence,
// appending "..." when anything was cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

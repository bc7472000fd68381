package contract

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	// jsonBlockPattern matches an object inside a fenced code block.
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// jsonObjectPattern matches the outermost-looking object in free text.
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// extractJSON returns the JSON object embedded in a model reply, tolerating
// code fences, surrounding prose, line comments and trailing commas.
// A candidate that is already valid JSON is returned byte for byte.
// It returns "" when no object is present.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return repairJSON(trimmed)
	}
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		return repairJSON(m[1])
	}
	if m := jsonObjectPattern.FindString(content); m != "" {
		return repairJSON(m)
	}
	return ""
}

func repairJSON(raw string) string {
	if json.Valid([]byte(raw)) {
		return raw
	}
	return cleanJSON(raw)
}

func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return stripTrailingCommas(strings.Join(lines, "\n"))
}

// stripLineComment removes a // comment that starts outside a string value.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// stripTrailingCommas drops a comma that precedes a closing bracket or
// brace, ignoring commas inside string values.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

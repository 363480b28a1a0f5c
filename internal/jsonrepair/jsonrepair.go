// Package jsonrepair recovers structured arrays from the malformed JSON the
// standardization oracle sometimes returns: code-fenced output, values with
// unescaped embedded quotes, and responses truncated mid-object. Each repair
// strategy is a pure function over text; Repair applies them as an ordered
// cascade, falling through until one yields a parseable array.
package jsonrepair

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Strategy names reported by Repair, in cascade order.
const (
	StrategyDirect   = "direct"
	StrategyQuotes   = "quotes"
	StrategyTruncate = "truncate"
	StrategyExtract  = "extract"
)

// ErrUnrecoverable is returned when every strategy in the cascade fails.
var ErrUnrecoverable = eris.New("jsonrepair: response unrecoverable")

// Repair runs the cascade over raw oracle output and returns the decoded
// array elements plus the name of the strategy that succeeded.
func Repair(raw string) ([]json.RawMessage, string, error) {
	text := StripFences(raw)

	if vals, err := Parse(text); err == nil {
		return vals, StrategyDirect, nil
	}
	if vals, err := Parse(RepairQuotes(text)); err == nil {
		return vals, StrategyQuotes, nil
	}
	if vals, err := Parse(RepairTruncation(text)); err == nil {
		return vals, StrategyTruncate, nil
	}
	if vals := ExtractObjects(text); len(vals) > 0 {
		return vals, StrategyExtract, nil
	}
	return nil, "", ErrUnrecoverable
}

// StripFences removes a surrounding markdown code fence and trims the text
// to the outermost array or object delimiters.
func StripFences(text string) string {
	text = strings.TrimSpace(text)

	for _, prefix := range []string{"```json", "```"} {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}
	text = strings.TrimSpace(text)

	// Trim any prose around the structured payload.
	arrStart := strings.Index(text, "[")
	objStart := strings.Index(text, "{")
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(text, "]"); end > arrStart {
			return strings.TrimSpace(text[arrStart : end+1])
		}
		return strings.TrimSpace(text[arrStart:])
	}
	if objStart >= 0 {
		if end := strings.LastIndex(text, "}"); end > objStart {
			return strings.TrimSpace(text[objStart : end+1])
		}
		return strings.TrimSpace(text[objStart:])
	}
	return text
}

// Parse decodes text as a JSON array of elements. A single top-level object
// is accepted and wrapped as a one-element array.
func Parse(text string) ([]json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, eris.New("jsonrepair: empty input")
	}

	if strings.HasPrefix(text, "{") {
		if !json.Valid([]byte(text)) {
			return nil, eris.New("jsonrepair: invalid object")
		}
		return []json.RawMessage{json.RawMessage(text)}, nil
	}

	var vals []json.RawMessage
	if err := json.Unmarshal([]byte(text), &vals); err != nil {
		return nil, eris.Wrap(err, "jsonrepair: parse array")
	}
	return vals, nil
}

// RepairQuotes escapes unescaped double quotes embedded inside string
// values. A quote is treated as terminating the string only when the next
// non-space character is structural (comma, colon, brace, or bracket).
func RepairQuotes(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]

		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' && inString {
			b.WriteByte(c)
			escaped = true
			continue
		}
		if c != '"' {
			b.WriteByte(c)
			continue
		}

		if !inString {
			inString = true
			b.WriteByte(c)
			continue
		}

		// Inside a string: decide whether this quote closes it.
		if closesString(text, i+1) {
			inString = false
			b.WriteByte(c)
		} else {
			b.WriteString(`\"`)
		}
	}
	return b.String()
}

// closesString reports whether a quote at position pos-1 is followed by a
// structural character, meaning it legitimately terminates the string.
func closesString(text string, pos int) bool {
	for ; pos < len(text); pos++ {
		switch text[pos] {
		case ' ', '\t', '\n', '\r':
			continue
		case ',', ':', '}', ']':
			return true
		default:
			return false
		}
	}
	return true // end of input closes the string
}

// RepairTruncation recovers an array cut off mid-object by locating the last
// complete element boundary, dropping the trailing fragment, and closing the
// array.
func RepairTruncation(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") {
		return text
	}

	depth := 0
	inString := false
	escaped := false
	lastComplete := -1 // index just past the last complete top-level element

	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth == 1 {
					lastComplete = i + 1
				}
			}
		}
	}

	if lastComplete < 0 {
		return text
	}
	repaired := strings.TrimRight(text[:lastComplete], " \t\n\r")
	repaired = strings.TrimRight(repaired, ",")
	return repaired + "]"
}

// ExtractObjects is the last-resort strategy: it scans for balanced
// top-level object literals via brace matching and keeps every one that
// parses, discarding anything unparseable around them.
func ExtractObjects(text string) []json.RawMessage {
	var out []json.RawMessage

	depth := 0
	inString := false
	escaped := false
	start := -1

	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						out = append(out, json.RawMessage(candidate))
					}
					start = -1
				}
			}
		}
	}
	return out
}

package provider

import (
	"encoding/json"
	"strings"
)

// ParsePartialJSON implements the tolerant streaming JSON parse utility
// named in spec §9 and §4.2: given a prefix of a JSON value, return the
// most complete parse possible by closing the innermost unterminated
// string/array/object; on unrecoverable input, return the empty object.
// Deterministic: the same prefix always produces the same result.
func ParsePartialJSON(fragment string) json.RawMessage {
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}

	// Try closing the fragment as-is first (the common case: a value is
	// mid-flight but every token so far is well-formed), then
	// progressively trim the trailing incomplete token (a dangling key,
	// a trailing comma, a bare partial literal) and retry. Fragments are
	// short, so the O(n^2) rescan is not a concern.
	for end := len(trimmed); end > 0; end-- {
		candidate := trimmed[:end]
		stack, inString, malformed := scanBracketStack(candidate)
		if malformed {
			continue
		}
		if inString {
			candidate += `"`
		}
		closed := closeBracketStack(candidate, stack)
		if json.Valid([]byte(closed)) {
			return json.RawMessage(closed)
		}
	}

	return json.RawMessage("{}")
}

// scanBracketStack walks s outside of escape sequences, returning the
// stack of still-open '{'/'[' bytes, whether s ends mid-string, and
// whether a closing bracket appeared with no matching opener (a
// fragment that can never be repaired by closing, only by trimming).
func scanBracketStack(s string) (stack []byte, inString bool, malformed bool) {
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
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) == 0 || stack[len(stack)-1] != '{' {
				return nil, false, true
			}
			stack = stack[:len(stack)-1]
		case ']':
			if len(stack) == 0 || stack[len(stack)-1] != '[' {
				return nil, false, true
			}
			stack = stack[:len(stack)-1]
		}
	}
	return stack, inString, false
}

// closeBracketStack appends the closing bracket for every still-open
// frame in stack, innermost (last-opened) first.
func closeBracketStack(s string, stack []byte) string {
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

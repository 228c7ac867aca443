package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// sanitizeToolArguments runs a staged repair fallback chain:
// strict parse -> trailing-comma strip -> unterminated-string close +
// brace/bracket balance -> truncate to the last balanced region.
//
// Grounded on hector's pkg/llm/jsonrepair.go staged-repair shape
// (hector repairs streamed partial-JSON tool arguments the same
// way, stage by stage, stopping at the first stage that parses).
func sanitizeToolArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	if args, err := parseObject(raw); err == nil {
		return args, nil
	}

	if args, err := parseObject(stripTrailingCommas(raw)); err == nil {
		return args, nil
	}

	if args, err := parseObject(closeUnterminated(raw)); err == nil {
		return args, nil
	}

	if truncated := lastBalancedRegion(raw); truncated != "" {
		if args, err := parseObject(truncated); err == nil {
			return args, nil
		}
	}

	return nil, fmt.Errorf("sanitize tool arguments: unrecoverable: %s", previewFor(raw))
}

func parseObject(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

func stripTrailingCommas(s string) string {
	return trailingComma.ReplaceAllString(s, "$1")
}

// closeUnterminated walks the string tracking brace/bracket/string
// state and appends whatever closers are needed to make it balanced:
// an unterminated string gets a closing quote, then any open
// braces/brackets get closed in LIFO order.
func closeUnterminated(s string) string {
	var stack []byte
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
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
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

// lastBalancedRegion returns the longest leading prefix that ends where
// brace/bracket depth (counted outside string literals) returns to zero,
// or "" if there is none. Only that one cut point is tried.
func lastBalancedRegion(s string) string {
	depth := 0
	inString := false
	escaped := false
	var balancedAt []int

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
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				balancedAt = append(balancedAt, i+1)
			}
		}
	}

	if len(balancedAt) == 0 {
		return ""
	}
	return s[:balancedAt[len(balancedAt)-1]]
}

func previewFor(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

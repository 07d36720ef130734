package job

import (
	"encoding/json"
	"strings"
)

// ExtractJSONCandidate finds the most plausible JSON object in raw
// worker output: fenced code blocks first, then heuristic brace
// matching over the whole text. Returns false when no balanced object
// parses as JSON.
func ExtractJSONCandidate(raw string) (string, bool) {
	for _, block := range fencedBlocks(raw) {
		if candidate, ok := firstObject(block); ok {
			return candidate, true
		}
	}
	return firstObject(raw)
}

// fencedBlocks returns the contents of ``` blocks, language tag
// stripped.
func fencedBlocks(raw string) []string {
	var blocks []string
	rest := raw
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return blocks
		}
		rest = rest[start+3:]
		// Drop an optional language tag up to the first newline.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && nl < 20 {
			rest = rest[nl+1:]
		}
		end := strings.Index(rest, "```")
		if end < 0 {
			return blocks
		}
		blocks = append(blocks, rest[:end])
		rest = rest[end+3:]
	}
}

// firstObject scans for the first balanced {...} that is valid JSON.
// Brace depth tracking is string-aware so braces inside values do not
// break the match.
func firstObject(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
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
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					// Balanced but invalid; keep scanning after it.
					i = len(text)
				}
			}
		}
		if depth != 0 {
			// Unbalanced from this opening brace; the next '{' may
			// still begin a valid object.
			continue
		}
	}
	return "", false
}

// Package security filters secret-looking material out of text that is
// about to be persisted into agent memory or event journals.
package security

import "regexp"

// secretPatterns name the span shapes that never survive persistence.
var secretPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{16,}`)},
	{"credential_assignment", regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|secret|token|password|passwd)\b\s*[:=]\s*["']?[^\s"']{8,}`)},
}

// RedactSecrets drops secret-looking spans from s, leaving a marker in
// their place. The returned map counts matches per pattern name; the
// matched content itself never survives.
func RedactSecrets(s string) (string, map[string]int) {
	var counts map[string]int
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllStringFunc(s, func(string) string {
			if counts == nil {
				counts = make(map[string]int)
			}
			counts[p.name]++
			return "[redacted:" + p.name + "]"
		})
	}
	return s, counts
}

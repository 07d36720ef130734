package workspace

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a prefixed short id, e.g. "run_3f2a9c4d8e1b".
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + raw[:12]
}

// SanitizeID maps an arbitrary string onto the charset record ids use,
// so derived ids stay safe as file and directory names.
func SanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

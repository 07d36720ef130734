package job

import "strings"

// Failure classes reported to the provider backpressure channel.
const (
	ClassRateLimit   = "rate_limit"
	ClassAuth        = "auth"
	ClassInteractive = "interactive"
	ClassTransient   = "transient"
)

// Classify buckets a non-terminal attempt failure by substring match on
// the stderr/error text. Unrecognized failures are transient.
func Classify(text string) string {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, "rate limit", "rate_limit", "429", "too many requests", "quota exceeded"):
		return ClassRateLimit
	case containsAny(t, "unauthorized", "401", "403", "api key", "not logged in", "authentication"):
		return ClassAuth
	case containsAny(t, "interactive", "requires a terminal", "tty", "stdin is not"):
		return ClassInteractive
	default:
		return ClassTransient
	}
}

func containsAny(text string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

package submission

import "strings"

var controlSequences = []string{"\r", "\n", "%0a", "%0d"}

// SanitizeText trims s and removes CR, LF and their percent-encoded forms.
// Removal repeats until nothing changes, so "%0%0aa" cannot collapse into a
// fresh "%0a" and the function is idempotent.
func SanitizeText(s string) string {
	return fixpoint(s, func(v string) string {
		return strings.TrimSpace(stripControl(v))
	})
}

// SanitizeEmail applies SanitizeText and then drops every character that
// cannot appear in an address.
func SanitizeEmail(s string) string {
	return fixpoint(s, func(v string) string {
		return strings.Map(emailRune, strings.TrimSpace(stripControl(v)))
	})
}

func stripControl(s string) string {
	for _, seq := range controlSequences {
		s = replaceFold(s, seq)
	}
	return s
}

// replaceFold deletes every ASCII case-insensitive occurrence of a lower-case needle.
func replaceFold(s, needle string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if hasPrefixFold(s[i:], needle) {
			i += len(needle)
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != prefix[i] {
			return false
		}
	}
	return true
}

func emailRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return r
	case strings.ContainsRune("!#$%&'*+-=?^_`{|}~@.[]", r):
		return r
	}
	return -1
}

func fixpoint(s string, f func(string) string) string {
	for {
		next := f(s)
		if next == s {
			return s
		}
		s = next
	}
}

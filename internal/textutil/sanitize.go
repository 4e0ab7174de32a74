package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxFileNameBytes keeps names within object metadata limits.
const maxFileNameBytes = 200

var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName makes an uploaded or downloaded file name safe to store.
// Path separators and colons become dashes, shell-hostile characters and
// control characters are dropped, and the result is capped at 200 bytes
// without splitting a rune.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, fileNameReplacer.Replace(name))
	name = strings.TrimSpace(name)
	if len(name) <= maxFileNameBytes {
		return name
	}
	cut := maxFileNameBytes
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return strings.TrimSpace(name[:cut])
}

// SanitizeToken lowercases value into [a-z0-9_-] for use in paths, replacing
// anything else with an underscore. Results longer than maxLen are truncated
// when maxLen is positive; an empty result becomes "unknown".
func SanitizeToken(value string, maxLen int) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if maxLen > 0 && len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "_-")
	}
	if out == "" {
		return "unknown"
	}
	return out
}


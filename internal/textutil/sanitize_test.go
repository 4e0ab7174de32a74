package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"  episode: one?.mp3 ": "episode- one.mp3",
		"a|b<c>.wav":           "abc.wav",
		"":                     "",
	}
	for input, want := range tests {
		if got := SanitizeFileName(input); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := map[string]string{
		"Job 42/A":   "job_42_a",
		"__--":       "unknown",
		"":           "unknown",
		"abc-DEF_09": "abc-def_09",
	}
	for input, want := range tests {
		if got := SanitizeToken(input, 0); got != want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSanitizeTokenTruncates(t *testing.T) {
	if got := SanitizeToken("abcdef_ghi", 7); got != "abcdef" {
		t.Fatalf("SanitizeToken truncation = %q", got)
	}
}

func TestSanitizeFileNameCapsLength(t *testing.T) {
	long := strings.Repeat("é", 150) + ".mp3"
	got := SanitizeFileName(long)
	if len(got) > maxFileNameBytes || !utf8.ValidString(got) {
		t.Fatalf("unexpected capped name (%d bytes, valid=%v)", len(got), utf8.ValidString(got))
	}
	if SanitizeFileName("a\x00b\tc") != "abc" {
		t.Fatalf("control characters not removed: %q", SanitizeFileName("a\x00b\tc"))
	}
}

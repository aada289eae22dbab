package bookid

import (
	"strings"
	"unicode/utf8"
)

// maxComponentBytes is the filesystem limit for a single path component.
const maxComponentBytes = 255

// unsafeChars are replaced with spaces in path components. The set covers
// every character that breaks SMB/NFS clients or Plex scanning.
const unsafeChars = `/\:"*?<>|;`

// SanitizeComponent makes a string safe to use as a single path component:
// unsafe characters become spaces, whitespace runs collapse, leading and
// trailing dots and whitespace are stripped, and the result is truncated to
// 255 bytes without splitting a multi-byte UTF-8 sequence. The function is
// idempotent.
func SanitizeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(unsafeChars, r) {
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}

	out := strings.Join(strings.Fields(b.String()), " ")
	out = strings.Trim(out, ". ")
	out = TruncateUTF8(out, maxComponentBytes)
	// Truncation can expose a new trailing dot or space.
	return strings.Trim(out, ". ")
}

// TruncateUTF8 cuts s to at most n bytes, dropping any partial trailing
// code point the byte cut left behind.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

package fixup

import "strings"

// Canonicalize coerces raw calendar text into the form every rule in this
// package operates on: no byte-order mark, LF line endings, and exactly one
// trailing newline. Canonicalizing already-canonical text is a no-op.
func Canonicalize(raw string) string {
	s := strings.TrimPrefix(raw, "\uFEFF")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimRight(s, "\n") + "\n"
}

// CanonicalizeBytes is Canonicalize for callers holding raw bytes, e.g. a
// response body. The bytes must be valid UTF-8; anything else is the
// caller's problem.
func CanonicalizeBytes(raw []byte) string {
	return Canonicalize(string(raw))
}

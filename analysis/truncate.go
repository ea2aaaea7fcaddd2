package analysis

import "unicode/utf8"

// MaxLogChars is the number of trailing characters of a CI log sent for analysis.
const MaxLogChars = 4000

// ElisionMarker prefixes a log whose head was dropped.
const ElisionMarker = "[…前面内容省略…]\n"

// TruncateLog keeps the last MaxLogChars characters of raw. Failures are
// almost always reported near the end of a job log, so the head is dropped.
//
// Characters are counted as runes and the cut always lands on a rune
// boundary; an invalid byte counts as one character.
func TruncateLog(raw string) string {
	if utf8.RuneCountInString(raw) <= MaxLogChars {
		return raw
	}
	cut := len(raw)
	for n := 0; n < MaxLogChars; n++ {
		_, size := utf8.DecodeLastRuneInString(raw[:cut])
		cut -= size
	}
	return ElisionMarker + raw[cut:]
}

// prefix returns at most n leading characters of s, never splitting a rune.
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

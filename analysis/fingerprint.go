package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	reTimestamp = regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}[T ]\d{2}:\d{2}:\d{2}[.\d]*Z?([+-]\d{2}:?\d{2})?`)
	reUUID      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	reMemAddr   = regexp.MustCompile(`0x[0-9a-fA-F]{6,16}`)
	reCommitSHA = regexp.MustCompile(`\b[0-9a-f]{40}\b|\b[0-9a-f]{7,12}\b`)
	reDuration  = regexp.MustCompile(`\b\d+(\.\d+)?(ns|µs|us|ms|s|m|h)\b`)
	reNumbers   = regexp.MustCompile(`\b\d{8,}\b`)
)

// Fingerprint identifies semantically identical failures of the same job.
// Volatile tokens (timestamps, ids, addresses, durations, long numbers) are
// collapsed before hashing, so two runs that fail the same way at different
// times share a fingerprint.
func Fingerprint(jobName, rawLog string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(jobName))))
	h.Write([]byte{0})
	for _, line := range strings.Split(TruncateLog(rawLog), "\n") {
		line = normalizeLine(line)
		if line == "" {
			continue
		}
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeLine(s string) string {
	s = reTimestamp.ReplaceAllString(s, "<TS>")
	s = reUUID.ReplaceAllString(s, "<UUID>")
	s = reMemAddr.ReplaceAllString(s, "<ADDR>")
	s = reCommitSHA.ReplaceAllString(s, "<SHA>")
	s = reDuration.ReplaceAllString(s, "<DUR>")
	s = reNumbers.ReplaceAllString(s, "<N>")
	return strings.ToLower(strings.TrimSpace(s))
}

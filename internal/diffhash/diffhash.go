// Package diffhash computes a stable content hash over a pull request's
// unified diff, used by the cluster phase's exact-duplicate path. The
// "hash, don't diff line-by-line" approach is grounded on dupedog's
// verifier, which hashes file content ranges instead of walking bytes
// pairwise; here the whole normalized diff is hashed in one pass since PR
// diffs are small relative to the multi-gigabyte files that verifier
// chunks.
package diffhash

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash returns the hex-encoded SHA-256 of diff after normalization, or ""
// if diff is empty (callers treat "" as "no hash", never matching anything
// including itself).
func Hash(diff string) string {
	normalized := Normalize(diff)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Normalize strips diff metadata lines that vary run-to-run without
// reflecting a content change (index lines carry blob SHAs, @@ hunk
// headers carry line numbers that shift with unrelated edits elsewhere in
// the file) and trims trailing whitespace per line, so two diffs with
// identical added, removed and context lines hash identically regardless of
// where in the file the hunks fall.
func Normalize(diff string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimRight(line, " \t\r")
		if strings.HasPrefix(trimmed, "index ") || strings.HasPrefix(trimmed, "@@") {
			continue
		}
		b.WriteString(trimmed)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

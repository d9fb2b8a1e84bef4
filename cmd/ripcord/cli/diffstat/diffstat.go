// Package diffstat computes line-level change statistics between two versions
// of a file's content. It powers the per-file added/removed counts shown for
// tracked changes and the terminal diff rendering.
package diffstat

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// binarySniffLen is how many leading bytes are examined for binary detection.
const binarySniffLen = 1024

// binaryNonPrintableRatio is the fraction of non-printable bytes above which
// content is treated as binary even without a NUL byte.
const binaryNonPrintableRatio = 0.3

// Stats holds line-level counts for one file comparison.
type Stats struct {
	Added   int
	Removed int
}

// Compute compares two text contents and returns line-level diff stats.
// Callers are expected to clear binary content first (see IsBinary); a
// cleared-to-empty comparison yields zero counts.
func Compute(before, after string) Stats {
	// Handle edge cases
	if before == after {
		return Stats{}
	}
	if before == "" {
		return Stats{Added: CountLines(after)}
	}
	if after == "" {
		return Stats{Removed: CountLines(before)}
	}

	var s Stats
	for _, d := range lineDiffs(before, after) {
		lines := CountLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			s.Added += lines
		case diffmatchpatch.DiffDelete:
			s.Removed += lines
		case diffmatchpatch.DiffEqual:
		}
	}
	return s
}

// lineDiffs returns line-based diff segments between two contents.
// Uses the DiffLinesToChars/DiffCharsToLines pattern so the diff operates on
// whole lines instead of characters.
func lineDiffs(before, after string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	text1, text2, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(text1, text2, false)
	return dmp.DiffCharsToLines(diffs, lineArray)
}

// CountLines returns the number of lines in a string.
// An empty string has 0 lines. A string without a trailing newline still
// counts its last line.
func CountLines(content string) int {
	if content == "" {
		return 0
	}
	lines := strings.Count(content, "\n")
	// If content doesn't end with newline, add 1 for the last line
	if !strings.HasSuffix(content, "\n") {
		lines++
	}
	return lines
}

// IsBinary reports whether content looks like binary data. It examines at most
// the first 1KB: a NUL byte means binary, and so does a non-printable byte
// ratio above 30%. Bytes >= 0x80 are not counted as non-printable since they
// appear in any non-ASCII UTF-8 text.
func IsBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}

	nonPrintable := 0
	for _, b := range sniff {
		if b == 0x00 {
			return true
		}
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		} else if b == 0x7f {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(sniff)) > binaryNonPrintableRatio
}

// contextLines is how many unchanged lines are shown on each side of a change
// in Render output.
const contextLines = 3

// Render produces a terminal-friendly line diff: changed lines prefixed with
// + or -, unchanged runs elided down to a few context lines.
func Render(before, after string) string {
	if before == after {
		return ""
	}

	diffs := lineDiffs(before, after)

	var sb strings.Builder
	for i, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			writeLines(&sb, "+", lines)
		case diffmatchpatch.DiffDelete:
			writeLines(&sb, "-", lines)
		case diffmatchpatch.DiffEqual:
			writeContext(&sb, lines, i == 0, i == len(diffs)-1)
		}
	}
	return sb.String()
}

// writeContext writes an unchanged run, keeping only contextLines lines
// adjacent to changes. Leading context is trimmed from the front of the first
// segment and trailing context from the end of the last.
func writeContext(sb *strings.Builder, lines []string, first, last bool) {
	keepHead := contextLines
	keepTail := contextLines
	if first {
		keepHead = 0
	}
	if last {
		keepTail = 0
	}

	if len(lines) <= keepHead+keepTail {
		writeLines(sb, " ", lines)
		return
	}

	writeLines(sb, " ", lines[:keepHead])
	elided := len(lines) - keepHead - keepTail
	fmt.Fprintf(sb, "@@ %d unchanged lines @@\n", elided)
	writeLines(sb, " ", lines[len(lines)-keepTail:])
}

func writeLines(sb *strings.Builder, prefix string, lines []string) {
	for _, line := range lines {
		sb.WriteString(prefix)
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
}

// splitLines splits content into lines without trailing newlines.
// A trailing newline does not produce an empty final element.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(content, "\n")
	return strings.Split(trimmed, "\n")
}

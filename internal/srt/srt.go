// Package srt parses and composes the SubRip subtitle format used
// throughout the pipeline: original transcript, auto-edit output, and the
// final cut list are all plain .srt files on disk. The format is a trivial
// 4-line block grammar, so it is parsed here directly rather than through
// a dependency.
package srt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RemoveToken marks a line an auto-edit pass decided to cut, when it
// prefixes the subtitle's text rather than replacing it outright.
const RemoveToken = "<<REMOVE>>"

// decisionHeaderPattern recognizes the legacy first-line "[KEEP]"/"[REMOVE]"
// decision header an older auto-edit prompt version used, kept for
// backward compatibility with job directories created under that format.
var decisionHeaderPattern = regexp.MustCompile(`(?i)^\[(KEEP|REMOVE)\b[^\]]*\]\s*$`)

// Subtitle is one parsed cue.
type Subtitle struct {
	Index   int
	Start   time.Duration
	End     time.Duration
	Content string
}

// Parse reads an SRT document into its cues. Malformed blocks are skipped
// rather than aborting the whole parse, matching the tolerant behavior the
// pipeline has always relied on for auto-edit output that occasionally
// drops a blank-line separator.
func Parse(raw string) ([]Subtitle, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	blocks := splitBlocks(raw)

	out := make([]Subtitle, 0, len(blocks))
	for _, block := range blocks {
		sub, ok := parseBlock(block)
		if !ok {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func splitBlocks(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return regexp.MustCompile(`\n{2,}`).Split(raw, -1)
}

var timeRangePattern = regexp.MustCompile(
	`(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})`,
)

func parseBlock(block string) (Subtitle, bool) {
	lines := strings.Split(strings.TrimSpace(block), "\n")
	if len(lines) < 2 {
		return Subtitle{}, false
	}

	idx := 0
	timeLineIdx := 0
	if n, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
		idx = n
		timeLineIdx = 1
	}
	if timeLineIdx >= len(lines) {
		return Subtitle{}, false
	}

	m := timeRangePattern.FindStringSubmatch(lines[timeLineIdx])
	if m == nil {
		return Subtitle{}, false
	}
	start := parseTimestamp(m[1], m[2], m[3], m[4])
	end := parseTimestamp(m[5], m[6], m[7], m[8])

	content := strings.TrimSpace(strings.Join(lines[timeLineIdx+1:], "\n"))
	return Subtitle{Index: idx, Start: start, End: end, Content: content}, true
}

func parseTimestamp(h, m, s, frac string) time.Duration {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.Atoi(s)
	// Normalize a 1-3 digit fractional part to milliseconds.
	for len(frac) < 3 {
		frac += "0"
	}
	frac = frac[:3]
	ms, _ := strconv.Atoi(frac)

	return time.Duration(hh)*time.Hour +
		time.Duration(mm)*time.Minute +
		time.Duration(ss)*time.Second +
		time.Duration(ms)*time.Millisecond
}

// Compose renders subtitles back into SRT text, reindexing sequentially
// from 1. Callers that need the original indices preserved use
// ComposePreserveIndex instead.
func Compose(subs []Subtitle) string {
	var b strings.Builder
	for i, s := range subs {
		writeBlock(&b, i+1, s)
	}
	return b.String()
}

// ComposePreserveIndex renders subtitles using each Subtitle.Index as-is.
func ComposePreserveIndex(subs []Subtitle) string {
	var b strings.Builder
	for _, s := range subs {
		writeBlock(&b, s.Index, s)
	}
	return b.String()
}

func writeBlock(b *strings.Builder, index int, s Subtitle) {
	fmt.Fprintf(b, "%d\n%s --> %s\n%s\n\n", index, formatTimestamp(s.Start), formatTimestamp(s.End), s.Content)
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func formatTimestamp(d time.Duration) string {
	total := d.Milliseconds()
	ms := total % 1000
	total /= 1000
	ss := total % 60
	total /= 60
	mm := total % 60
	hh := total / 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hh, mm, ss, ms)
}

// ParseDecisionHeader splits a legacy "[KEEP]"/"[REMOVE]" first-line header
// from the rest of a cue's text. Returns ("", text) when no header is
// present, so callers can tell "no decision" apart from "KEEP"/"REMOVE".
func ParseDecisionHeader(content string) (decision string, text string) {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			lines = append(lines, t)
		}
	}
	if len(lines) == 0 {
		return "", ""
	}
	first := lines[0]
	m := decisionHeaderPattern.FindStringSubmatch(first)
	if m == nil {
		return "", strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return strings.ToUpper(m[1]), strings.TrimSpace(strings.Join(lines[1:], "\n"))
}

// IsRemoveText reports whether optimized subtitle text signals the line
// should be dropped: empty, or RemoveToken-prefixed.
func IsRemoveText(text string) bool {
	v := strings.TrimSpace(text)
	return v == "" || strings.HasPrefix(v, RemoveToken)
}

// StripRemoveToken removes a leading RemoveToken prefix, if present.
func StripRemoveToken(text string) string {
	v := strings.TrimSpace(text)
	if !strings.HasPrefix(v, RemoveToken) {
		return v
	}
	return strings.TrimSpace(strings.TrimPrefix(v, RemoveToken))
}

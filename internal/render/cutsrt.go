// Package render builds the cut timeline and Remotion-style web render
// config the render stage hands to the frontend player: which source
// segments survive the edit, and where each kept subtitle lands once those
// segments are concatenated back-to-back.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/PoetCoderJun/autocut-backend/internal/srt"
)

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Segment is a kept span of the original timeline, in seconds.
type Segment struct {
	Start float64
	End   float64
}

// Caption is a subtitle remapped onto the concatenated output timeline.
type Caption struct {
	Index int
	Start float64
	End   float64
	Text  string
}

// CutTimeline is the cut-construction result: the kept
// subtitles, the merged segments they fall into, and those subtitles
// remapped onto the output timeline produced by concatenating the
// segments in order.
type CutTimeline struct {
	Segments []Segment
	Captions []Caption
}

// DefaultCutMergeGapSeconds is the gap used when none is configured: with a
// zero gap only overlapping kept subtitles merge into one segment, and
// contiguous ones stay separate segments.
const DefaultCutMergeGapSeconds = 0.0

const remapEpsilon = 1e-4

// FilterKeptSubtitles drops subtitles a decision marked REMOVE (via either
// the legacy header or a RemoveToken-prefixed body) or that carry no
// renderable text, then sorts the remainder by start time.
func FilterKeptSubtitles(subs []srt.Subtitle) []srt.Subtitle {
	kept := make([]srt.Subtitle, 0, len(subs))
	for _, sub := range subs {
		decision, text := srt.ParseDecisionHeader(sub.Content)
		if decision == "REMOVE" {
			continue
		}
		if srt.IsRemoveText(text) {
			continue
		}
		if text == "" || sub.End <= sub.Start {
			continue
		}
		kept = append(kept, srt.Subtitle{Index: sub.Index, Start: sub.Start, End: sub.End, Content: text})
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// BuildMergedSegments coalesces kept subtitles into contiguous output
// segments, merging a subtitle into the previous segment when the gap
// between them is under mergeGapSeconds.
func BuildMergedSegments(subs []srt.Subtitle, mergeGapSeconds float64) []Segment {
	var segments []Segment
	for _, sub := range subs {
		start := sub.Start.Seconds()
		if start < 0 {
			start = 0
		}
		end := sub.End.Seconds()
		if end < start {
			end = start
		}
		if end <= start {
			continue
		}

		if len(segments) == 0 {
			segments = append(segments, Segment{Start: start, End: end})
			continue
		}
		last := &segments[len(segments)-1]
		if start-last.End < mergeGapSeconds {
			if end > last.End {
				last.End = end
			}
		} else {
			segments = append(segments, Segment{Start: start, End: end})
		}
	}
	return segments
}

// ResolveCutMergeGap clamps a configured gap to non-negative, falling back
// to DefaultCutMergeGapSeconds when unset.
func ResolveCutMergeGap(gapSeconds float64, isSet bool) float64 {
	if !isSet {
		return DefaultCutMergeGapSeconds
	}
	if gapSeconds < 0 {
		return 0
	}
	return gapSeconds
}

type timelineSpan struct {
	start    float64
	end      float64
	outStart float64
}

// BuildRemappedCaptions walks the kept subtitles against the merged
// segments and computes each subtitle's position in the concatenated output
// timeline. A subtitle that straddles a segment boundary it shouldn't is
// dropped (tolerance eps = 1e-4).
func BuildRemappedCaptions(kept []srt.Subtitle, segments []Segment) []Caption {
	timeline := make([]timelineSpan, 0, len(segments))
	cursor := 0.0
	for _, seg := range segments {
		timeline = append(timeline, timelineSpan{start: seg.Start, end: seg.End, outStart: cursor})
		cursor += seg.End - seg.Start
	}

	var captions []Caption
	segIdx := 0
	for _, sub := range kept {
		start := sub.Start.Seconds()
		end := sub.End.Seconds()

		for segIdx+1 < len(timeline) {
			segEnd := timeline[segIdx].end
			if start > segEnd+remapEpsilon {
				segIdx++
				continue
			}
			if abs(start-segEnd) <= remapEpsilon && end > segEnd+remapEpsilon {
				segIdx++
				continue
			}
			break
		}

		seg := timeline[segIdx]
		if start < seg.start-remapEpsilon || end > seg.end+remapEpsilon {
			continue
		}

		outStart := seg.outStart + (start - seg.start)
		outEnd := seg.outStart + (end - seg.start)
		if outEnd <= outStart {
			continue
		}

		captions = append(captions, Caption{
			Start: round3(outStart),
			End:   round3(outEnd),
			Text:  sub.Content,
		})
	}
	return captions
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func round3(v float64) float64 {
	return float64(int64(v*1000+sign(v)*0.5)) / 1000
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// WriteCutSRT renders captions back to an .srt file on disk, preserving
// sequential 1-based indices regardless of any original line numbering.
func WriteCutSRT(captions []Caption, outputPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("render: create cut srt dir: %w", err)
	}

	subs := make([]srt.Subtitle, 0, len(captions))
	idx := 1
	for _, cap := range captions {
		if cap.End <= cap.Start || cap.Text == "" {
			continue
		}
		subs = append(subs, srt.Subtitle{
			Index:   idx,
			Start:   secondsToDuration(cap.Start),
			End:     secondsToDuration(cap.End),
			Content: cap.Text,
		})
		idx++
	}

	if err := os.WriteFile(outputPath, []byte(srt.ComposePreserveIndex(subs)), 0o644); err != nil {
		return "", fmt.Errorf("render: write cut srt: %w", err)
	}
	return outputPath, nil
}

// BuildCutSRTFromOptimizedSRT runs the full cut-timeline pipeline against a
// reviewed step1 SRT: filter to kept subtitles, merge into segments, remap
// captions onto the output timeline, and persist the result.
func BuildCutSRTFromOptimizedSRT(sourceSRTRaw, outputSRTPath string, mergeGapSeconds float64) (*CutTimeline, string, error) {
	subs, err := srt.Parse(sourceSRTRaw)
	if err != nil {
		return nil, "", err
	}
	kept := FilterKeptSubtitles(subs)
	if len(kept) == 0 {
		return nil, "", fmt.Errorf("render: no kept subtitles found in optimized srt")
	}

	segments := BuildMergedSegments(kept, mergeGapSeconds)
	captions := BuildRemappedCaptions(kept, segments)
	if len(captions) == 0 {
		return nil, "", fmt.Errorf("render: no captions available after remapping subtitle timeline")
	}

	path, err := WriteCutSRT(captions, outputSRTPath)
	if err != nil {
		return nil, "", err
	}

	return &CutTimeline{Segments: segments, Captions: captions}, path, nil
}

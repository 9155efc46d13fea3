package srt

import (
	"sort"
	"strings"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
)

// BuildStep1LinesFromSRTs merges the original transcript and the
// auto-edited transcript into Step1Lines, one per original cue, carrying
// the auto-edit's keep/remove suggestion as the line's starting decision.
// Lines are matched by SRT index, falling back to position when an index
// is missing or non-positive.
func BuildStep1LinesFromSRTs(originalRaw, optimizedRaw string) ([]domain.Step1Line, error) {
	originalSubs, err := Parse(originalRaw)
	if err != nil {
		return nil, err
	}
	optimizedSubs, err := Parse(optimizedRaw)
	if err != nil {
		return nil, err
	}

	optimizedByIndex := make(map[int]Subtitle, len(optimizedSubs))
	for _, s := range optimizedSubs {
		optimizedByIndex[s.Index] = s
	}

	lines := make([]domain.Step1Line, 0, len(originalSubs))
	for i, original := range originalSubs {
		lineID := original.Index
		if lineID <= 0 {
			lineID = i + 1
		}

		originalText := strings.TrimSpace(original.Content)

		var aiSuggestRemove bool
		optimizedText := originalText
		if opt, ok := optimizedByIndex[lineID]; ok {
			content := strings.TrimSpace(opt.Content)
			aiSuggestRemove = IsRemoveText(content)
			stripped := StripRemoveToken(content)
			if stripped != "" {
				optimizedText = stripped
			} else {
				optimizedText = originalText
			}
		}

		lines = append(lines, domain.Step1Line{
			LineID:          lineID,
			StartSec:        original.Start.Seconds(),
			EndSec:          original.End.Seconds(),
			OriginalText:    originalText,
			OptimizedText:   optimizedText,
			AISuggestRemove: aiSuggestRemove,
			UserFinalRemove: aiSuggestRemove,
		})
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].LineID < lines[j].LineID })
	return lines, nil
}

// WriteFinalStep1SRT renders the reviewed Step1Lines back into SRT form:
// kept lines use their (possibly edited) optimized text, removed lines keep
// the original text behind a RemoveToken prefix so a later re-run of this
// algorithm can still recover what was originally said there.
func WriteFinalStep1SRT(lines []domain.Step1Line) string {
	sorted := make([]domain.Step1Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LineID < sorted[j].LineID })

	subs := make([]Subtitle, 0, len(sorted))
	for _, line := range sorted {
		if line.EndSec <= line.StartSec {
			continue
		}
		content := line.OptimizedText
		if line.UserFinalRemove {
			content = RemoveToken + " " + line.OriginalText
		}
		subs = append(subs, Subtitle{
			Index:   line.LineID,
			Start:   secondsToDuration(line.StartSec),
			End:     secondsToDuration(line.EndSec),
			Content: content,
		})
	}
	return ComposePreserveIndex(subs)
}

// Package topics implements topic line-id remapping: the
// topic-segment stage driver reports chapters against whatever line
// numbering its own transcript saw, which isn't necessarily the step1
// line_id space a confirmed transcript actually uses after the user's
// keep/remove edits. RemapChapterLineIDs translates a driver's raw ids into
// the confirmed step1 id space so every kept line belongs to exactly one
// chapter.
package topics

import (
	"sort"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
)

// RemapChapterLineIDs remaps a driver's raw chapter list against the
// job's confirmed step1 lines. It does not mutate its inputs.
func RemapChapterLineIDs(chapters []domain.Step2Chapter, step1Lines []domain.Step1Line) []domain.Step2Chapter {
	kept := keptLineIDs(step1Lines)
	keptSet := make(map[int]bool, len(kept))
	for _, id := range kept {
		keptSet[id] = true
	}

	out := make([]domain.Step2Chapter, len(chapters))
	assigned := make(map[int]bool, len(kept))
	resultIDs := make([][]int, len(chapters))

	// First claim wins, across chapters as well as within one: the driver
	// does not guarantee disjointness, so a later chapter repeating an id an
	// earlier chapter already took must not get a second copy.
	for i, ch := range chapters {
		out[i] = ch
		for _, raw := range ch.LineIDs {
			mapped, ok := mapRawID(raw, keptSet, kept)
			if !ok || assigned[mapped] {
				continue
			}
			assigned[mapped] = true
			resultIDs[i] = append(resultIDs[i], mapped)
		}
	}

	fillGaps(resultIDs, kept, assigned)

	for i := range out {
		ids := resultIDs[i]
		sortInts(ids)
		out[i].LineIDs = ids
	}
	return out
}

func keptLineIDs(lines []domain.Step1Line) []int {
	var kept []int
	for _, l := range lines {
		if !l.UserFinalRemove {
			kept = append(kept, l.LineID)
		}
	}
	sortInts(kept)
	return kept
}

// mapRawID maps one driver-reported id into the kept step1 id space: if it
// is already a kept id, it passes through; otherwise, if it falls in
// [1, len(kept)], it's treated as a positional index into the kept list.
// Anything else is dropped.
func mapRawID(raw int, keptSet map[int]bool, kept []int) (int, bool) {
	if keptSet[raw] {
		return raw, true
	}
	if raw >= 1 && raw <= len(kept) {
		return kept[raw-1], true
	}
	return 0, false
}

// fillGaps appends every kept id no chapter claimed to the chapter whose
// current max id first exceeds it, chapter order being timeline order; ids
// past every chapter's max fall to the last chapter.
func fillGaps(resultIDs [][]int, kept []int, assigned map[int]bool) {
	if len(resultIDs) == 0 {
		return
	}
	for _, id := range kept {
		if assigned[id] {
			continue
		}
		target := len(resultIDs) - 1
		for ci, ids := range resultIDs {
			if maxInt(ids) > id {
				target = ci
				break
			}
		}
		resultIDs[target] = append(resultIDs[target], id)
		assigned[id] = true
	}
}

func maxInt(xs []int) int {
	max := -1
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	return max
}

func sortInts(xs []int) { sort.Ints(xs) }

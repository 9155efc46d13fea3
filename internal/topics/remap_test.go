package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
)

func lines(ids []int, removed ...int) []domain.Step1Line {
	removedSet := map[int]bool{}
	for _, id := range removed {
		removedSet[id] = true
	}
	out := make([]domain.Step1Line, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Step1Line{LineID: id, UserFinalRemove: removedSet[id]})
	}
	return out
}

func TestRemapKeepsRealIDs(t *testing.T) {
	step1 := lines([]int{1, 2, 3, 4, 5}, 2)
	chapters := []domain.Step2Chapter{
		{ChapterID: 1, LineIDs: []int{1, 3}},
		{ChapterID: 2, LineIDs: []int{4, 5}},
	}
	got := RemapChapterLineIDs(chapters, step1)
	assert.Equal(t, []int{1, 3}, got[0].LineIDs)
	assert.Equal(t, []int{4, 5}, got[1].LineIDs)
}

func TestRemapPositionalIDs(t *testing.T) {
	// Kept ids are 10,20,30; the driver numbered them 1..3.
	step1 := lines([]int{10, 20, 30})
	chapters := []domain.Step2Chapter{
		{ChapterID: 1, LineIDs: []int{1, 2}},
		{ChapterID: 2, LineIDs: []int{3}},
	}
	got := RemapChapterLineIDs(chapters, step1)
	assert.Equal(t, []int{10, 20}, got[0].LineIDs)
	assert.Equal(t, []int{30}, got[1].LineIDs)
}

func TestRemapDropsOutOfRangeAndDedups(t *testing.T) {
	step1 := lines([]int{1, 2, 3})
	chapters := []domain.Step2Chapter{
		{ChapterID: 1, LineIDs: []int{1, 1, 99, -4, 2, 3}},
	}
	got := RemapChapterLineIDs(chapters, step1)
	assert.Equal(t, []int{1, 2, 3}, got[0].LineIDs)
}

func TestRemapCrossChapterOverlap(t *testing.T) {
	// Two chapters both claim kept id 2; the earlier chapter wins and the
	// later one keeps only what's left, so the partition stays disjoint.
	step1 := lines([]int{1, 2, 3})
	chapters := []domain.Step2Chapter{
		{ChapterID: 1, LineIDs: []int{1, 2}},
		{ChapterID: 2, LineIDs: []int{2, 3}},
	}
	got := RemapChapterLineIDs(chapters, step1)
	assert.Equal(t, []int{1, 2}, got[0].LineIDs)
	assert.Equal(t, []int{3}, got[1].LineIDs)

	seen := map[int]int{}
	for _, ch := range got {
		for _, id := range ch.LineIDs {
			seen[id]++
		}
	}
	for id := 1; id <= 3; id++ {
		assert.Equal(t, 1, seen[id], "line %d", id)
	}
}

func TestRemapFillsGaps(t *testing.T) {
	// Kept set is 1..6 but the driver never mentions 3 and 6; 3 falls into
	// the chapter whose max first exceeds it, 6 into the last chapter.
	step1 := lines([]int{1, 2, 3, 4, 5, 6})
	chapters := []domain.Step2Chapter{
		{ChapterID: 1, LineIDs: []int{1, 2}},
		{ChapterID: 2, LineIDs: []int{4, 5}},
	}
	got := RemapChapterLineIDs(chapters, step1)
	assert.Equal(t, []int{1, 2}, got[0].LineIDs)
	assert.Equal(t, []int{3, 4, 5, 6}, got[1].LineIDs)

	// Invariant I7: the union of chapters equals the kept set, disjoint.
	seen := map[int]int{}
	for _, ch := range got {
		for _, id := range ch.LineIDs {
			seen[id]++
		}
	}
	for id := 1; id <= 6; id++ {
		assert.Equal(t, 1, seen[id], "line %d", id)
	}
}

func TestRemapEmptyChapters(t *testing.T) {
	got := RemapChapterLineIDs(nil, lines([]int{1, 2}))
	assert.Empty(t, got)
}

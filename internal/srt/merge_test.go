package srt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
)

const mergeOriginal = `1
00:00:00,000 --> 00:00:02,000
um so hello

2
00:00:02,000 --> 00:00:04,000
this is the real content

3
00:00:04,000 --> 00:00:06,000
uh

4
00:00:06,000 --> 00:00:08,000
closing words
`

const mergeOptimized = `1
00:00:00,000 --> 00:00:02,000
<<REMOVE>>um so hello

2
00:00:02,000 --> 00:00:04,000
this is the real content, cleaned

3
00:00:04,000 --> 00:00:06,000

`

func TestBuildStep1LinesFromSRTs(t *testing.T) {
	lines, err := BuildStep1LinesFromSRTs(mergeOriginal, mergeOptimized)
	require.NoError(t, err)
	require.Len(t, lines, 4)

	// RemoveToken prefix: suggested removal, original text recoverable.
	assert.True(t, lines[0].AISuggestRemove)
	assert.True(t, lines[0].UserFinalRemove)
	assert.Equal(t, "um so hello", lines[0].OriginalText)
	assert.Equal(t, "um so hello", lines[0].OptimizedText)

	// Rewritten content: kept, carrying the edit.
	assert.False(t, lines[1].AISuggestRemove)
	assert.Equal(t, "this is the real content, cleaned", lines[1].OptimizedText)

	// Empty optimized content: suggested removal, original as fallback.
	assert.True(t, lines[2].AISuggestRemove)
	assert.Equal(t, "uh", lines[2].OptimizedText)

	// Missing from optimized entirely: kept as-is.
	assert.False(t, lines[3].AISuggestRemove)
	assert.Equal(t, "closing words", lines[3].OptimizedText)

	for i, line := range lines {
		assert.Equal(t, i+1, line.LineID)
	}
}

func TestWriteFinalStep1SRT(t *testing.T) {
	lines := []domain.Step1Line{
		{LineID: 2, StartSec: 2, EndSec: 4, OriginalText: "b", OptimizedText: "b edited"},
		{LineID: 1, StartSec: 0, EndSec: 2, OriginalText: "a", OptimizedText: "a", UserFinalRemove: true},
		{LineID: 3, StartSec: 4, EndSec: 4, OriginalText: "zero width", OptimizedText: "zero width"},
	}

	out := WriteFinalStep1SRT(lines)
	subs, err := Parse(out)
	require.NoError(t, err)
	// The zero-duration line is dropped; the removed line keeps its
	// original text behind the token.
	require.Len(t, subs, 2)
	assert.Equal(t, 1, subs[0].Index)
	assert.Equal(t, RemoveToken+" a", subs[0].Content)
	assert.Equal(t, "b edited", subs[1].Content)
}

func TestFinalSRTRoundTripsThroughMerge(t *testing.T) {
	lines, err := BuildStep1LinesFromSRTs(mergeOriginal, mergeOptimized)
	require.NoError(t, err)

	out := WriteFinalStep1SRT(lines)
	subs, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, subs, 4)
	assert.True(t, IsRemoveText(subs[0].Content))
	assert.False(t, IsRemoveText(subs[1].Content))
}

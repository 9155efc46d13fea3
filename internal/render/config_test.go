package render

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

func TestResolveFPS(t *testing.T) {
	assert.Equal(t, 30.0, resolveFPS(nil))
	assert.Equal(t, 60.0, resolveFPS(ptrF(60)))
	assert.Equal(t, 1.0, resolveFPS(ptrF(0)))
	assert.Equal(t, 120.0, resolveFPS(ptrF(500)))
}

func TestResolveDimensions(t *testing.T) {
	w, h, err := resolveDimensions(ptrI(1921), ptrI(1080))
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	_, _, err = resolveDimensions(nil, ptrI(1080))
	assert.Error(t, err)
	_, _, err = resolveDimensions(ptrI(-4), ptrI(1080))
	assert.Error(t, err)

	w, h, err = resolveDimensions(ptrI(1), ptrI(2))
	require.NoError(t, err)
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, h)
}

func TestDurationFramesFromSegments(t *testing.T) {
	// Per-segment rounding: ceil each segment's end frame minus floor of
	// its start frame, summed.
	frames := durationFramesFromSegments([]Segment{
		{Start: 0, End: 1},
		{Start: 10, End: 11.5},
	}, 30)
	assert.Equal(t, 75, frames)
}

func TestBuildWebRenderConfig(t *testing.T) {
	raw := "1\n00:00:00,000 --> 00:00:02,000\nhello\n\n" +
		"2\n00:00:04,000 --> 00:00:06,000\nworld\n"

	cfg, cutPath, err := BuildWebRenderConfig(WebRenderConfigInput{
		JobID:            "job_abc123def456",
		Step1SRTRaw:      raw,
		CutSRTOutputPath: filepath.Join(t.TempDir(), "cut.srt"),
		MergeGapSeconds:  0,
		Topics: []TopicInput{
			{Title: "intro", Summary: "s", StartSec: 0, EndSec: 2},
			{Title: "", StartSec: 4, EndSec: 6},
			{Title: "bogus", StartSec: 6, EndSec: 6},
		},
		FPS:    ptrF(30),
		Width:  ptrI(1920),
		Height: ptrI(1080),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cutPath)

	assert.Equal(t, "job_abc123def456_remotion.mp4", cfg.OutputName)
	assert.Equal(t, 1920, cfg.Composition.Width)
	assert.Equal(t, 1080, cfg.Composition.Height)
	// Two 2-second segments at 30fps.
	assert.Equal(t, 120, cfg.Composition.DurationInFrames)

	require.Len(t, cfg.InputProps.Topics, 2)
	assert.Equal(t, "intro", cfg.InputProps.Topics[0].Title)
	// Empty titles fall back to a placeholder; zero-span topics drop.
	assert.Equal(t, "章节", cfg.InputProps.Topics[1].Title)

	require.Len(t, cfg.InputProps.Segments, 2)
	require.Len(t, cfg.InputProps.Captions, 2)
}

func TestBuildWebRenderConfigRequiresDimensions(t *testing.T) {
	raw := "1\n00:00:00,000 --> 00:00:02,000\nhello\n"
	_, _, err := BuildWebRenderConfig(WebRenderConfigInput{
		JobID:            "job_x",
		Step1SRTRaw:      raw,
		CutSRTOutputPath: filepath.Join(t.TempDir(), "cut.srt"),
	})
	assert.Error(t, err)
}

package render

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	defaultFPS      = 30.0
	minFPS          = 1.0
	maxFPS          = 120.0
	defaultDuration = 1.0
)

// TopicInput is a chapter's title, summary and StartSec/EndSec as stored on
// the step2 chapter; the render package works purely in timestamps.
type TopicInput struct {
	Title    string
	Summary  string
	StartSec float64
	EndSec   float64
}

// Topic is a normalized chapter as it appears in the render input props.
type Topic struct {
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// WebRenderConfigInput gathers everything BuildWebRenderConfig needs beyond
// what's already on disk.
type WebRenderConfigInput struct {
	JobID             string
	Step1SRTRaw       string
	CutSRTOutputPath  string
	MergeGapSeconds   float64
	Topics            []TopicInput
	FPS               *float64
	Width             *int
	Height            *int
	DurationOverrideS *float64
}

// Composition is the Remotion composition descriptor the frontend player
// mounts.
type Composition struct {
	ID               string  `json:"id"`
	FPS              float64 `json:"fps"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	DurationInFrames int     `json:"durationInFrames"`
}

// InputProps is handed to the Remotion composition as its props.
type InputProps struct {
	Src      string    `json:"src"`
	Captions []Caption `json:"captions"`
	Segments []Segment `json:"segments"`
	Topics   []Topic   `json:"topics"`
	FPS      float64   `json:"fps"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
}

// WebRenderConfig is the payload GET /jobs/:id/render/config returns for a
// job: a Remotion composition plus the props needed to play the cut back.
type WebRenderConfig struct {
	OutputName  string      `json:"output_name"`
	Composition Composition `json:"composition"`
	InputProps  InputProps  `json:"input_props"`
}

// BuildWebRenderConfig cuts the reviewed step1 SRT down to a concatenated
// timeline, normalizes captions/segments/topics, and resolves playback
// fps/dimensions/duration into a Remotion composition.
func BuildWebRenderConfig(in WebRenderConfigInput) (*WebRenderConfig, string, error) {
	mergeGap := ResolveCutMergeGap(in.MergeGapSeconds, true)
	timeline, cutSRTPath, err := BuildCutSRTFromOptimizedSRT(in.Step1SRTRaw, in.CutSRTOutputPath, mergeGap)
	if err != nil {
		return nil, "", err
	}
	if len(timeline.Captions) == 0 {
		return nil, "", fmt.Errorf("render: captions missing")
	}
	if len(timeline.Segments) == 0 {
		return nil, "", fmt.Errorf("render: segments missing")
	}

	topics := normalizeTopics(in.Topics)

	fps := resolveFPS(in.FPS)
	width, height, err := resolveDimensions(in.Width, in.Height)
	if err != nil {
		return nil, "", err
	}

	durationInFrames := durationFramesFromSegments(timeline.Segments, fps)
	if durationInFrames <= 0 {
		durationSeconds := resolveDuration(in.DurationOverrideS, timeline.Captions, timeline.Segments)
		durationInFrames = int(math.Ceil(durationSeconds * fps))
		if durationInFrames < 1 {
			durationInFrames = 1
		}
	}

	cfg := &WebRenderConfig{
		OutputName: fmt.Sprintf("%s_remotion.mp4", in.JobID),
		Composition: Composition{
			ID:               "StitchVideoWeb",
			FPS:              fps,
			Width:            width,
			Height:           height,
			DurationInFrames: durationInFrames,
		},
		InputProps: InputProps{
			Src:      "",
			Captions: timeline.Captions,
			Segments: timeline.Segments,
			Topics:   topics,
			FPS:      fps,
			Width:    width,
			Height:   height,
		},
	}
	return cfg, cutSRTPath, nil
}

func normalizeTopics(in []TopicInput) []Topic {
	out := make([]Topic, 0, len(in))
	for _, t := range in {
		if t.EndSec <= t.StartSec {
			continue
		}
		title := strings.TrimSpace(t.Title)
		if title == "" {
			title = "章节"
		}
		out = append(out, Topic{
			Title:   title,
			Summary: strings.TrimSpace(t.Summary),
			Start:   round3(t.StartSec),
			End:     round3(t.EndSec),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// resolveFPS defaults to 30, clamped to [1, 120].
func resolveFPS(fps *float64) float64 {
	v := defaultFPS
	if fps != nil {
		v = *fps
	}
	if v < minFPS {
		return minFPS
	}
	if v > maxFPS {
		return maxFPS
	}
	return v
}

// resolveDimensions requires both dimensions positive, then rounds each
// down to even (values of 2 or less become 2).
func resolveDimensions(width, height *int) (int, int, error) {
	if width == nil || height == nil || *width <= 0 || *height <= 0 {
		return 0, 0, fmt.Errorf("render: width and height are required and must be positive")
	}
	return ensureEven(*width), ensureEven(*height), nil
}

// ensureEven rounds down to even, except that values of 2 or less become 2;
// Remotion/ffmpeg both require even
// dimensions for yuv420p encoding.
func ensureEven(value int) int {
	if value <= 2 {
		return 2
	}
	if value%2 == 0 {
		return value
	}
	return value - 1
}

// resolveDuration prefers an explicit override, then the summed segment
// span, then the last caption's end, then a 1-second floor.
func resolveDuration(override *float64, captions []Caption, segments []Segment) float64 {
	if override != nil && *override > 0 {
		return *override
	}
	if len(segments) > 0 {
		var total float64
		for _, s := range segments {
			total += s.End - s.Start
		}
		if total > 0 {
			return total
		}
	}
	if len(captions) > 0 {
		last := captions[len(captions)-1].End
		if last > 0 {
			return last
		}
	}
	return defaultDuration
}

// durationFramesFromSegments is a frame-accurate sum of each segment's
// duration, rounding independently per segment so adjacent segments never
// leave a rounding gap between them.
func durationFramesFromSegments(segments []Segment, fps float64) int {
	total := 0
	for _, seg := range segments {
		trimBefore := int(math.Floor(seg.Start * fps))
		trimAfter := int(math.Ceil(seg.End * fps))
		if trimAfter < trimBefore+1 {
			trimAfter = trimBefore + 1
		}
		total += trimAfter - trimBefore
	}
	return total
}

package stagedrivers

import "context"

// ProgressFunc is the callback stage drivers report fractional progress
// through: stage is a short label ("transcribe",
// "auto_edit", "topic_segment"), ratio is in [0, 1]. The worker translates
// this into the job's clamped integer progress rung.
type ProgressFunc func(stage string, ratio float64)

// noopProgress is used when a caller doesn't care about progress, so driver
// implementations never need a nil check.
func noopProgress(string, float64) {}

// TranscribeDriver turns a local audio file into an SRT transcript.
type TranscribeDriver interface {
	// Transcribe returns the raw SRT text (not a path: the caller owns
	// where it lands on disk via the artifact store).
	Transcribe(ctx context.Context, audioPath string, opts Options, progress ProgressFunc) (srtText string, err error)
}

// AutoEditDriver marks subtitles for removal, producing an "optimized" SRT
// in the same index space as the input; the step1 merge aligns the two
// documents by that index.
type AutoEditDriver interface {
	AutoEdit(ctx context.Context, srtText string, opts Options, progress ProgressFunc) (optimizedSRTText string, err error)
}

// TopicSegmentDriver partitions a reviewed transcript into chapters. The
// returned chapters' LineIDs are in the *kept-line* index space (1..N over
// survivors of user_final_remove); the caller remaps them onto real step1
// line ids via topics.RemapChapterLineIDs before persisting.
type TopicSegmentDriver interface {
	TopicSegment(ctx context.Context, finalStep1SRTText string, opts Options, progress ProgressFunc) (rawTopicsJSON []byte, err error)
}

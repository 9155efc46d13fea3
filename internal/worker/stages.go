package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PoetCoderJun/autocut-backend/internal/billing"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/srt"
	"github.com/PoetCoderJun/autocut-backend/internal/stagedrivers"
	"github.com/PoetCoderJun/autocut-backend/internal/statemachine"
	"github.com/PoetCoderJun/autocut-backend/internal/topics"
)

func (w *Worker) clampProgress(runningStatus string, last int, ratio float64) int {
	return statemachine.ClampRunningProgress(runningStatus, last, ratio)
}

// runStep1 drives transcribe + auto-edit, merges the two SRTs into the
// reviewed line list, and charges the single step1 credit — in that order,
// so a crash before the charge never debits a job that produced nothing.
func (w *Worker) runStep1(ctx context.Context, jobID string) error {
	store := w.jobs.Store()

	files, err := store.ReadFiles(jobID)
	if err != nil {
		return fmt.Errorf("step1: load job files: %w", err)
	}
	if files.AudioPath == nil || *files.AudioPath == "" {
		return fmt.Errorf("step1: uploaded audio missing")
	}
	job, err := w.jobs.Get(jobID)
	if err != nil {
		return fmt.Errorf("step1: load job: %w", err)
	}

	// Read-only gate before the expensive stages run. The authoritative
	// check is the transactional charge below; queue coalescing keeps
	// concurrent STEP1 runs for the same job from racing past this together.
	if err := w.billing.RequireBalance(ctx, job.OwnerUserID, billing.Step1ConsumptionAmount); err != nil {
		return err
	}

	opts := stagedrivers.LoadOptionsFromEnv()
	reporter := &progressReporter{
		w: w, ctx: ctx, jobID: jobID,
		runningStatus: domain.JobStatusStep1Running,
		last:          domain.ProgressStep1RunFloor,
		weight: map[string][2]float64{
			"transcribe": {0.0, 0.7},
			"auto_edit":  {0.7, 0.3},
		},
	}

	srtText, err := w.drivers.Transcribe.Transcribe(ctx, *files.AudioPath, opts, reporter.report)
	if err != nil {
		return fmt.Errorf("step1: transcribe: %w", err)
	}
	transcriptPath := store.Step1TranscriptSRTPath(jobID)
	if err := store.WriteText(transcriptPath, srtText); err != nil {
		return err
	}

	optimizedText, err := w.drivers.AutoEdit.AutoEdit(ctx, srtText, opts, reporter.report)
	if err != nil {
		return fmt.Errorf("step1: auto-edit: %w", err)
	}
	optimizedPath := store.Step1OptimizedSRTPath(jobID)
	if err := store.WriteText(optimizedPath, optimizedText); err != nil {
		return err
	}

	lines, err := srt.BuildStep1LinesFromSRTs(srtText, optimizedText)
	if err != nil {
		return fmt.Errorf("step1: merge srts: %w", err)
	}
	if len(lines) == 0 {
		return fmt.Errorf("step1: produced empty line list")
	}

	if err := store.WriteStep1FinalSRT(jobID, srt.WriteFinalStep1SRT(lines)); err != nil {
		return err
	}
	if err := store.WriteStep1Lines(jobID, lines); err != nil {
		return err
	}
	if _, err := w.jobs.UpdateFiles(jobID, func(f *domain.JobFiles) {
		f.SRTPath = &transcriptPath
		f.OptimizedSRTPath = &optimizedPath
		finalPath := store.Step1FinalSRTPath(jobID)
		f.FinalStep1SRTPath = &finalPath
	}); err != nil {
		return err
	}

	if err := w.billing.ChargeStep1Success(ctx, job.OwnerUserID, jobID); err != nil {
		return err
	}

	if err := w.jobs.UpdateStatus(jobID, domain.JobStatusStep1Ready, domain.ProgressStep1Ready); err != nil {
		return err
	}
	w.publish(ctx, jobID, domain.JobStatusStep1Ready, domain.ProgressStep1Ready, "")
	return nil
}

// runStep2 drives topic segmentation over the reviewed transcript and
// remaps the driver's chapter line ids onto real step1 ids before
// persisting.
func (w *Worker) runStep2(ctx context.Context, jobID string) error {
	store := w.jobs.Store()

	files, err := store.ReadFiles(jobID)
	if err != nil {
		return fmt.Errorf("step2: load job files: %w", err)
	}
	if files.FinalStep1SRTPath == nil || *files.FinalStep1SRTPath == "" {
		return fmt.Errorf("step2: final_step1.srt missing")
	}
	finalSRT, err := store.ReadTextFile(*files.FinalStep1SRTPath)
	if err != nil {
		return fmt.Errorf("step2: read final step1 srt: %w", err)
	}

	opts := stagedrivers.LoadOptionsFromEnv()
	reporter := &progressReporter{
		w: w, ctx: ctx, jobID: jobID,
		runningStatus: domain.JobStatusStep2Running,
		last:          domain.ProgressStep2RunFloor,
		weight: map[string][2]float64{
			"topic_segment": {0.0, 1.0},
		},
	}

	rawTopicsJSON, err := w.drivers.TopicSegment.TopicSegment(ctx, finalSRT, opts, reporter.report)
	if err != nil {
		return fmt.Errorf("step2: topic-segment: %w", err)
	}
	topicsPath := store.Step2TopicsRawPath(jobID)
	if err := store.WriteText(topicsPath, string(rawTopicsJSON)); err != nil {
		return err
	}

	rawChapters, err := parseRawChapters(rawTopicsJSON)
	if err != nil {
		return fmt.Errorf("step2: parse topics: %w", err)
	}
	if len(rawChapters) == 0 {
		return fmt.Errorf("step2: generated empty chapter list")
	}

	step1Lines, err := store.ReadStep1Lines(jobID)
	if err != nil {
		return fmt.Errorf("step2: load step1 lines: %w", err)
	}
	chapters := topics.RemapChapterLineIDs(rawChapters, step1Lines)

	if err := store.WriteStep2Chapters(jobID, chapters); err != nil {
		return err
	}
	if _, err := w.jobs.UpdateFiles(jobID, func(f *domain.JobFiles) {
		f.TopicsPath = &topicsPath
		finalPath := store.Step2FinalJSONPath(jobID)
		f.FinalTopicsPath = &finalPath
	}); err != nil {
		return err
	}

	if err := w.jobs.UpdateStatus(jobID, domain.JobStatusStep2Ready, domain.ProgressStep2Ready); err != nil {
		return err
	}
	w.publish(ctx, jobID, domain.JobStatusStep2Ready, domain.ProgressStep2Ready, "")
	return nil
}

func parseRawChapters(raw []byte) ([]domain.Step2Chapter, error) {
	var doc domain.Step2Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc.Topics, nil
}

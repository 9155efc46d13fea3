package stagedrivers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/srt"
)

// LLMTopicSegmenter partitions the reviewed (final_step1) transcript into
// chapters. It only sees the *kept* lines — topics.RemapChapterLineIDs is
// what reconciles the 1..N ids this driver emits back onto real step1 line
// ids, so this driver doesn't need to know anything about removed lines at
// all.
type LLMTopicSegmenter struct {
	llm *llmClient
}

func NewLLMTopicSegmenter() *LLMTopicSegmenter {
	return &LLMTopicSegmenter{llm: newLLMClient()}
}

type rawTopic struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	LineIDs  []int  `json:"line_ids"`
}

type topicSegmentResponse struct {
	Topics []rawTopic `json:"topics"`
}

const topicSegmentSystemPrompt = `You are an assistant that segments a cleaned video transcript into topical chapters. Each input line is numbered starting at 1 over only the lines that survived editing. Group consecutive lines into 2-%d chapters that each cover a coherent topic, in chronological order, covering every line exactly once. Respond with a single JSON object: {"topics": [{"title": "<short title, max %d chars>", "summary": "<one sentence, max %d chars>", "line_ids": [<int>, ...]}]}.`

// TopicSegment implements TopicSegmentDriver: it builds a dense 1..N
// numbered view of the kept step1 lines, asks the model to chapterize it,
// and hands back the raw (still kept-index-numbered) topics.json bytes —
// the worker persists these verbatim as step2/topics.json before Algorithm
// B remaps them.
func (t *LLMTopicSegmenter) TopicSegment(ctx context.Context, finalStep1SRTText string, opts Options, progress ProgressFunc) ([]byte, error) {
	if progress == nil {
		progress = noopProgress
	}
	subs, err := srt.Parse(finalStep1SRTText)
	if err != nil {
		return nil, fmt.Errorf("stagedrivers: parse final step1 srt: %w", err)
	}
	kept := make([]srt.Subtitle, 0, len(subs))
	for _, s := range subs {
		if srt.IsRemoveText(s.Content) {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("stagedrivers: no kept lines to segment")
	}
	progress("topic_segment", 0.1)

	var sb strings.Builder
	for i, s := range kept {
		fmt.Fprintf(&sb, "%d [%.2f-%.2f]: %s\n", i+1, s.Start.Seconds(), s.End.Seconds(), srt.StripRemoveToken(strings.TrimSpace(s.Content)))
	}

	maxTopics := opts.TopicMaxTopics
	if maxTopics <= 0 {
		maxTopics = 12
	}
	titleMax := opts.TopicTitleMaxChars
	if titleMax <= 0 {
		titleMax = 24
	}
	summaryMax := opts.TopicSummaryMaxChars
	if summaryMax <= 0 {
		summaryMax = 120
	}
	system := fmt.Sprintf(topicSegmentSystemPrompt, maxTopics, titleMax, summaryMax)

	raw, err := t.llm.completeJSON(ctx, opts, system, sb.String())
	if err != nil {
		return nil, fmt.Errorf("stagedrivers: topic-segment completion: %w", err)
	}
	progress("topic_segment", 0.7)

	var parsed topicSegmentResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("stagedrivers: parse topic-segment response: %w; raw=%s", err, raw)
	}

	chapters := make([]domain.Step2Chapter, 0, len(parsed.Topics))
	for i, rt := range parsed.Topics {
		if len(rt.LineIDs) == 0 {
			continue
		}
		start, end := spanFor(kept, rt.LineIDs)
		title := strings.TrimSpace(rt.Title)
		if title == "" {
			title = fmt.Sprintf("章节%d", i+1)
		}
		chapters = append(chapters, domain.Step2Chapter{
			ChapterID: i + 1,
			Title:     title,
			Summary:   strings.TrimSpace(rt.Summary),
			StartSec:  start,
			EndSec:    end,
			LineIDs:   rt.LineIDs,
		})
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("stagedrivers: topic-segment produced no chapters")
	}
	progress("topic_segment", 1.0)
	return json.Marshal(domain.Step2Document{Topics: chapters})
}

// spanFor resolves a chapter's wall-clock start/end from the kept-line
// positions the model referenced (1-based), clamping out-of-range ids
// rather than failing the whole stage over one bad index.
func spanFor(kept []srt.Subtitle, lineIDs []int) (float64, float64) {
	start, end := -1.0, -1.0
	for _, id := range lineIDs {
		if id < 1 || id > len(kept) {
			continue
		}
		s := kept[id-1].Start.Seconds()
		e := kept[id-1].End.Seconds()
		if start < 0 || s < start {
			start = s
		}
		if e > end {
			end = e
		}
	}
	if start < 0 {
		start = 0
	}
	if end <= start {
		end = start + 1
	}
	return start, end
}

package stagedrivers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PoetCoderJun/autocut-backend/internal/srt"
)

// LLMAutoEditor decides which transcript lines to drop: one prompt over
// the numbered transcript, one JSON decision list back, driven through the
// OpenAI-compatible chat-completions wire format this package's llmClient
// speaks rather than a bespoke SDK.
type LLMAutoEditor struct {
	llm *llmClient
}

func NewLLMAutoEditor() *LLMAutoEditor {
	return &LLMAutoEditor{llm: newLLMClient()}
}

type autoEditDecision struct {
	Index  int    `json:"index"`
	Remove bool   `json:"remove"`
	Text   string `json:"text"`
}

type autoEditResponse struct {
	Decisions []autoEditDecision `json:"decisions"`
}

const autoEditSystemPrompt = `You are an assistant that cleans up an auto-generated subtitle transcript for a talking-head video. For each numbered line decide whether it should be removed (filler words, false starts, dead air, repeated takes) and, if kept, optionally rewrite it into cleaner prose while preserving its meaning and approximate length. Respond with a single JSON object: {"decisions": [{"index": <int>, "remove": <bool>, "text": "<rewritten or original text>"}]}. Include exactly one decision per input line, in the same order, referencing the same index.`

// AutoEdit implements AutoEditDriver: it re-numbers nothing, only annotates
// each subtitle's content with a REMOVE/keep decision, preserving the
// original SRT's index and timing so the downstream merge can align the
// two documents by index even if the model drops lines unexpectedly (we
// splice by index, not positionally).
func (a *LLMAutoEditor) AutoEdit(ctx context.Context, srtText string, opts Options, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = noopProgress
	}
	subs, err := srt.Parse(srtText)
	if err != nil {
		return "", fmt.Errorf("stagedrivers: parse srt for auto-edit: %w", err)
	}
	if len(subs) == 0 {
		return "", fmt.Errorf("stagedrivers: auto-edit input has no subtitles")
	}
	progress("auto_edit", 0.1)

	var sb strings.Builder
	for _, s := range subs {
		fmt.Fprintf(&sb, "%d: %s\n", s.Index, strings.TrimSpace(s.Content))
	}

	raw, err := a.llm.completeJSON(ctx, opts, autoEditSystemPrompt, sb.String())
	if err != nil {
		return "", fmt.Errorf("stagedrivers: auto-edit completion: %w", err)
	}
	progress("auto_edit", 0.7)

	var parsed autoEditResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", fmt.Errorf("stagedrivers: parse auto-edit response: %w; raw=%s", err, raw)
	}
	byIndex := make(map[int]autoEditDecision, len(parsed.Decisions))
	for _, d := range parsed.Decisions {
		byIndex[d.Index] = d
	}

	out := make([]srt.Subtitle, len(subs))
	for i, s := range subs {
		d, ok := byIndex[s.Index]
		content := strings.TrimSpace(s.Content)
		if ok {
			if strings.TrimSpace(d.Text) != "" {
				content = strings.TrimSpace(d.Text)
			}
			if d.Remove {
				content = srt.RemoveToken + content
			}
		}
		out[i] = srt.Subtitle{Index: s.Index, Start: s.Start, End: s.End, Content: content}
	}
	progress("auto_edit", 1.0)
	return srt.ComposePreserveIndex(out), nil
}

// Package stagedrivers implements the pipeline's out-of-process
// collaborators: transcribe, auto-edit, and topic-segment. Each is an
// interface so the worker can be wired against either the cloud-backed
// implementation or a fake in tests.
package stagedrivers

import (
	"time"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
)

// Options is the tuning surface shared by the three stage drivers. Render
// and codec settings live client-side and have no fields here.
type Options struct {
	Encoding string
	Lang     string
	Prompt   string

	ASRBaseURL       string
	ASRModel         string
	ASRTask          string
	ASRAPIKey        string
	ASRPollInterval  time.Duration
	ASRTimeout       time.Duration
	ASRLanguageHints []string
	ASRContext       string
	ASREnableWords   bool

	LLMBaseURL     string
	LLMModel       string
	LLMAPIKey      string
	LLMTimeout     time.Duration
	LLMTemperature float64
	LLMMaxTokens   int

	AutoEditMergeGap float64

	TopicMaxTopics       int
	TopicTitleMaxChars   int
	TopicSummaryMaxChars int
	TopicGenerateSummary bool
}

// LoadOptionsFromEnv builds Options straight from the environment through
// envutil rather than a bespoke settings object; the ASR/LLM vendor keys
// below are configuration this package owns.
func LoadOptionsFromEnv() Options {
	return Options{
		Encoding: "utf-8",
		Lang:     envutil.String("ASR_LANG", "zh"),
		Prompt:   envutil.String("ASR_PROMPT", ""),

		ASRBaseURL:       envutil.String("ASR_DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com/api/v1"),
		ASRModel:         envutil.String("ASR_DASHSCOPE_MODEL", "paraformer-v2"),
		ASRTask:          envutil.String("ASR_DASHSCOPE_TASK", "asr"),
		ASRAPIKey:        envutil.String("ASR_DASHSCOPE_API_KEY", ""),
		ASRPollInterval:  envutil.Duration("ASR_DASHSCOPE_POLL_INTERVAL", 5*time.Second),
		ASRTimeout:       envutil.Duration("ASR_DASHSCOPE_TIMEOUT", time.Hour),
		ASRContext:       envutil.String("ASR_DASHSCOPE_CONTEXT", ""),
		ASREnableWords:   envutil.Bool("ASR_DASHSCOPE_ENABLE_WORDS", false),

		LLMBaseURL:     envutil.String("LLM_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		LLMModel:       envutil.String("LLM_MODEL", "qwen-plus"),
		LLMAPIKey:      envutil.String("LLM_API_KEY", ""),
		LLMTimeout:     envutil.Duration("LLM_TIMEOUT", 2*time.Minute),
		LLMTemperature: 0.2,
		LLMMaxTokens:   envutil.Int("LLM_MAX_TOKENS", 4096),

		AutoEditMergeGap: 0.5,

		TopicMaxTopics:       envutil.Int("TOPIC_MAX_TOPICS", 12),
		TopicTitleMaxChars:   envutil.Int("TOPIC_TITLE_MAX_CHARS", 24),
		TopicSummaryMaxChars: envutil.Int("TOPIC_SUMMARY_MAX_CHARS", 120),
		TopicGenerateSummary: envutil.Bool("TOPIC_GENERATE_SUMMARY", true),
	}
}

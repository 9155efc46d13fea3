package stagedrivers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/httpx"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
	"github.com/PoetCoderJun/autocut-backend/internal/srt"
)

// AudioURLResolver makes a local audio file reachable by URL for the cloud
// ASR backend, which accepts input only as a fetchable file_url (it never
// takes raw bytes). The object store the deployment already uses for
// client uploads doubles as the staging bucket.
type AudioURLResolver interface {
	ResolveAudioURL(ctx context.Context, localPath, jobID string) (string, error)
}

// DashscopeTranscriber drives the cloud file-transcription API as the sole
// ASR backend: submit an async job referencing a fetchable audio URL, poll
// until it terminates, then convert the returned sentence list into SRT.
// This process never loads a speech model in-process.
type DashscopeTranscriber struct {
	log      *logger.Logger
	resolver AudioURLResolver
	client   *http.Client
}

func NewDashscopeTranscriber(resolver AudioURLResolver, baseLog *logger.Logger) *DashscopeTranscriber {
	return &DashscopeTranscriber{
		log:      baseLog.With("driver", "DashscopeTranscriber"),
		resolver: resolver,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type dashscopeSubmitRequest struct {
	Model string `json:"model"`
	Input struct {
		FileURLs []string `json:"file_urls"`
	} `json:"input"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type dashscopeSubmitResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dashscopeTaskResponse struct {
	Output struct {
		TaskStatus string `json:"task_status"`
		Results    []struct {
			TranscriptionURL string `json:"transcription_url"`
			Subtask          string `json:"subtask_status"`
		} `json:"results"`
		Message string `json:"message"`
	} `json:"output"`
}

type dashscopeTranscriptionDoc struct {
	Transcripts []struct {
		Sentences []struct {
			BeginTime int64  `json:"begin_time"`
			EndTime   int64  `json:"end_time"`
			Text      string `json:"text"`
		} `json:"sentences"`
	} `json:"transcripts"`
}

// Transcribe implements TranscribeDriver.
func (d *DashscopeTranscriber) Transcribe(ctx context.Context, audioPath string, opts Options, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = noopProgress
	}
	if opts.ASRAPIKey == "" {
		return "", fmt.Errorf("stagedrivers: ASR_DASHSCOPE_API_KEY not configured")
	}
	if d.resolver == nil {
		return "", fmt.Errorf("stagedrivers: no audio url resolver configured (object storage required for cloud ASR)")
	}

	audioURL, err := d.resolver.ResolveAudioURL(ctx, audioPath, "")
	if err != nil {
		return "", fmt.Errorf("stagedrivers: resolve audio url: %w", err)
	}
	progress("transcribe", 0.05)

	taskID, err := d.submit(ctx, audioURL, opts)
	if err != nil {
		return "", fmt.Errorf("stagedrivers: submit transcription task: %w", err)
	}

	deadline := time.Now().Add(opts.ASRTimeout)
	pollInterval := opts.ASRPollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	var transcriptionURL string
	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("stagedrivers: transcription task %s timed out after %s", taskID, opts.ASRTimeout)
		}
		status, urlFound, err := d.poll(ctx, taskID)
		if err != nil {
			return "", err
		}
		switch status {
		case "SUCCEEDED":
			transcriptionURL = urlFound
		case "FAILED", "UNKNOWN":
			return "", fmt.Errorf("stagedrivers: transcription task %s ended with status %s", taskID, status)
		}
		if transcriptionURL != "" {
			break
		}
		progress("transcribe", 0.3)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(httpx.JitterSleep(pollInterval)):
		}
	}
	progress("transcribe", 0.8)

	doc, err := d.fetchTranscription(ctx, transcriptionURL)
	if err != nil {
		return "", fmt.Errorf("stagedrivers: fetch transcription result: %w", err)
	}

	subs := make([]srt.Subtitle, 0, 64)
	idx := 1
	for _, t := range doc.Transcripts {
		for _, s := range t.Sentences {
			subs = append(subs, srt.Subtitle{
				Index:   idx,
				Start:   time.Duration(s.BeginTime) * time.Millisecond,
				End:     time.Duration(s.EndTime) * time.Millisecond,
				Content: s.Text,
			})
			idx++
		}
	}
	if len(subs) == 0 {
		return "", fmt.Errorf("stagedrivers: transcription produced no sentences")
	}
	progress("transcribe", 1.0)
	return srt.Compose(subs), nil
}

func (d *DashscopeTranscriber) submit(ctx context.Context, audioURL string, opts Options) (string, error) {
	reqBody := dashscopeSubmitRequest{Model: opts.ASRModel}
	reqBody.Input.FileURLs = []string{audioURL}
	reqBody.Parameters = map[string]any{
		"channel_id":     []int{0},
		"language_hints": optionalLanguageHints(opts),
	}
	if opts.ASRContext != "" {
		reqBody.Parameters["context"] = opts.ASRContext
	}
	if opts.ASREnableWords {
		reqBody.Parameters["enable_words"] = true
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.ASRBaseURL+"/services/audio/asr/transcription", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+opts.ASRAPIKey)
	req.Header.Set("X-DashScope-Async", "enable")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dashscope submit: status %d: %s", resp.StatusCode, string(body))
	}
	var out dashscopeSubmitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.Output.TaskID == "" {
		return "", fmt.Errorf("dashscope submit: %s: %s", out.Code, out.Message)
	}
	return out.Output.TaskID, nil
}

func (d *DashscopeTranscriber) poll(ctx context.Context, taskID string) (status string, transcriptionURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://dashscope.aliyuncs.com/api/v1/tasks/"+taskID, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("dashscope poll: status %d: %s", resp.StatusCode, string(body))
	}
	var out dashscopeTaskResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", "", err
	}
	if out.Output.TaskStatus == "SUCCEEDED" && len(out.Output.Results) > 0 {
		return out.Output.TaskStatus, out.Output.Results[0].TranscriptionURL, nil
	}
	return out.Output.TaskStatus, "", nil
}

func (d *DashscopeTranscriber) fetchTranscription(ctx context.Context, url string) (*dashscopeTranscriptionDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashscope result: status %d", resp.StatusCode)
	}
	var doc dashscopeTranscriptionDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func optionalLanguageHints(opts Options) []string {
	if len(opts.ASRLanguageHints) > 0 {
		return opts.ASRLanguageHints
	}
	if opts.Lang != "" {
		return []string{opts.Lang}
	}
	return nil
}

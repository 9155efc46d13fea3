// Package artifacts implements the on-disk artifact store:
// one subtree per job under a configured work directory, the only
// authoritative source of a job's produced files and its status/progress
// metadata. The relational store never holds job rows — only a job_id
// string as a foreign key inside credit_ledger and queue_tasks.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

const (
	metaFileName  = "job.meta.json"
	filesFileName = "job.files.json"
	errorFileName = "job.error.json"

	step1ConfirmedMarker = ".confirmed"
	step2ConfirmedMarker = ".confirmed"

	step1FinalJSON = "final_step1.json"
	step1FinalSRT  = "final_step1.srt"
	step2TopicsRaw = "topics.json"
	step2FinalJSON = "final_topics.json"

	renderOutputName = "output.mp4"
	renderCutSRTName = "cut.srt"
)

// Store owns a single work directory. All writes go through
// WriteAtomic; every computed path is checked with IsWithin before it is
// ever opened for write or deleted.
type Store struct {
	workDir string
	log     *logger.Logger
}

func New(workDir string, baseLog *logger.Logger) (*Store, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("artifacts: resolve work dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "jobs"), 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create jobs dir: %w", err)
	}
	return &Store{workDir: abs, log: baseLog.With("component", "ArtifactStore")}, nil
}

func (s *Store) WorkDir() string { return s.workDir }

// JobDir is the root directory for one job: W/jobs/<job_id>.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.workDir, "jobs", jobID)
}

func (s *Store) inputDir(jobID string) string  { return filepath.Join(s.JobDir(jobID), "input") }
func (s *Store) step1Dir(jobID string) string  { return filepath.Join(s.JobDir(jobID), "step1") }
func (s *Store) step2Dir(jobID string) string  { return filepath.Join(s.JobDir(jobID), "step2") }
func (s *Store) renderDir(jobID string) string { return filepath.Join(s.JobDir(jobID), "render") }

// IsWithin reports whether candidate resolves strictly inside base — the
// single path-traversal guard every delete/read path in this package
// funnels through.
func IsWithin(base, candidate string) bool {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absBase, absCandidate)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CreateJobDirs lays out the fixed subtree for a freshly created job.
func (s *Store) CreateJobDirs(jobID string) error {
	for _, dir := range []string{
		s.inputDir(jobID), s.step1Dir(jobID), s.step2Dir(jobID), s.renderDir(jobID),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("artifacts: create job dir %s: %w", dir, err)
		}
	}
	return nil
}

// writeAtomic writes to path.tmp then renames over path. Refuses to write
// outside the work directory.
func (s *Store) writeAtomic(path string, data []byte) error {
	if !IsWithin(s.workDir, path) {
		s.log.Error("refusing to write outside work dir", "path", path)
		return fmt.Errorf("artifacts: path %s escapes work dir", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifacts: mkdir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("artifacts: rename into place: %w", err)
	}
	return nil
}

func readJSON(path string, out any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("artifacts: parse %s: %w", path, err)
	}
	return true, nil
}

// --- job.meta.json ---

func (s *Store) metaPath(jobID string) string { return filepath.Join(s.JobDir(jobID), metaFileName) }

func (s *Store) ReadMeta(jobID string) (*domain.Job, error) {
	var job domain.Job
	ok, err := readJSON(s.metaPath(jobID), &job)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, os.ErrNotExist
	}
	return &job, nil
}

func (s *Store) WriteMeta(job *domain.Job) error {
	raw, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal job meta: %w", err)
	}
	return s.writeAtomic(s.metaPath(job.JobID), raw)
}

// --- job.files.json ---

func (s *Store) filesPath(jobID string) string { return filepath.Join(s.JobDir(jobID), filesFileName) }

func (s *Store) ReadFiles(jobID string) (*domain.JobFiles, error) {
	var files domain.JobFiles
	ok, err := readJSON(s.filesPath(jobID), &files)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &domain.JobFiles{}, nil
	}
	return &files, nil
}

func (s *Store) WriteFiles(jobID string, files *domain.JobFiles) error {
	raw, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal job files: %w", err)
	}
	return s.writeAtomic(s.filesPath(jobID), raw)
}

// --- job.error.json ---

func (s *Store) errorPath(jobID string) string { return filepath.Join(s.JobDir(jobID), errorFileName) }

func (s *Store) ReadError(jobID string) (*domain.JobError, bool) {
	var jobErr domain.JobError
	ok, err := readJSON(s.errorPath(jobID), &jobErr)
	if err != nil || !ok {
		return nil, false
	}
	return &jobErr, true
}

func (s *Store) WriteError(jobID string, jobErr *domain.JobError) error {
	raw, err := json.MarshalIndent(jobErr, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal job error: %w", err)
	}
	return s.writeAtomic(s.errorPath(jobID), raw)
}

func (s *Store) ClearError(jobID string) error {
	path := s.errorPath(jobID)
	if !IsWithin(s.workDir, path) {
		return fmt.Errorf("artifacts: path %s escapes work dir", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifacts: clear job error: %w", err)
	}
	return nil
}

// --- confirmation markers ---

func (s *Store) Step1ConfirmedPath(jobID string) string {
	return filepath.Join(s.step1Dir(jobID), step1ConfirmedMarker)
}
func (s *Store) Step2ConfirmedPath(jobID string) string {
	return filepath.Join(s.step2Dir(jobID), step2ConfirmedMarker)
}

func (s *Store) Step1Confirmed(jobID string) bool { return fileExists(s.Step1ConfirmedPath(jobID)) }
func (s *Store) Step2Confirmed(jobID string) bool { return fileExists(s.Step2ConfirmedPath(jobID)) }

func (s *Store) MarkStep1Confirmed(jobID string) error {
	return s.writeAtomic(s.Step1ConfirmedPath(jobID), []byte{})
}
func (s *Store) MarkStep2Confirmed(jobID string) error {
	return s.writeAtomic(s.Step2ConfirmedPath(jobID), []byte{})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// --- step1/final_step1.json & .srt ---

func (s *Store) Step1FinalJSONPath(jobID string) string {
	return filepath.Join(s.step1Dir(jobID), step1FinalJSON)
}
func (s *Store) Step1FinalSRTPath(jobID string) string {
	return filepath.Join(s.step1Dir(jobID), step1FinalSRT)
}

func (s *Store) ReadStep1Lines(jobID string) ([]domain.Step1Line, error) {
	var doc domain.Step1Document
	ok, err := readJSON(s.Step1FinalJSONPath(jobID), &doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, os.ErrNotExist
	}
	return doc.Lines, nil
}

func (s *Store) WriteStep1Lines(jobID string, lines []domain.Step1Line) error {
	sorted := make([]domain.Step1Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LineID < sorted[j].LineID })
	raw, err := json.MarshalIndent(domain.Step1Document{Lines: sorted}, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal step1 lines: %w", err)
	}
	return s.writeAtomic(s.Step1FinalJSONPath(jobID), raw)
}

func (s *Store) WriteStep1FinalSRT(jobID, srtText string) error {
	return s.writeAtomic(s.Step1FinalSRTPath(jobID), []byte(srtText))
}

// Step1TranscriptSRTPath is where the raw ASR transcript lands before
// auto-edit runs.
func (s *Store) Step1TranscriptSRTPath(jobID string) string {
	return filepath.Join(s.step1Dir(jobID), "transcript.srt")
}

// Step1OptimizedSRTPath is the auto-edit driver's output.
func (s *Store) Step1OptimizedSRTPath(jobID string) string {
	return filepath.Join(s.step1Dir(jobID), "optimized.srt")
}

// WriteText atomically writes a text artifact at an exact path (which must
// resolve inside the work directory).
func (s *Store) WriteText(path, text string) error {
	return s.writeAtomic(path, []byte(text))
}

// ReadTextFile reads a declared artifact, refusing paths outside the work
// directory.
func (s *Store) ReadTextFile(path string) (string, error) {
	if !IsWithin(s.workDir, path) {
		return "", fmt.Errorf("artifacts: path %s escapes work dir", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// --- step2/topics.json & final_topics.json ---

func (s *Store) Step2TopicsRawPath(jobID string) string {
	return filepath.Join(s.step2Dir(jobID), step2TopicsRaw)
}
func (s *Store) Step2FinalJSONPath(jobID string) string {
	return filepath.Join(s.step2Dir(jobID), step2FinalJSON)
}

func (s *Store) ReadStep2Chapters(jobID string) ([]domain.Step2Chapter, error) {
	var doc domain.Step2Document
	ok, err := readJSON(s.Step2FinalJSONPath(jobID), &doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, os.ErrNotExist
	}
	return doc.Topics, nil
}

func (s *Store) WriteStep2Chapters(jobID string, chapters []domain.Step2Chapter) error {
	raw, err := json.MarshalIndent(domain.Step2Document{Topics: chapters}, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: marshal step2 chapters: %w", err)
	}
	return s.writeAtomic(s.Step2FinalJSONPath(jobID), raw)
}

// --- input / render ---

func (s *Store) InputDir(jobID string) string { return s.inputDir(jobID) }

// InputAudioPath returns the conventional path audio for a job is stored at.
func (s *Store) InputAudioPath(jobID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return filepath.Join(s.inputDir(jobID), "audio."+ext)
}

// HasInputAudio scans input/ for any file, used by infer_status's fallback
// evidence.
func (s *Store) HasInputAudio(jobID string) bool {
	entries, err := os.ReadDir(s.inputDir(jobID))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() {
			return true
		}
	}
	return false
}

func (s *Store) RenderOutputPath(jobID string) string {
	return filepath.Join(s.renderDir(jobID), renderOutputName)
}
func (s *Store) RenderCutSRTPath(jobID string) string {
	return filepath.Join(s.renderDir(jobID), renderCutSRTName)
}

func (s *Store) HasRenderOutput(jobID string) bool { return fileExists(s.RenderOutputPath(jobID)) }
func (s *Store) HasStep1Final(jobID string) bool   { return fileExists(s.Step1FinalJSONPath(jobID)) }
func (s *Store) HasStep2Final(jobID string) bool   { return fileExists(s.Step2FinalJSONPath(jobID)) }
func (s *Store) HasJobError(jobID string) bool     { return fileExists(s.errorPath(jobID)) }

// --- cleanup support ---

// EnumerateDeclaredPaths returns every declared artifact path plus the job's
// base directory, for cleanup's delete pass.
func (s *Store) EnumerateDeclaredPaths(jobID string, files *domain.JobFiles) []string {
	paths := files.DeclaredPaths()
	out := make([]string, 0, len(paths)+1)
	for _, p := range paths {
		if IsWithin(s.workDir, p) {
			out = append(out, p)
		}
	}
	out = append(out, s.JobDir(jobID))
	return out
}

// RemovePaths deletes paths sorted by depth descending (deepest first) so a
// file is removed before its parent directory; errors on recursive
// directory removal are ignored.
func (s *Store) RemovePaths(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return strings.Count(paths[i], string(filepath.Separator)) > strings.Count(paths[j], string(filepath.Separator))
	})
	for _, p := range paths {
		if !IsWithin(s.workDir, p) {
			s.log.Warn("cleanup: refusing to remove path outside work dir", "path", p)
			continue
		}
		_ = os.RemoveAll(p)
	}
}

// RemoveJobDir deletes the entire job subtree.
func (s *Store) RemoveJobDir(jobID string) error {
	dir := s.JobDir(jobID)
	if !IsWithin(s.workDir, dir) {
		return fmt.Errorf("artifacts: refusing to remove job dir outside work dir: %s", dir)
	}
	return os.RemoveAll(dir)
}

// ListJobIDs enumerates every job directory under W/jobs.
func (s *Store) ListJobIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.workDir, "jobs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ListOrphanJobDirs returns job directories with no job.meta.json, older
// than cutoff (if non-zero), for the startup orphan sweep.
func (s *Store) ListOrphanJobDirs(cutoff time.Duration) ([]string, error) {
	ids, err := s.ListJobIDs()
	if err != nil {
		return nil, err
	}
	var orphans []string
	now := time.Now()
	for _, id := range ids {
		dir := s.JobDir(id)
		if fileExists(filepath.Join(dir, metaFileName)) {
			continue
		}
		if cutoff > 0 {
			info, err := os.Stat(dir)
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) < cutoff {
				continue
			}
		}
		orphans = append(orphans, dir)
	}
	return orphans, nil
}

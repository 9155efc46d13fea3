package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PoetCoderJun/autocut-backend/internal/domain"
)

func TestInferFromDiskPrecedence(t *testing.T) {
	cases := []struct {
		name string
		ev   DiskEvidence
		want string
	}{
		{"empty dir", DiskEvidence{}, domain.JobStatusCreated},
		{"audio only", DiskEvidence{HasInputAudio: true}, domain.JobStatusUploadReady},
		{"step1 final", DiskEvidence{HasInputAudio: true, HasStep1Final: true}, domain.JobStatusStep1Ready},
		{"step1 confirmed", DiskEvidence{HasInputAudio: true, HasStep1Final: true, Step1Confirmed: true}, domain.JobStatusStep1Confirmed},
		{"step2 final", DiskEvidence{HasStep1Final: true, Step1Confirmed: true, HasStep2Final: true}, domain.JobStatusStep2Ready},
		{"step2 confirmed", DiskEvidence{HasStep2Final: true, Step2Confirmed: true}, domain.JobStatusStep2Confirmed},
		{"render output beats confirmations", DiskEvidence{HasRenderOutput: true, Step2Confirmed: true}, domain.JobStatusSucceeded},
		{"error file beats everything", DiskEvidence{HasJobError: true, HasRenderOutput: true}, domain.JobStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, inferFromDisk(tc.ev))
		})
	}
}

func TestInferStatusReconciliation(t *testing.T) {
	// A running meta wins while disk hasn't produced stage output yet.
	assert.Equal(t, domain.JobStatusStep1Running,
		InferStatus(domain.JobStatusStep1Running, DiskEvidence{HasInputAudio: true}))
	assert.Equal(t, domain.JobStatusStep1Running,
		InferStatus(domain.JobStatusStep1Running, DiskEvidence{}))
	assert.Equal(t, domain.JobStatusStep2Running,
		InferStatus(domain.JobStatusStep2Running, DiskEvidence{HasStep1Final: true, Step1Confirmed: true}))

	// Once disk shows stage output, the inferred state wins over a stale
	// running meta: the restart-recovery scenario.
	assert.Equal(t, domain.JobStatusStep1Ready,
		InferStatus(domain.JobStatusStep1Running, DiskEvidence{HasInputAudio: true, HasStep1Final: true}))

	// A failed meta sticks unless disk reached a terminal state on its own.
	assert.Equal(t, domain.JobStatusFailed,
		InferStatus(domain.JobStatusFailed, DiskEvidence{HasInputAudio: true}))
	assert.Equal(t, domain.JobStatusSucceeded,
		InferStatus(domain.JobStatusFailed, DiskEvidence{HasRenderOutput: true}))

	// A drained cleanup shell keeps reading as SUCCEEDED.
	assert.Equal(t, domain.JobStatusSucceeded,
		InferStatus(domain.JobStatusSucceeded, DiskEvidence{}))

	// Otherwise disk evidence is authoritative.
	assert.Equal(t, domain.JobStatusStep2Ready,
		InferStatus(domain.JobStatusStep1Confirmed, DiskEvidence{HasStep2Final: true}))
}

func TestFixedProgressForStatus(t *testing.T) {
	for status, want := range map[string]int{
		domain.JobStatusCreated:        0,
		domain.JobStatusUploadReady:    10,
		domain.JobStatusStep1Ready:     35,
		domain.JobStatusStep1Confirmed: 45,
		domain.JobStatusStep2Ready:     75,
		domain.JobStatusStep2Confirmed: 80,
		domain.JobStatusSucceeded:      100,
	} {
		got, ok := FixedProgressForStatus(status)
		assert.True(t, ok, status)
		assert.Equal(t, want, got, status)
	}
	_, ok := FixedProgressForStatus(domain.JobStatusStep1Running)
	assert.False(t, ok)
}

func TestClampRunningProgress(t *testing.T) {
	// Stays inside the band and below the next rung's floor.
	assert.Equal(t, domain.ProgressStep1RunFloor, ClampRunningProgress(domain.JobStatusStep1Running, 0, 0))
	assert.Equal(t, domain.ProgressStep1RunCeil, ClampRunningProgress(domain.JobStatusStep1Running, 0, 1))
	assert.Equal(t, domain.ProgressStep1RunCeil, ClampRunningProgress(domain.JobStatusStep1Running, 0, 5))

	// Monotonic: a lower report never moves progress backwards.
	assert.Equal(t, 25, ClampRunningProgress(domain.JobStatusStep1Running, 25, 0.1))

	mid := ClampRunningProgress(domain.JobStatusStep2Running, 0, 0.5)
	assert.GreaterOrEqual(t, mid, domain.ProgressStep2RunFloor)
	assert.LessOrEqual(t, mid, domain.ProgressStep2RunCeil)

	// Unknown states leave progress untouched.
	assert.Equal(t, 42, ClampRunningProgress(domain.JobStatusCreated, 42, 0.9))
}

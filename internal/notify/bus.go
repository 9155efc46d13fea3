// Package notify fans job progress out to other processes over a Redis
// pub/sub channel, so a polling frontend can be upgraded to push later and
// multi-host deployments can observe each other's workers. Deployments
// without Redis run on the no-op bus; nothing in the pipeline depends on
// delivery.
package notify

import "context"

// ProgressEvent is one job status/progress observation.
type ProgressEvent struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Stage    string `json:"stage,omitempty"`
}

type Bus interface {
	PublishProgress(ctx context.Context, ev ProgressEvent) error
	Close() error
}

type noopBus struct{}

func (noopBus) PublishProgress(context.Context, ProgressEvent) error { return nil }
func (noopBus) Close() error                                         { return nil }

// NewNoopBus is the bus for deployments without REDIS_ADDR configured.
func NewNoopBus() Bus { return noopBus{} }

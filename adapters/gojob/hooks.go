package gojob

import (
	"context"

	"github.com/goliatone/go-mantis/core"
)

// MetricsHook counts worker outcomes as mantis.job.total{operation,status}
// and times every settled execution.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(context.Context, core.JobWorkerEvent) {}

func (h *MetricsHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.record(ctx, event, "success")
}

func (h *MetricsHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.record(ctx, event, "dead_letter")
}

func (h *MetricsHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.record(ctx, event, "retry")
}

func (h *MetricsHook) record(ctx context.Context, event core.JobWorkerEvent, status string) {
	jobID := "unknown"
	if event.Message != nil && event.Message.JobID != "" {
		jobID = event.Message.JobID
	}
	tags := map[string]string{"operation": jobID, "status": status}
	h.recorder.IncCounter(ctx, "mantis.job.total", 1, tags)
	h.recorder.ObserveHistogram(ctx, "mantis.job.duration_ms", float64(event.Duration.Milliseconds()), tags)
}

var _ core.JobWorkerHook = (*MetricsHook)(nil)

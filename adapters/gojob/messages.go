package gojob

import (
	"maps"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-mantis/core"
)

// Job ids double as go-job script paths; the runner switches on them.
const (
	JobIDWebhooksDispatch        = "mantis.webhooks.dispatch"
	JobIDReconciliationCalculate = "mantis.reconciliation.calculate"

	ParamReconciliationID = "reconciliation_id"
	DedupPolicyDrop       = "drop"

	dispatchSlot = time.Minute
)

// DispatchWebhooksMessage schedules one dispatcher pass. Triggers within the
// same minute share an idempotency key, so a burst collapses into one pass.
func DispatchWebhooksMessage(now time.Time) *core.JobExecutionMessage {
	slot := now.UTC().Truncate(dispatchSlot).Format(time.RFC3339)
	return newJobMessage(JobIDWebhooksDispatch, slot, nil)
}

func CalculateReconciliationMessage(reconciliationID string) *core.JobExecutionMessage {
	reconciliationID = strings.TrimSpace(reconciliationID)
	return newJobMessage(JobIDReconciliationCalculate, reconciliationID,
		map[string]any{ParamReconciliationID: reconciliationID})
}

func newJobMessage(jobID, key string, params map[string]any) *core.JobExecutionMessage {
	if params == nil {
		params = map[string]any{}
	}
	return &core.JobExecutionMessage{
		JobID:          jobID,
		ScriptPath:     jobID,
		Parameters:     params,
		IdempotencyKey: jobID + ":" + key,
		DedupPolicy:    DedupPolicyDrop,
	}
}

func toQueueMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func fromQueueMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    string(msg.DedupPolicy),
	}
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

package core

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// metricTagKeys are the log fields promoted to metric tags when present.
var metricTagKeys = []string{"error_code", "webhook_event"}

// observeOperation closes out one service call: a mantis.<op>.total counter,
// a mantis.<op>.duration_ms histogram and a single log line carrying fields.
func (s *Service) observeOperation(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if s == nil {
		return
	}
	op := operationName(operation)
	elapsed := time.Since(startedAt).Milliseconds()

	entry := copyFields(fields)
	entry["operation"] = op
	entry["duration_ms"] = elapsed
	entry["status"] = statusSuccess
	if err != nil {
		entry["status"] = statusFailure
		entry["error"] = err.Error()
		if code := errorTextCode(err); code != "" {
			entry["error_code"] = code
		}
	}

	tags := map[string]string{"operation": op, "status": entry["status"].(string)}
	for _, key := range metricTagKeys {
		if value, ok := entry[key].(string); ok && strings.TrimSpace(value) != "" {
			tags[key] = value
		}
	}
	if s.metricsRecorder != nil {
		s.metricsRecorder.IncCounter(ctx, "mantis."+op+".total", 1, maps.Clone(tags))
		s.metricsRecorder.ObserveHistogram(ctx, "mantis."+op+".duration_ms", float64(elapsed), maps.Clone(tags))
	}

	if err != nil {
		logWithFields(ctx, s.logger, "error", op+" failed", entry)
		return
	}
	logWithFields(ctx, s.logger, "info", op+" succeeded", entry)
}

func (s *Service) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if s == nil {
		return
	}
	logWithFields(ctx, s.logger, level, message, fields)
}

// logWithFields attaches fields through FieldsLogger when the logger supports
// it and always repeats them as sorted key/value args.
func logWithFields(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if withFields, ok := logger.(FieldsLogger); ok {
		logger = withFields.WithFields(copyFields(fields))
	}

	emit := logger.Info
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		emit = logger.Error
	case "warn":
		emit = logger.Warn
	case "debug":
		emit = logger.Debug
	}

	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	emit(message, args...)
}

func errorTextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return strings.TrimSpace(rich.TextCode)
	}
	return ""
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+4)
	maps.Copy(out, fields)
	return out
}

// operationName turns "Webhooks Process" or "webhooks-process" into
// webhooks_process.
func operationName(operation string) string {
	name := strings.ToLower(strings.TrimSpace(operation))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	if name == "" {
		return "unknown"
	}
	return name
}

package transport

import (
	"context"
	"time"

	"github.com/goliatone/go-mantis/core"
)

// SenderFunc adapts a function to core.DeliverySender.
type SenderFunc func(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error)

func (f SenderFunc) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	return f(ctx, req)
}

// Interceptor decorates a sender. Interceptors passed to Chain run in order,
// the first one outermost.
type Interceptor func(next core.DeliverySender) core.DeliverySender

func Chain(sender core.DeliverySender, interceptors ...Interceptor) core.DeliverySender {
	for i := len(interceptors) - 1; i >= 0; i-- {
		if interceptors[i] == nil {
			continue
		}
		sender = interceptors[i](sender)
	}
	return sender
}

// WithDefaultHeaders sets headers the request does not already carry.
func WithDefaultHeaders(headers map[string]string) Interceptor {
	defaults := make(map[string]string, len(headers))
	for key, value := range headers {
		defaults[key] = value
	}
	return func(next core.DeliverySender) core.DeliverySender {
		return SenderFunc(func(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
			merged := make(map[string]string, len(req.Headers)+len(defaults))
			for key, value := range defaults {
				merged[key] = value
			}
			for key, value := range req.Headers {
				merged[key] = value
			}
			req.Headers = merged
			return next.Do(ctx, req)
		})
	}
}

// WithLogging logs each outbound request at debug level and failures at warn.
func WithLogging(logger core.Logger) Interceptor {
	return func(next core.DeliverySender) core.DeliverySender {
		if logger == nil {
			return next
		}
		return SenderFunc(func(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
			startedAt := time.Now()
			res, err := next.Do(ctx, req)
			elapsed := time.Since(startedAt).Milliseconds()
			if err != nil {
				logger.Warn("webhook request failed",
					"url", req.URL,
					"delivery_id", req.Idempotency,
					"duration_ms", elapsed,
					"error", err,
				)
				return res, err
			}
			logger.Debug("webhook request sent",
				"url", req.URL,
				"delivery_id", req.Idempotency,
				"status_code", res.StatusCode,
				"duration_ms", elapsed,
			)
			return res, nil
		})
	}
}

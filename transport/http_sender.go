package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-mantis/core"
)

const (
	SenderName = "http"

	HeaderIdempotencyKey = "Idempotency-Key"

	// MetadataTruncated flags a response whose body was cut at the limit.
	MetadataTruncated = "truncated"
	// MetadataDurationMS holds the wall time of the round trip.
	MetadataDurationMS = "duration_ms"

	DefaultClientTimeout           = 30 * time.Second
	DefaultResponseBodyLimit int64 = 1 << 20
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSender posts webhook payloads to receiver endpoints. The receiver's
// status code is returned as is; deciding what counts as success belongs to
// the dispatcher. Response bodies over the limit are cut, not rejected.
type HTTPSender struct {
	Client        Doer
	BodyLimit     int64
	StaticHeaders map[string]string
	now           func() time.Time
}

func NewHTTPSender(client Doer) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &HTTPSender{
		Client:    client,
		BodyLimit: DefaultResponseBodyLimit,
		now:       time.Now,
	}
}

func (s *HTTPSender) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if s == nil || s.Client == nil {
		return core.TransportResponse{}, sendError(nil, goerrors.CategoryInternal, http.StatusInternalServerError,
			"transport: http sender has no client", map[string]any{})
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := s.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}

	now := s.now
	if now == nil {
		now = time.Now
	}
	started := now()
	httpRes, err := s.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, sendError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: post to receiver failed", map[string]any{"url": httpReq.URL.String()})
	}
	defer httpRes.Body.Close()

	body, truncated, err := readCapped(httpRes.Body, s.limitFor(req))
	if err != nil {
		return core.TransportResponse{}, sendError(err, goerrors.CategoryExternal, http.StatusBadGateway,
			"transport: read receiver response", map[string]any{"status_code": httpRes.StatusCode})
	}
	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    joinHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			MetadataDurationMS: now().Sub(started).Milliseconds(),
			MetadataTruncated:  truncated,
		},
	}, nil
}

func (s *HTTPSender) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	rawURL := strings.TrimSpace(req.URL)
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return nil, sendError(err, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: receiver url must be absolute", map[string]any{"url": rawURL})
	}
	if len(req.Query) > 0 {
		values := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = values.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, sendError(err, goerrors.CategoryBadInput, http.StatusBadRequest,
			"transport: build receiver request", map[string]any{"method": method, "url": target.String()})
	}

	setHeaders(httpReq.Header, s.StaticHeaders)
	setHeaders(httpReq.Header, req.Headers)
	if key := strings.TrimSpace(req.Idempotency); key != "" && httpReq.Header.Get(HeaderIdempotencyKey) == "" {
		httpReq.Header.Set(HeaderIdempotencyKey, key)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func (s *HTTPSender) limitFor(req core.TransportRequest) int64 {
	switch {
	case req.MaxResponseBodyBytes > 0:
		return req.MaxResponseBodyBytes
	case s.BodyLimit > 0:
		return s.BodyLimit
	default:
		return DefaultResponseBodyLimit
	}
}

// readCapped reads at most limit bytes and reports whether more were
// available.
func readCapped(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

func joinHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		out[key] = strings.Join(values, ",")
	}
	return out
}

var _ core.DeliverySender = (*HTTPSender)(nil)

package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-mantis/core"
)

const (
	defaultReceiverBodyLimit int64 = 1 << 20

	// HeaderDuplicate is set on acknowledgements of already handled deliveries.
	HeaderDuplicate = "X-Mantis-Duplicate"
)

var (
	ErrSignatureInvalid = errors.New("webhooks: signature verification failed")
	ErrEventTypeMissing = errors.New("webhooks: event type header is required")
)

// Delivery is one verified inbound webhook.
type Delivery struct {
	ID        string
	EventType string
	Payload   []byte
	Headers   http.Header
}

type HandlerFunc func(ctx context.Context, delivery Delivery) error

type ReceiverOption func(*Receiver)

func WithReceiverSigner(signer core.PayloadSigner) ReceiverOption {
	return func(r *Receiver) {
		if signer != nil {
			r.signer = signer
		}
	}
}

func WithReceiverDeduper(deduper *DeliveryDeduper) ReceiverOption {
	return func(r *Receiver) {
		r.deduper = deduper
	}
}

func WithReceiverBodyLimit(limit int64) ReceiverOption {
	return func(r *Receiver) {
		if limit > 0 {
			r.bodyLimit = limit
		}
	}
}

func WithReceiverLogger(logger core.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// Receiver is the subscriber side of a MANTIS webhook. It answers 2xx only
// when the handler succeeded, so a failing handler makes the dispatcher retry.
type Receiver struct {
	secret    string
	handler   HandlerFunc
	signer    core.PayloadSigner
	deduper   *DeliveryDeduper
	bodyLimit int64
	logger    core.Logger
}

func NewReceiver(secret string, handler HandlerFunc, opts ...ReceiverOption) *Receiver {
	receiver := &Receiver{
		secret:    secret,
		handler:   handler,
		signer:    core.HMACSigner{},
		bodyLimit: defaultReceiverBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(receiver)
		}
	}
	return receiver
}

// Verify reads the request body and checks its signature.
func (r *Receiver) Verify(req *http.Request) (Delivery, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, r.bodyLimit))
	if err != nil {
		return Delivery{}, err
	}
	if !core.VerifySignature(r.signer, r.secret, body, req.Header.Get(core.SignatureHeader)) {
		return Delivery{}, ErrSignatureInvalid
	}
	eventType := strings.TrimSpace(req.Header.Get(core.HeaderEventType))
	if eventType == "" {
		return Delivery{}, ErrEventTypeMissing
	}
	return Delivery{
		ID:        strings.TrimSpace(req.Header.Get(core.HeaderDeliveryID)),
		EventType: eventType,
		Payload:   body,
		Headers:   req.Header.Clone(),
	}, nil
}

func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	delivery, err := r.Verify(req)
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		r.warn("rejected webhook with invalid signature", "remote_addr", req.RemoteAddr)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if r.deduper.Seen(delivery.ID) {
		w.Header().Set(HeaderDuplicate, "true")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.handler != nil {
		if err := r.handler(req.Context(), delivery); err != nil {
			r.warn("webhook handler failed", "delivery_id", delivery.ID, "event_type", delivery.EventType, "error", err)
			http.Error(w, "handler failed", http.StatusInternalServerError)
			return
		}
	}
	r.deduper.Mark(delivery.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Receiver) warn(message string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message, args...)
}

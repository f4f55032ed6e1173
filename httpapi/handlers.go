package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-mantis/adapters/gojob"
	"github.com/goliatone/go-mantis/core"
	"github.com/shopspring/decimal"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
	HeaderAgencyID  = "X-Agency-ID"

	maxRequestBodyBytes = 1 << 20
)

// Handlers groups the HTTP handler methods and their dependencies.
type Handlers struct {
	service    Service
	authorizer Authorizer
	logger     core.Logger
	health     HealthCheck
	jobs       core.JobEnqueuer
}

type queuedResponse struct {
	Queued bool   `json:"queued"`
	JobID  string `json:"jobId"`
}

type reconcileRequest struct {
	ReconciliationID string `json:"reconciliationId"`
}

type reconcileResponse struct {
	Totals totalsView `json:"totals"`
}

// totalsView renders amounts as JSON numbers with two decimals.
type totalsView struct {
	TotalPayments json.Number `json:"totalPayments"`
	TotalRefunds  json.Number `json:"totalRefunds"`
	NetAmount     json.Number `json:"netAmount"`
	PaymentCount  int         `json:"paymentCount"`
	RefundCount   int         `json:"refundCount"`
}

type publishRequest struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

type reconciliationView struct {
	ID            string      `json:"id"`
	Date          string      `json:"date"`
	AgencyID      string      `json:"agencyId,omitempty"`
	Status        string      `json:"status"`
	Notes         string      `json:"notes,omitempty"`
	TotalPayments json.Number `json:"totalPayments"`
	TotalRefunds  json.Number `json:"totalRefunds"`
	NetAmount     json.Number `json:"netAmount"`
	PaymentCount  int         `json:"paymentCount"`
	RefundCount   int         `json:"refundCount"`
	CreatedAt     string      `json:"createdAt"`
	UpdatedAt     string      `json:"updatedAt"`
}

type deliveryView struct {
	ID           string          `json:"id"`
	WebhookID    string          `json:"webhookId"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       string          `json:"status"`
	AttemptCount int             `json:"attemptCount"`
	ResponseCode *int            `json:"responseCode,omitempty"`
	ResponseBody string          `json:"responseBody,omitempty"`
	NextRetryAt  *string         `json:"nextRetryAt,omitempty"`
	DeliveredAt  *string         `json:"deliveredAt,omitempty"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

type deliveryPageView struct {
	Items   []deliveryView `json:"items"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"perPage"`
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := core.HTTPStatus(err)
	body := map[string]string{"error": err.Error()}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		body["error"] = richErr.Message
		if code := strings.TrimSpace(richErr.TextCode); code != "" {
			body["code"] = code
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err.Error(),
		)
	}
	writeJSON(w, status, body)
}

// ActorFromRequest reads the caller identity forwarded by the gateway.
func ActorFromRequest(r *http.Request) core.Actor {
	return core.Actor{
		ID:       strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Role:     strings.TrimSpace(r.Header.Get(HeaderActorRole)),
		AgencyID: strings.TrimSpace(r.Header.Get(HeaderAgencyID)),
	}
}

func (h *Handlers) authorize(r *http.Request, action core.Action, resource core.Resource) error {
	if h.authorizer == nil {
		return core.PermissionDeniedError(action, resource)
	}
	return h.authorizer.Authorize(r.Context(), ActorFromRequest(r), action, resource)
}

func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// enqueueAsync queues msg when the caller asked for async execution. It
// reports whether the response was written.
func (h *Handlers) enqueueAsync(w http.ResponseWriter, r *http.Request, msg *core.JobExecutionMessage) bool {
	if h.jobs == nil || !strings.EqualFold(r.URL.Query().Get("async"), "true") {
		return false
	}
	if err := h.jobs.Enqueue(r.Context(), msg); err != nil {
		h.fail(w, r, err)
		return true
	}
	writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true, JobID: msg.JobID})
	return true
}

func parsePositiveInt(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, core.BadInputError("invalid " + name)
	}
	return value, nil
}

func reconciliationResource(record core.ReconciliationRecord) core.Resource {
	return core.Resource{
		Kind:     core.ResourceReconciliation,
		ID:       record.ID,
		AgencyID: record.AgencyID,
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := formatTime(*value)
	return &formatted
}

func toReconciliationView(record core.ReconciliationRecord) reconciliationView {
	return reconciliationView{
		ID:            record.ID,
		Date:          record.Date,
		AgencyID:      record.AgencyID,
		Status:        string(record.Status),
		Notes:         record.Notes,
		TotalPayments: amount(record.TotalPayments),
		TotalRefunds:  amount(record.TotalRefunds),
		NetAmount:     amount(record.NetAmount),
		PaymentCount:  record.PaymentCount,
		RefundCount:   record.RefundCount,
		CreatedAt:     formatTime(record.CreatedAt),
		UpdatedAt:     formatTime(record.UpdatedAt),
	}
}

func toTotalsView(totals core.ReconciliationTotals) totalsView {
	return totalsView{
		TotalPayments: amount(totals.TotalPayments),
		TotalRefunds:  amount(totals.TotalRefunds),
		NetAmount:     amount(totals.NetAmount),
		PaymentCount:  totals.PaymentCount,
		RefundCount:   totals.RefundCount,
	}
}

func amount(value decimal.Decimal) json.Number {
	return json.Number(value.StringFixed(2))
}

func toDeliveryView(delivery core.WebhookDelivery) deliveryView {
	view := deliveryView{
		ID:           delivery.ID,
		WebhookID:    delivery.WebhookID,
		EventType:    delivery.EventType,
		Status:       string(delivery.Status),
		AttemptCount: delivery.AttemptCount,
		ResponseCode: delivery.ResponseCode,
		ResponseBody: delivery.ResponseBody,
		NextRetryAt:  formatTimePtr(delivery.NextRetryAt),
		DeliveredAt:  formatTimePtr(delivery.DeliveredAt),
		CreatedAt:    formatTime(delivery.CreatedAt),
		UpdatedAt:    formatTime(delivery.UpdatedAt),
	}
	if json.Valid(delivery.Payload) {
		view.Payload = json.RawMessage(delivery.Payload)
	}
	return view
}

// --- Reconcile ---

func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	reconciliationID := strings.TrimSpace(req.ReconciliationID)
	if reconciliationID == "" {
		writeError(w, http.StatusBadRequest, "reconciliationId is required")
		return
	}

	record, err := h.service.GetReconciliation(r.Context(), reconciliationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.authorize(r, core.ActionReconciliationCalculate, reconciliationResource(record)); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.enqueueAsync(w, r, gojob.CalculateReconciliationMessage(reconciliationID)) {
		return
	}
	totals, err := h.service.CalculateReconciliation(r.Context(), reconciliationID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Totals: toTotalsView(totals)})
}

// --- GetReconciliation ---

func (h *Handlers) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetReconciliation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.authorize(r, core.ActionReconciliationRead, reconciliationResource(record)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationView(record))
}

// --- ProcessWebhooks ---

// ProcessWebhooks answers 200 even when individual deliveries failed; callers
// inspect results for partial failure.
func (h *Handlers) ProcessWebhooks(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, core.ActionWebhooksProcess, core.Resource{Kind: core.ResourceWebhooks}); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.enqueueAsync(w, r, gojob.DispatchWebhooksMessage(time.Now())) {
		return
	}
	result, err := h.service.ProcessPendingWebhooks(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if result.Results == nil {
		result.Results = []core.DeliveryResult{}
	}
	writeJSON(w, http.StatusOK, result)
}

// --- PublishEvent ---

func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.EventType) == "" {
		writeError(w, http.StatusBadRequest, "eventType is required")
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}
	if err := h.authorize(r, core.ActionWebhooksPublish, core.Resource{Kind: core.ResourceWebhooks, ID: req.EventType}); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.PublishWebhookEvent(r.Context(), req.EventType, req.Payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// --- ListDeliveries ---

func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, core.ActionWebhookDeliveriesRead, core.Resource{Kind: core.ResourceWebhookDelivery}); err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), "page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	perPage, err := parsePositiveInt(q.Get("per_page"), "per_page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.ListWebhookDeliveries(r.Context(), core.DeliveryFilter{
		WebhookID: q.Get("webhook_id"),
		Status:    core.DeliveryStatus(q.Get("status")),
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view := deliveryPageView{
		Items:   make([]deliveryView, 0, len(result.Items)),
		Total:   result.Total,
		Page:    result.Page,
		PerPage: result.PerPage,
	}
	for _, delivery := range result.Items {
		view.Items = append(view.Items, toDeliveryView(delivery))
	}
	writeJSON(w, http.StatusOK, view)
}

// --- Redeliver ---

func (h *Handlers) Redeliver(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "id")
	resource := core.Resource{Kind: core.ResourceWebhookDelivery, ID: deliveryID}
	if err := h.authorize(r, core.ActionWebhooksRedeliver, resource); err != nil {
		h.fail(w, r, err)
		return
	}
	delivery, err := h.service.RedeliverWebhook(r.Context(), deliveryID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryView(delivery))
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-mantis/core"
	"github.com/shopspring/decimal"
)

func newReconciliationRecord(id string, in core.CreateReconciliationInput, now time.Time) *reconciliationRecord {
	return &reconciliationRecord{
		ID:            id,
		Date:          strings.TrimSpace(in.Date),
		AgencyID:      strings.TrimSpace(in.AgencyID),
		TotalPayments: decimal.Zero,
		TotalRefunds:  decimal.Zero,
		NetAmount:     decimal.Zero,
		Status:        string(core.ReconciliationStatusOpen),
		Notes:         strings.TrimSpace(in.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r *reconciliationRecord) toDomain() core.ReconciliationRecord {
	if r == nil {
		return core.ReconciliationRecord{}
	}
	return core.ReconciliationRecord{
		ID:            r.ID,
		Date:          r.Date,
		AgencyID:      r.AgencyID,
		TotalPayments: r.TotalPayments,
		TotalRefunds:  r.TotalRefunds,
		NetAmount:     r.NetAmount,
		PaymentCount:  r.PaymentCount,
		RefundCount:   r.RefundCount,
		Status:        core.ReconciliationStatus(r.Status),
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func (r *infringementRecord) toDomain() core.Infringement {
	if r == nil {
		return core.Infringement{}
	}
	return core.Infringement{
		ID:          r.ID,
		AgencyID:    r.AgencyID,
		Reference:   r.Reference,
		OffenceCode: r.OffenceCode,
		Amount:      r.Amount,
		Status:      r.Status,
		IssuedAt:    r.IssuedAt.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (r *paymentRecord) toDomain() core.Payment {
	if r == nil {
		return core.Payment{}
	}
	return core.Payment{
		ID:             r.ID,
		InfringementID: r.InfringementID,
		Amount:         r.Amount,
		Method:         r.Method,
		Status:         r.Status,
		PaidAt:         cloneTimePointer(r.PaidAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func (r *refundRecord) toDomain() core.Refund {
	if r == nil {
		return core.Refund{}
	}
	return core.Refund{
		ID:          r.ID,
		PaymentID:   r.PaymentID,
		Amount:      r.Amount,
		Reason:      r.Reason,
		Status:      r.Status,
		ProcessedAt: cloneTimePointer(r.ProcessedAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func newWebhookRecord(id string, in core.CreateWebhookInput, now time.Time) *webhookRecord {
	events := make([]string, 0, len(in.Events))
	for _, event := range in.Events {
		if trimmed := strings.TrimSpace(event); trimmed != "" {
			events = append(events, trimmed)
		}
	}
	return &webhookRecord{
		ID:             id,
		Name:           strings.TrimSpace(in.Name),
		URL:            strings.TrimSpace(in.URL),
		Secret:         in.Secret,
		Headers:        copyStringMap(in.Headers),
		Events:         events,
		TimeoutSeconds: in.TimeoutSeconds,
		RetryCount:     in.RetryCount,
		Active:         in.Active,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *webhookRecord) toDomain() core.WebhookSubscription {
	if r == nil {
		return core.WebhookSubscription{}
	}
	return core.WebhookSubscription{
		ID:             r.ID,
		Name:           r.Name,
		URL:            r.URL,
		Secret:         r.Secret,
		Headers:        copyStringMap(r.Headers),
		Events:         append([]string(nil), r.Events...),
		TimeoutSeconds: r.TimeoutSeconds,
		RetryCount:     r.RetryCount,
		Active:         r.Active,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func (r *webhookDeliveryRecord) toDomain() core.WebhookDelivery {
	if r == nil {
		return core.WebhookDelivery{}
	}
	delivery := core.WebhookDelivery{
		ID:             r.ID,
		WebhookID:      r.WebhookID,
		EventType:      r.EventType,
		Payload:        []byte(r.Payload),
		Status:         core.DeliveryStatus(r.Status),
		AttemptCount:   r.AttemptCount,
		ResponseBody:   r.ResponseBody,
		NextRetryAt:    cloneTimePointer(r.NextRetryAt),
		DeliveredAt:    cloneTimePointer(r.DeliveredAt),
		ClaimExpiresAt: cloneTimePointer(r.ClaimExpiresAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.ResponseCode != nil {
		code := *r.ResponseCode
		delivery.ResponseCode = &code
	}
	if r.ClaimID != nil {
		delivery.ClaimID = *r.ClaimID
	}
	return delivery
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func utcPointer(input *time.Time) *time.Time {
	if input == nil || input.IsZero() {
		return nil
	}
	return cloneTimePointer(input)
}

package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

type identified interface {
	recordID() string
	setRecordID(string)
}

func (r *reconciliationRecord) recordID() string { return r.ID }

func (r *reconciliationRecord) setRecordID(id string) { r.ID = id }

func (r *infringementRecord) recordID() string { return r.ID }

func (r *infringementRecord) setRecordID(id string) { r.ID = id }

func (r *paymentRecord) recordID() string { return r.ID }

func (r *paymentRecord) setRecordID(id string) { r.ID = id }

func (r *refundRecord) recordID() string { return r.ID }

func (r *refundRecord) setRecordID(id string) { r.ID = id }

func (r *webhookRecord) recordID() string { return r.ID }

func (r *webhookRecord) setRecordID(id string) { r.ID = id }

func (r *webhookDeliveryRecord) recordID() string { return r.ID }

func (r *webhookDeliveryRecord) setRecordID(id string) { r.ID = id }

// recordHandlers builds the id-keyed handlers every table shares. Records use
// text primary keys holding uuid strings.
func recordHandlers[T interface {
	*R
	identified
}, R any]() repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: func() T {
			return T(new(R))
		},
		GetID: func(record T) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.recordID())
		},
		SetID: func(record T, id uuid.UUID) {
			if record == nil {
				return
			}
			record.setRecordID(id.String())
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.recordID())
		},
	}
}

func reconciliationHandlers() repository.ModelHandlers[*reconciliationRecord] {
	return recordHandlers[*reconciliationRecord]()
}

func infringementHandlers() repository.ModelHandlers[*infringementRecord] {
	return recordHandlers[*infringementRecord]()
}

func paymentHandlers() repository.ModelHandlers[*paymentRecord] {
	return recordHandlers[*paymentRecord]()
}

func refundHandlers() repository.ModelHandlers[*refundRecord] {
	return recordHandlers[*refundRecord]()
}

func webhookHandlers() repository.ModelHandlers[*webhookRecord] {
	return recordHandlers[*webhookRecord]()
}

func webhookDeliveryHandlers() repository.ModelHandlers[*webhookDeliveryRecord] {
	return recordHandlers[*webhookDeliveryRecord]()
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput               = "MANTIS_BAD_INPUT"
	ErrorNotFound               = "MANTIS_NOT_FOUND"
	ErrorReconciliationNotFound = "MANTIS_RECONCILIATION_NOT_FOUND"
	ErrorCalculationFailed      = "MANTIS_CALCULATION_FAILED"
	ErrorDeliveryNetwork        = "MANTIS_DELIVERY_NETWORK_ERROR"
	ErrorDeliveryRejected       = "MANTIS_DELIVERY_REJECTED"
	ErrorDeliveryExhausted      = "MANTIS_DELIVERY_EXHAUSTED"
	ErrorDeliveryThrottled      = "MANTIS_DELIVERY_THROTTLED"
	ErrorClaimConflict          = "MANTIS_CLAIM_CONFLICT"
	ErrorNotRedeliverable       = "MANTIS_DELIVERY_NOT_REDELIVERABLE"
	ErrorPermissionDenied       = "MANTIS_PERMISSION_DENIED"
	ErrorInternal               = "MANTIS_INTERNAL_ERROR"
)

func NotFoundError(message string) *goerrors.Error {
	return newServiceError(message, goerrors.CategoryNotFound, ErrorNotFound)
}

func ReconciliationNotFoundError(reconciliationID string) *goerrors.Error {
	err := newServiceError(
		"core: reconciliation "+strings.TrimSpace(reconciliationID)+" not found",
		goerrors.CategoryNotFound,
		ErrorReconciliationNotFound,
	)
	err.WithMetadata(map[string]any{"reconciliation_id": strings.TrimSpace(reconciliationID)})
	return err
}

// CalculationFailedError wraps any store failure raised while reconciling.
func CalculationFailedError(cause error, reconciliationID string) *goerrors.Error {
	err := goerrors.Wrap(cause, goerrors.CategoryInternal, "core: reconciliation calculation failed").
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorCalculationFailed)
	err.WithMetadata(map[string]any{"reconciliation_id": strings.TrimSpace(reconciliationID)})
	return err
}

func DeliveryNetworkError(cause error, deliveryID string) *goerrors.Error {
	err := goerrors.Wrap(cause, goerrors.CategoryExternal, "core: webhook endpoint unreachable").
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorDeliveryNetwork)
	err.WithMetadata(map[string]any{"delivery_id": deliveryID})
	return err
}

func DeliveryRejectedError(statusCode int, deliveryID string) *goerrors.Error {
	err := goerrors.New(fmt.Sprintf("core: webhook endpoint responded with status %d", statusCode), goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorDeliveryRejected)
	err.WithMetadata(map[string]any{"delivery_id": deliveryID, "status_code": statusCode})
	return err
}

func DeliveryExhaustedError(cause error, deliveryID string, attempts int) *goerrors.Error {
	err := goerrors.Wrap(cause, goerrors.CategoryOperation, "core: webhook delivery attempts exhausted").
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(ErrorDeliveryExhausted)
	err.WithMetadata(map[string]any{"delivery_id": deliveryID, "attempt_count": attempts})
	return err
}

// DeliveryThrottledError is returned by a sender that refused to contact a
// receiver still inside its back-off window. The dispatcher releases the
// delivery without counting an attempt.
type DeliveryThrottledError struct {
	Host       string
	RetryAfter time.Duration
}

func (e *DeliveryThrottledError) Error() string {
	return fmt.Sprintf("core: receiver %s throttled for %s", e.Host, e.RetryAfter)
}

// ToServiceError exposes the throttle as a go-errors rate limit error.
func (e *DeliveryThrottledError) ToServiceError() *goerrors.Error {
	err := goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(ErrorDeliveryThrottled)
	err.WithMetadata(map[string]any{"host": e.Host, "retry_after_ms": e.RetryAfter.Milliseconds()})
	return err
}

func PermissionDeniedError(action Action, resource Resource) *goerrors.Error {
	err := newServiceError("core: permission denied for "+string(action), goerrors.CategoryAuthz, ErrorPermissionDenied)
	err.WithMetadata(map[string]any{
		"action":        string(action),
		"resource_kind": resource.Kind,
		"resource_id":   resource.ID,
	})
	return err
}

func DeliveryNotRedeliverableError(deliveryID string, status DeliveryStatus) *goerrors.Error {
	err := newServiceError(ErrDeliveryNotRedeliverable.Error(), goerrors.CategoryConflict, ErrorNotRedeliverable)
	err.WithMetadata(map[string]any{"delivery_id": deliveryID, "status": string(status)})
	return err
}

func BadInputError(message string) *goerrors.Error {
	return newServiceError(message, goerrors.CategoryBadInput, ErrorBadInput)
}

// FieldValidationError rejects one field of a bus message before it reaches
// the service.
func FieldValidationError(scope, field, message string) *goerrors.Error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{Field: field, Message: message}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

// InvalidInputError wraps a nested input's validation failure. It returns nil
// for a nil cause.
func InvalidInputError(cause error, message string) error {
	if cause == nil {
		return nil
	}
	return goerrors.Wrap(cause, goerrors.CategoryValidation, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

// DependencyMissingError is returned by bus handlers built without their
// service.
func DependencyMissingError(scope, component string) *goerrors.Error {
	return newServiceError(fmt.Sprintf("%s: %s is required", scope, component), goerrors.CategoryInternal, ErrorInternal)
}

// HasTextCode reports whether err carries the given go-errors text code.
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrReconciliationNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorReconciliationNotFound)
	case errors.Is(err, ErrWebhookDeliveryNotFound), errors.Is(err, ErrWebhookNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case errors.Is(err, ErrDeliveryClaimLost):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ErrorClaimConflict)
	case errors.Is(err, ErrDeliveryNotRedeliverable):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ErrorNotRedeliverable)
	case errors.Is(err, ErrInvalidDeliveryStatus), errors.Is(err, ErrInvalidReconciliationDay):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case strings.Contains(msg, "claim"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ErrorClaimConflict)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorPermissionDenied
	case goerrors.CategoryConflict:
		return ErrorClaimConflict
	case goerrors.CategoryExternal:
		return ErrorDeliveryNetwork
	default:
		return ErrorInternal
	}
}

// HTTPStatus resolves the response status for any error the service returns.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Code > 0 {
			return richErr.Code
		}
		return serviceHTTPStatus(richErr.Category)
	}
	return http.StatusInternalServerError
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

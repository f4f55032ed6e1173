package transport

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-mantis/core"
)

// sendError builds the go-errors envelope for a failed send. Network and
// receiver side failures map to MANTIS_DELIVERY_NETWORK so the dispatcher
// records them as retryable attempts; anything else is a caller problem.
func sendError(cause error, category goerrors.Category, code int, message string, fields map[string]any) error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	textCode := core.ErrorInternal
	switch category {
	case goerrors.CategoryExternal:
		textCode = core.ErrorDeliveryNetwork
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		textCode = core.ErrorBadInput
	}
	err = err.WithCode(code).WithTextCode(textCode)
	fields["sender"] = SenderName
	return err.WithMetadata(fields)
}

// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Agreement errors
	CodeUnauthorized         Code = "AGREEMENT_UNAUTHORIZED"
	CodeInsufficientPayment  Code = "AGREEMENT_INSUFFICIENT_PAYMENT"
	CodeAlreadyOwned         Code = "AGREEMENT_ALREADY_OWNED"
	CodeRentIncreaseTooLarge Code = "AGREEMENT_RENT_INCREASE_TOO_LARGE"
	CodePaymentNotDue        Code = "AGREEMENT_PAYMENT_NOT_DUE"
	CodeInvalidConfiguration Code = "AGREEMENT_INVALID_CONFIGURATION"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeInsufficientPayment,
		CodeRentIncreaseTooLarge,
		CodeInvalidConfiguration:
		return http.StatusBadRequest

	// Forbidden - wrong caller for the operation
	case CodeUnauthorized:
		return http.StatusForbidden

	// Conflict - state doesn't allow the operation
	case CodeAlreadyOwned,
		CodePaymentNotDue:
		return http.StatusConflict

	// Not found - resource doesn't exist
	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}

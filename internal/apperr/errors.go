// Package apperr holds the error taxonomy shared by the order, payment, OTP and shipment packages.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindAuthorization   Kind = "authorization"
	KindInvalidSig      Kind = "invalid_signature"
	KindExpired         Kind = "expired"
	KindMismatch        Kind = "mismatch"
	KindNotShipped      Kind = "not_shipped"
	KindConflict        Kind = "conflict"
	KindExternalService Kind = "external_service"
)

// Step names the external call that failed.
type Step string

const (
	StepShipmentBooking Step = "shipment_booking"
	StepAWBAssignment   Step = "awb_assignment"
	StepPickupRequest   Step = "pickup_request"
	StepCarrierAuth     Step = "carrier_auth"
	StepCarrierTracking Step = "carrier_tracking"
	StepCarrierCancel   Step = "carrier_cancel"
	StepDelivery        Step = "delivery_dispatch"
	StepGateway         Step = "payment_gateway"
	StepRefund          Step = "payment_refund"
)

// ValidationError reports user-correctable input problems, keyed by field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validation builds a ValidationError for a single field.
func Validation(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// NotFoundError reports a missing resource (order, user, product, OTP record).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ExternalServiceError wraps a failed carrier, gateway or messaging call.
type ExternalServiceError struct {
	Step Step
	Err  error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External builds an ExternalServiceError for step.
func External(step Step, err error) *ExternalServiceError {
	return &ExternalServiceError{Step: step, Err: err}
}

var (
	ErrAuthorization    = errors.New("order does not belong to user")
	ErrForbidden        = errors.New("admin role required")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrOTPExpired       = errors.New("otp expired")
	ErrOTPMismatch      = errors.New("otp mismatch")
	ErrNotShipped       = errors.New("order not shipped yet")
	ErrAlreadyPaid      = errors.New("order already paid")
	ErrAlreadyRated     = errors.New("product already rated for this order")
	ErrDelivery         = errors.New("otp delivery failed")
)

// KindOf classifies err. Unknown errors return "".
func KindOf(err error) Kind {
	var ve *ValidationError
	var nf *NotFoundError
	var ext *ExternalServiceError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &nf):
		return KindNotFound
	case errors.Is(err, ErrAuthorization), errors.Is(err, ErrForbidden):
		return KindAuthorization
	case errors.Is(err, ErrInvalidSignature):
		return KindInvalidSig
	case errors.Is(err, ErrOTPExpired):
		return KindExpired
	case errors.Is(err, ErrOTPMismatch):
		return KindMismatch
	case errors.Is(err, ErrNotShipped):
		return KindNotShipped
	case errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrAlreadyRated):
		return KindConflict
	case errors.As(err, &ext), errors.Is(err, ErrDelivery):
		return KindExternalService
	}
	return ""
}

// StepOf returns the failing external step, if any.
func StepOf(err error) Step {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return ext.Step
	}
	return ""
}

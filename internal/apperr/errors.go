package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chachabrian/mooveit-ridesync/internal/models"
)

// Code is the stable machine-readable identifier sent on the wire.
type Code string

const (
	CodeInvalidTransition   Code = "invalid_transition"
	CodeNotAuthorized       Code = "not_authorized"
	CodeUnauthenticated     Code = "unauthenticated"
	CodeAlreadyAccepted     Code = "already_accepted"
	CodeDriverNotVerified   Code = "driver_not_verified"
	CodeDriverNotAvailable  Code = "driver_not_available"
	CodeVehicleTypeMismatch Code = "vehicle_type_mismatch"
	CodeDriverHasActiveRide Code = "driver_has_active_ride"
	CodeNotFound            Code = "not_found"
	CodeValidation          Code = "validation_failed"
	CodeOutcomeUnknown      Code = "outcome_unknown"
	CodeTransport           Code = "transport_error"
	CodeInternal            Code = "internal_error"
)

var (
	ErrInvalidTransition   = errors.New("invalid ride status transition")
	ErrNotAuthorized       = errors.New("not authorized for this ride")
	ErrUnauthenticated     = errors.New("authentication required")
	ErrAlreadyAccepted     = errors.New("ride has already been accepted")
	ErrDriverNotVerified   = errors.New("driver is not verified")
	ErrDriverNotAvailable  = errors.New("driver is not available")
	ErrVehicleTypeMismatch = errors.New("vehicle type does not match the ride")
	ErrDriverHasActiveRide = errors.New("driver already has an active ride")
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")

	// ErrOutcomeUnknown is returned when an accept attempt timed out and a
	// follow-up read could not tell whether it landed.
	ErrOutcomeUnknown = errors.New("accept outcome unknown, refresh before retrying")
)

// InvalidTransitionError carries the current and requested status.
type InvalidTransitionError struct {
	From models.RideStatus
	To   models.RideStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move ride from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Violation describes one invalid input field.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is raised before a write reaches the state machine.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a single-field ValidationError.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Violations: []Violation{{Field: field, Message: message}}}
}

// TransportError wraps network failures seen by API clients.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout
}

var codes = []struct {
	err    error
	code   Code
	status int
}{
	{ErrInvalidTransition, CodeInvalidTransition, http.StatusConflict},
	{ErrAlreadyAccepted, CodeAlreadyAccepted, http.StatusConflict},
	{ErrDriverHasActiveRide, CodeDriverHasActiveRide, http.StatusConflict},
	{ErrNotAuthorized, CodeNotAuthorized, http.StatusForbidden},
	{ErrUnauthenticated, CodeUnauthenticated, http.StatusUnauthorized},
	{ErrDriverNotVerified, CodeDriverNotVerified, http.StatusUnprocessableEntity},
	{ErrDriverNotAvailable, CodeDriverNotAvailable, http.StatusUnprocessableEntity},
	{ErrVehicleTypeMismatch, CodeVehicleTypeMismatch, http.StatusUnprocessableEntity},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrValidation, CodeValidation, http.StatusBadRequest},
	{ErrOutcomeUnknown, CodeOutcomeUnknown, http.StatusGatewayTimeout},
}

// CodeOf classifies err into its wire code.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	var te *TransportError
	if errors.As(err, &te) {
		return CodeTransport
	}
	return CodeInternal
}

// HTTPStatus maps err to the response status code.
func HTTPStatus(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	var te *TransportError
	if errors.As(err, &te) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Payload is the JSON error body exchanged between server and clients.
type Payload struct {
	Error      string            `json:"error"`
	Code       Code              `json:"code"`
	Current    models.RideStatus `json:"current,omitempty"`
	Requested  models.RideStatus `json:"requested,omitempty"`
	Violations []Violation       `json:"violations,omitempty"`
}

// ToPayload renders err for the wire. Internal errors are not echoed.
func ToPayload(err error) Payload {
	p := Payload{Error: err.Error(), Code: CodeOf(err)}
	var ite *InvalidTransitionError
	if errors.As(err, &ite) {
		p.Current, p.Requested = ite.From, ite.To
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		p.Violations = ve.Violations
	}
	if p.Code == CodeInternal {
		p.Error = "internal server error"
	}
	return p
}

// FromPayload rebuilds a typed error from a decoded error body so callers
// can keep using errors.Is across the wire.
func FromPayload(p Payload) error {
	switch p.Code {
	case CodeInvalidTransition:
		return &InvalidTransitionError{From: p.Current, To: p.Requested}
	case CodeValidation:
		return &ValidationError{Violations: p.Violations}
	}
	for _, c := range codes {
		if c.code == p.Code {
			if p.Error == "" || p.Error == c.err.Error() {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, p.Error)
		}
	}
	return errors.New(p.Error)
}

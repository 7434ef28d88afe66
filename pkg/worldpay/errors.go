package worldpay

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by the gateway client. Match them with errors.Is.
var (
	ErrAuth               = errors.New("gateway authentication failed")
	ErrValidationRejected = errors.New("gateway rejected the request")
	ErrUnavailable        = errors.New("gateway unavailable")
	ErrNotFoundUpstream   = errors.New("payout not found at gateway")
	ErrGateway            = errors.New("gateway error")
	ErrMapping            = errors.New("gateway request mapping error")
)

// Violation is one field-level complaint from a 400 response.
type Violation struct {
	JSONPath string `json:"jsonPath"`
	Message  string `json:"message"`
}

// Error is a classified failure of an exchange with the gateway.
type Error struct {
	Kind       error
	StatusCode int
	Message    string
	Violations []Violation
	// Body is the raw provider response, when one was received.
	Body []byte
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindName returns the machine-readable name of a classified gateway error.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth_error"
	case errors.Is(err, ErrValidationRejected):
		return "validation_rejected"
	case errors.Is(err, ErrUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, ErrNotFoundUpstream):
		return "not_found_upstream"
	case errors.Is(err, ErrMapping):
		return "mapping_error"
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	default:
		return ""
	}
}

// MappingError signals that the builder could not resolve a required provider field.
// It indicates a normalizer/builder contract mismatch, not bad user input.
type MappingError struct {
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("cannot map %s: %s", e.Field, e.Reason)
}

func (e *MappingError) Is(target error) bool {
	return target == ErrMapping
}

func formatViolations(violations []Violation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		path := strings.TrimSpace(v.JSONPath)
		msg := strings.TrimSpace(v.Message)
		switch {
		case path != "" && msg != "":
			parts = append(parts, path+": "+msg)
		case msg != "":
			parts = append(parts, msg)
		case path != "":
			parts = append(parts, path)
		}
	}
	return strings.Join(parts, "; ")
}

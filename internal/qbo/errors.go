// Package qbo provides an HTTP client for the QuickBooks Online accounting
// API (v3 items) and the Intuit OAuth2 endpoints, with retry and fault
// classification.
package qbo

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for remote fault classification.
// Use errors.Is(err, qbo.ErrStaleObject) to check.
var (
	ErrAuthentication = errors.New("qbo: authentication failed")
	ErrForbidden      = errors.New("qbo: forbidden")
	ErrValidation     = errors.New("qbo: validation fault")
	ErrStaleObject    = errors.New("qbo: stale object")
	ErrNotFound       = errors.New("qbo: object not found")
	ErrThrottled      = errors.New("qbo: throttled")
	ErrServerError    = errors.New("qbo: server error")
)

// Fault codes reported inside ValidationFault bodies.
const (
	faultCodeStaleObject    = "5010"
	faultCodeObjectNotFound = "610"
)

// FaultDetail is a single entry of a remote fault.
type FaultDetail struct {
	Message string `json:"Message"`
	Detail  string `json:"Detail"`
	Code    string `json:"code"`
	Element string `json:"element,omitempty"`
}

// Fault is the error envelope returned by the accounting API.
type Fault struct {
	Type   string        `json:"type"`
	Errors []FaultDetail `json:"Error"`
}

// Error wraps a sentinel error with the HTTP status, the intuit_tid
// correlation header and the decoded fault.
type Error struct {
	StatusCode int
	IntuitTID  string
	Fault      *Fault
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "qbo: HTTP %d", e.StatusCode)
	if e.IntuitTID != "" {
		fmt.Fprintf(&b, " (intuit_tid: %s)", e.IntuitTID)
	}

	switch {
	case e.Fault != nil && len(e.Fault.Errors) > 0:
		d := e.Fault.Errors[0]
		fmt.Fprintf(&b, ": %s: %s", e.Fault.Type, d.Message)
		if d.Detail != "" {
			fmt.Fprintf(&b, " (%s)", d.Detail)
		}
		if d.Code != "" {
			fmt.Fprintf(&b, " [code %s]", d.Code)
		}
	case e.Body != "":
		fmt.Fprintf(&b, ": %s", e.Body)
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// faultEnvelope matches error bodies. Intuit uses both capitalizations.
type faultEnvelope struct {
	Fault      *Fault `json:"Fault"`
	FaultLower *Fault `json:"fault"`
}

// parseFault decodes a fault body. It returns nil for non-fault bodies.
func parseFault(body []byte) *Fault {
	var env faultEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	if env.Fault != nil {
		return env.Fault
	}
	return env.FaultLower
}

// classify maps a status code and fault to a sentinel error.
func classify(status int, fault *Fault) error {
	if fault != nil {
		switch strings.ToLower(fault.Type) {
		case "authentication", "authenticationfault":
			return ErrAuthentication
		case "authorizationfault":
			return ErrForbidden
		}
		for _, d := range fault.Errors {
			switch d.Code {
			case faultCodeStaleObject:
				return ErrStaleObject
			case faultCodeObjectNotFound:
				return ErrNotFound
			}
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return ErrAuthentication
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status >= http.StatusInternalServerError:
		return ErrServerError
	default:
		return ErrValidation
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsAuthError reports whether err was caused by a rejected access token.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

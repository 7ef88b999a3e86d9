package client

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind is the machine-readable classification of a failed API request.
// Upstream logic branches on Kind, never on raw status codes.
type Kind string

const (
	KindAuthExpired    Kind = "auth_expired"
	KindConflict       Kind = "conflict"
	KindRateLimited    Kind = "rate_limited"
	KindMessageLimit   Kind = "message_limit_reached"
	KindNotAuthorized  Kind = "account_not_authorized"
	KindReportLimit    Kind = "report_limit_reached"
	KindGatewayTimeout Kind = "gateway_timeout"
	KindHTTPError      Kind = "http_error"
)

// APIError is a classified non-2xx response. Status and Message preserve the
// raw HTTP status and the server-provided text for display.
type APIError struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api request failed: status code %d, kind %s, message %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("api request failed: status code %d, kind %s", e.Status, e.Kind)
}

// Fatal reports whether the error requires starting an entirely new session.
func (e *APIError) Fatal() bool {
	return e.Kind == KindNotAuthorized || e.Kind == KindReportLimit
}

// Classify maps a non-2xx response to its error kind. The 429 and 403
// statuses each cover two kinds, told apart by the server message.
func Classify(status int, message string) *APIError {
	kind := KindHTTPError
	lower := strings.ToLower(message)
	switch status {
	case http.StatusUnauthorized:
		kind = KindAuthExpired
	case http.StatusConflict:
		kind = KindConflict
	case http.StatusForbidden:
		if strings.Contains(lower, "disabled") || strings.Contains(lower, "not authorized") {
			kind = KindNotAuthorized
		} else {
			kind = KindReportLimit
		}
	case http.StatusTooManyRequests:
		if strings.Contains(lower, "rate limit") {
			kind = KindRateLimited
		} else {
			kind = KindMessageLimit
		}
	case http.StatusGatewayTimeout:
		kind = KindGatewayTimeout
	}
	return &APIError{Kind: kind, Status: status, Message: message}
}

package evolution

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx reply from the provider API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evolution api error status=%d code=%s message=%s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether the provider no longer knows the
// instance. Some deployments answer 404, others 400 with a textual
// "does not exist" message.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status == 404 {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "not exist") || strings.Contains(msg, "not found")
}

// IsAuthFailure reports an invalid or expired instance token.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 401
}

// IsConflict reports a duplicate-resource reply, e.g. creating an
// instance name that is already registered.
func IsConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status == 409 {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "already in use")
}

// IsNotConnected reports a logout or send attempt against an instance
// the provider holds no open session for.
func IsNotConnected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "not connected")
}

// IsTransient reports an error worth retrying: provider 5xx replies
// and transport failures that never produced an APIError.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return true
}

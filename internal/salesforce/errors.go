package salesforce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/zeebo/errs"
)

// Error classes surfaced by the session provider.
var (
	// AuthError is returned for bad credentials and invalidated sessions.
	AuthError = errs.Class("auth")
	// QueryError is returned when a query cannot be executed.
	QueryError = errs.Class("query")
	// FetchError is returned when a binary payload cannot be downloaded.
	FetchError = errs.Class("fetch")
	// UploadError is returned when a record cannot be created.
	UploadError = errs.Class("upload")
)

var (
	// ErrNotFound matches API errors with status 404.
	ErrNotFound = errors.New("not found")
	// ErrSessionInvalid matches API errors caused by an expired or revoked session.
	ErrSessionInvalid = errors.New("session invalid")
)

// APIError is a non-success REST response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is lets errors.Is match ErrNotFound and ErrSessionInvalid.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrSessionInvalid:
		return e.StatusCode == http.StatusUnauthorized || e.Code == "INVALID_SESSION_ID"
	}
	return false
}

type apiErrorBody struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var list []apiErrorBody
	if err := unmarshal(body, &list); err == nil && len(list) > 0 {
		apiErr.Code = list[0].ErrorCode
		msgs := make([]string, 0, len(list))
		for _, item := range list {
			msgs = append(msgs, item.Message)
		}
		apiErr.Message = strings.Join(msgs, "; ")
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// IsSessionInvalid reports whether err means the session can no longer be used.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, ErrSessionInvalid)
}

// IsTransient reports whether err is a timeout, a network failure or a
// server-side error worth reporting as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

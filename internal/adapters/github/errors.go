package github

import (
	"encoding/json"
	"fmt"
	"net/http"
	"pixelbridge/internal/core/domain"
	"strings"
)

// APIError is a non-2xx response from the GitHub REST API.
type APIError struct {
	StatusCode       int
	Message          string
	DocumentationURL string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", e.StatusCode, e.Message)
}

func parseAPIError(statusCode int, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode}

	var wire struct {
		Message          string `json:"message"`
		DocumentationURL string `json:"documentation_url"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Message != "" {
		apiError.Message = wire.Message
		apiError.DocumentationURL = wire.DocumentationURL
	} else {
		apiError.Message = strings.TrimSpace(string(body))
	}

	return apiError
}

// classify maps an API error onto the domain error taxonomy. The returned
// error matches both the domain sentinel and *APIError.
func classify(apiError *APIError) error {
	var kind error

	switch code := apiError.StatusCode; {
	case code == http.StatusUnauthorized:
		kind = domain.ErrAuth
	case code == http.StatusForbidden && isRateLimitMessage(apiError.Message):
		kind = domain.ErrTransient
	case code == http.StatusForbidden:
		kind = domain.ErrForbidden
	case code == http.StatusNotFound:
		kind = domain.ErrNotFound
	case code == http.StatusConflict, code == http.StatusPreconditionFailed:
		kind = domain.ErrConflict
	case code == http.StatusUnprocessableEntity && isShaMessage(apiError.Message):
		kind = domain.ErrConflict
	case code == http.StatusUnprocessableEntity:
		kind = domain.ErrValidation
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		kind = domain.ErrTransient
	default:
		return apiError
	}

	return fmt.Errorf("%w: %w", kind, apiError)
}

func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "abuse detection")
}

// isShaMessage recognizes the 422 GitHub returns when an update omits the
// sha of an existing file, which is a lost race with a creator.
func isShaMessage(message string) bool {
	return strings.Contains(strings.ToLower(message), "sha")
}

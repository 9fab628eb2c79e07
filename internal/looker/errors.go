package looker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the platform.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("looker API error (%d) on %s %s: %s", e.Status, e.Method, e.Path, e.Message)
}

func newAPIError(method, path string, resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return apiErrorFromBody(method, path, resp.StatusCode, raw)
}

func apiErrorFromBody(method, path string, status int, raw []byte) *APIError {
	msg := strings.TrimSpace(string(raw))

	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Method: method, Path: path, Status: status, Message: msg}
}

// IsAuthError reports whether err means the session or credentials are no
// longer valid: a 401/403 response, or a message naming an OAuth or login
// failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
		return true
	}
	return isAuthMessage(err.Error())
}

func isAuthMessage(msg string) bool {
	return strings.Contains(msg, "OAuth") || strings.Contains(strings.ToLower(msg), "log in")
}

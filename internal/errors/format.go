package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPStatus maps an error to the HTTP status code the API boundary should
// return. Validation maps to 400, rate limiting to 429, retryable backend
// failures to 503, timeouts to 504, everything else to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	me, ok := err.(*MnemoError)
	if !ok {
		return http.StatusInternalServerError
	}

	switch me.Code {
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeBackendTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeBackendUnavailable, ErrCodeBackendOverloaded:
		return http.StatusServiceUnavailable
	case ErrCodeChunkNotFound:
		return http.StatusNotFound
	}

	switch me.Category {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryConfig:
		// Misconfiguration is unavailability from the caller's side.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	me, ok := err.(*MnemoError)
	if !ok {
		// Wrap standard error
		me = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", me.Message))

	if me.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", me.Suggestion))
	}

	sb.WriteString(fmt.Sprintf("  Code: %s\n", me.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
// Suitable for API error bodies and machine consumption.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	me, ok := err.(*MnemoError)
	if !ok {
		me = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       me.Code,
		Message:    me.Message,
		Category:   string(me.Category),
		Severity:   string(me.Severity),
		Details:    me.Details,
		Suggestion: me.Suggestion,
		Retryable:  me.Retryable,
	}

	if me.Cause != nil {
		je.Cause = me.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	me, ok := err.(*MnemoError)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": me.Code,
		"message":    me.Message,
		"category":   string(me.Category),
		"severity":   string(me.Severity),
		"retryable":  me.Retryable,
	}

	if me.Cause != nil {
		result["cause"] = me.Cause.Error()
	}

	if me.Suggestion != "" {
		result["suggestion"] = me.Suggestion
	}

	for k, v := range me.Details {
		result["detail_"+k] = v
	}

	return result
}

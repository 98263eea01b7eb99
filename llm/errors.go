package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Error codes surfaced at the API boundary.
const (
	CodeRateLimit      = "RATE_LIMIT_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeTimeout        = "TIMEOUT_ERROR"
	CodeAPI            = "API_ERROR"
	CodeUnknown        = "UNKNOWN_ERROR"
)

// Details carries structured context for a failed generation call.
type Details struct {
	Model         string `json:"model"`
	LatencyMS     int64  `json:"latency_ms"`
	OriginalError string `json:"original_error"`
	RetryAfter    int    `json:"retry_after,omitempty"`
}

// Error is the structured failure type for generation calls. The code tells
// the caller whether retrying makes sense; the core pipeline never retries.
type Error struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details Details `json:"details"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Retryable reports whether the failure is transient (rate limit, warm-up,
// timeout) as opposed to terminal (auth failure, malformed request).
func (e *Error) Retryable() bool {
	return e.Code == CodeRateLimit || e.Code == CodeTimeout
}

// classifyError maps provider failures onto the boundary taxonomy.
func classifyError(err error, model string, latencyMS int64) *Error {
	details := Details{
		Model:         model,
		LatencyMS:     latencyMS,
		OriginalError: err.Error(),
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "Request timed out. Please try again.", Details: details}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Code: CodeTimeout, Message: "Request timed out. Please try again.", Details: details}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			details.RetryAfter = 60
			return &Error{Code: CodeRateLimit, Message: "Rate limit exceeded. Please try again in a few moments.", Details: details}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &Error{Code: CodeAuthentication, Message: "Authentication failed. Please check your API key.", Details: details}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &Error{Code: CodeTimeout, Message: "Request timed out. Please try again.", Details: details}
		default:
			return &Error{Code: CodeAPI, Message: "Generation API error: " + apiErr.Message, Details: details}
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Code: CodeAPI, Message: "Generation API error: " + reqErr.Error(), Details: details}
	}

	return &Error{Code: CodeUnknown, Message: "Unexpected error during generation: " + err.Error(), Details: details}
}

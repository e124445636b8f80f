package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"claude-openai-bridge/models"
)

// ErrorKind classifies a failure by where it originated and how it should be
// surfaced.
type ErrorKind int

const (
	// KindValidation marks malformed client input; the request never
	// reached the backend.
	KindValidation ErrorKind = iota
	// KindClient marks a request the backend rejected (4xx).
	KindClient
	// KindUpstream marks backend unavailability, 5xx or timeouts.
	KindUpstream
	// KindDecode marks a backend payload that does not match the expected
	// shape.
	KindDecode
	// KindCancelled marks caller-initiated cancellation. Not an error from
	// the backend's perspective; streams terminate cleanly instead of
	// carrying an error payload.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindClient:
		return "client"
	case KindUpstream:
		return "upstream"
	case KindDecode:
		return "decode"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// StatusClientClosedRequest is the nginx convention for a client that went
// away before the response completed.
const StatusClientClosedRequest = 499

// BridgeError is the typed failure every component returns. Status is the
// HTTP status for the client response; Message is safe to surface.
type BridgeError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Response renders the error as a Claude error envelope.
func (e *BridgeError) Response() models.ClaudeErrorResponse {
	return models.NewErrorResponse(ErrorTypeForStatus(e.Status), e.Message)
}

// NewValidationError reports malformed client input as HTTP 400.
func NewValidationError(format string, args ...any) *BridgeError {
	return &BridgeError{
		Kind:    KindValidation,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewDecodeError reports a backend payload the bridge could not interpret.
func NewDecodeError(message string, err error) *BridgeError {
	return &BridgeError{
		Kind:    KindDecode,
		Status:  http.StatusBadGateway,
		Message: message,
		Err:     err,
	}
}

// TranslateBackendError converts any failure from the backend client into a
// BridgeError. A nil input returns nil; a *BridgeError passes through.
func TranslateBackendError(err error) *BridgeError {
	if err == nil {
		return nil
	}

	var bridgeErr *BridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr
	}

	if errors.Is(err, context.Canceled) {
		return &BridgeError{
			Kind:    KindCancelled,
			Status:  StatusClientClosedRequest,
			Message: "Request cancelled by client",
			Err:     err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &BridgeError{
			Kind:    KindUpstream,
			Status:  http.StatusGatewayTimeout,
			Message: "Request to backend timed out",
			Err:     err,
		}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return &BridgeError{
			Kind:    kindForStatus(status),
			Status:  status,
			Message: ClassifyBackendError(apiErr.Message),
			Err:     err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		status := reqErr.HTTPStatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		message := reqErr.Error()
		if len(reqErr.Body) > 0 {
			message = string(reqErr.Body)
		}
		return &BridgeError{
			Kind:    kindForStatus(status),
			Status:  status,
			Message: ClassifyBackendError(message),
			Err:     err,
		}
	}

	// The client library hands back raw unmarshal errors when a response or
	// stream chunk is not the JSON it expected.
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &BridgeError{
			Kind:    KindDecode,
			Status:  http.StatusBadGateway,
			Message: "Backend returned a response the bridge could not decode",
			Err:     err,
		}
	}

	// Transport-level failure: the backend was never reached or the
	// connection broke mid-response.
	return &BridgeError{
		Kind:    KindUpstream,
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf("Failed to communicate with backend: %v", err),
		Err:     err,
	}
}

func kindForStatus(status int) ErrorKind {
	if status >= 400 && status < 500 {
		return KindClient
	}
	return KindUpstream
}

// ErrorTypeForStatus maps an HTTP status to the Claude error type vocabulary.
func ErrorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return models.ErrTypeInvalidRequest
	case http.StatusUnauthorized:
		return models.ErrTypeAuthentication
	case http.StatusForbidden:
		return models.ErrTypePermission
	case http.StatusNotFound:
		return models.ErrTypeNotFound
	case http.StatusRequestEntityTooLarge:
		return models.ErrTypeRequestTooLarge
	case http.StatusTooManyRequests:
		return models.ErrTypeRateLimit
	case http.StatusServiceUnavailable, 529:
		return models.ErrTypeOverloaded
	}
	if status >= 400 && status < 500 {
		return models.ErrTypeInvalidRequest
	}
	return models.ErrTypeAPI
}

// ClassifyBackendError replaces well-known backend failure messages with
// actionable guidance. Anything unrecognized passes through verbatim.
func ClassifyBackendError(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "unsupported_country_region_territory") ||
		strings.Contains(lower, "country, region, or territory not supported"):
		return "OpenAI API is not available in your region. Consider using a VPN or Azure OpenAI service."
	case strings.Contains(lower, "invalid_api_key") || strings.Contains(lower, "unauthorized"):
		return "Invalid API key. Please check your OPENAI_API_KEY configuration."
	case strings.Contains(lower, "rate_limit") || strings.Contains(lower, "quota"):
		return "Rate limit exceeded. Please wait and try again, or upgrade your API plan."
	case strings.Contains(lower, "model") &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return "Model not found. Please check your BIG_MODEL and SMALL_MODEL configuration."
	case strings.Contains(lower, "billing") || strings.Contains(lower, "payment"):
		return "Billing issue. Please check your OpenAI account billing status."
	}

	return message
}

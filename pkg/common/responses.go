package common

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "real-backend/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MetaInfo contains metadata about the response
type MetaInfo struct {
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// StandardErrorCodes defines common error codes
var StandardErrorCodes = struct {
	ValidationError    string
	Unauthorized       string
	Forbidden          string
	InternalError      string
	BadRequest         string
	TooManyRequests    string
	ServiceUnavailable string
}{
	ValidationError:    "VALIDATION_ERROR",
	Unauthorized:       "UNAUTHORIZED",
	Forbidden:          "FORBIDDEN",
	InternalError:      "INTERNAL_ERROR",
	BadRequest:         "BAD_REQUEST",
	TooManyRequests:    "TOO_MANY_REQUESTS",
	ServiceUnavailable: "SERVICE_UNAVAILABLE",
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, status, APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta(r),
	})
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, status, APIResponse{
		Error: &ErrorInfo{Code: code, Message: message},
		Meta:  meta(r),
	})
}

// RespondAppError maps an error to a response by its classification.
func RespondAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, StandardErrorCodes.InternalError
	message := "internal error"

	if appErr := apperrors.GetAppError(err); appErr != nil {
		switch appErr.Type {
		case apperrors.ErrorTypeValidation:
			status, code, message = http.StatusBadRequest, StandardErrorCodes.ValidationError, appErr.Message
		case apperrors.ErrorTypeUnauthorized:
			status, code, message = http.StatusUnauthorized, StandardErrorCodes.Unauthorized, appErr.Message
		case apperrors.ErrorTypeTransient:
			status, code, message = http.StatusServiceUnavailable, StandardErrorCodes.ServiceUnavailable, appErr.Message
		case apperrors.ErrorTypeDataIntegrity:
			status, code, message = http.StatusUnprocessableEntity, StandardErrorCodes.BadRequest, appErr.Message
		}
		if appErr.HTTPStatus != 0 {
			status = appErr.HTTPStatus
		}
	} else if apperrors.Classify(err) == apperrors.ErrorTypeTransient {
		status, code, message = http.StatusServiceUnavailable, StandardErrorCodes.ServiceUnavailable, "temporarily unavailable"
	}

	write(w, status, APIResponse{
		Error: &ErrorInfo{Code: code, Message: message},
		Meta:  meta(r),
	})
}

// ExtractRequestID extracts the request ID from the request
func ExtractRequestID(r *http.Request) string {
	if id, ok := GetRequestID(r.Context()); ok && id != "" {
		return id
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return r.Header.Get("X-Amzn-Trace-Id")
}

// ParseJSONBody parses JSON request body with size limit
func ParseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func meta(r *http.Request) *MetaInfo {
	m := &MetaInfo{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if r != nil {
		m.RequestID = ExtractRequestID(r)
	}
	return m
}

func write(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

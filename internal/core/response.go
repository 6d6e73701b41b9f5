package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"pushpipe/internal/types"
)

// maxRequestBodySize caps request bodies at 64 KB. Dispatch requests carry at
// most a small options object.
const maxRequestBodySize = 64 << 10

// APIResponse is the envelope for successful responses.
type APIResponse struct {
	Data interface{} `json:"data,omitempty"`
}

// APIErrorResponse is the envelope for error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error body returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes a JSON response with the given status and payload. A marshal
// failure degrades to a 500 error envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fallback := APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		}
		_ = json.NewEncoder(w).Encode(fallback)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error maps an error to the standard error envelope. AppErrors carry their
// own code, message, and HTTP status; anything else becomes a generic 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		JSON(w, r, appErr.Code.HTTPStatus(), APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(appErr.Code),
				Message:   appErr.Message,
				Details:   appErr.Details,
				RequestID: requestID,
			},
		})
		return
	}

	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		},
	})
}

// DecodeJSONBody strictly decodes a JSON request body into dst. An empty body
// is allowed and leaves dst untouched; unknown fields and trailing data are
// rejected.
func DecodeJSONBody(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		msg := "request body is not valid JSON"
		if strings.Contains(err.Error(), "http: request body too large") {
			msg = "request body exceeds the maximum allowed size"
		}
		return types.NewAppError(types.ErrCodeValidationBadRequest, msg, err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationBadRequest, "request body contains trailing data", nil)
	}
	return nil
}

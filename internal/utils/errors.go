package utils

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/hai2k2yt/flowsync/internal/contextkey"
)

// ErrorResponse is the JSON error body. RequestID echoes the id assigned by
// the middleware so a client report can be matched to server logs.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// RespondError sends a standardized error response.
func RespondError(ctx context.Context, w http.ResponseWriter, code int, message string) {
	resp := ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	}
	if reqID, ok := ctx.Value(contextkey.ContextKeyRequestID).(uuid.UUID); ok {
		resp.RequestID = reqID.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// RespondJSON sends a JSON response.
func RespondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

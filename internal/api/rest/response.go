package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps structured application errors onto their HTTP status, and
// everything else onto a 500 without leaking internals.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, domainerrors.GetStatusCode(err), errorResponse{Error: appErr.Message, Code: appErr.Code})
		return
	}
	logger.Error("unhandled error", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}

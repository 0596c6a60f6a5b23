package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/config"
	"github.com/linesmerrill/bloodbond-api/models"
)

// maxBodyBytes caps request bodies read by DecodeJSON
const maxBodyBytes = 1 << 20

// StatusFor maps an error to the http status its sentinel stands for
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrPermissionDenied), errors.Is(err, models.ErrPermissionRevoked):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNoTokens), errors.Is(err, mongo.ErrNoDocuments):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with the status StatusFor picks
func WriteError(w http.ResponseWriter, message string, err error) {
	config.ErrorStatus(message, StatusFor(err), w, err)
}

// WriteJSON encodes v as the response body
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		zap.S().Debugw("failed to write response", "error", err)
	}
}

// DecodeJSON reads a JSON body into v. Decode failures wrap models.ErrInvalidArgument.
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("%w: empty body", models.ErrInvalidArgument)
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	return nil
}

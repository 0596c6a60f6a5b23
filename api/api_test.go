package api_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linesmerrill/bloodbond-api/api"
	"github.com/linesmerrill/bloodbond-api/models"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid argument", fmt.Errorf("%w: userId is required", models.ErrInvalidArgument), http.StatusBadRequest},
		{"permission denied", models.ErrPermissionDenied, http.StatusForbidden},
		{"permission revoked", models.ErrPermissionRevoked, http.StatusForbidden},
		{"no tokens", models.ErrNoTokens, http.StatusNotFound},
		{"no documents", mongo.ErrNoDocuments, http.StatusNotFound},
		{"unavailable", fmt.Errorf("%w: dial tcp", models.ErrUnavailable), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, api.StatusFor(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	api.WriteError(rr, "failed to register token", models.ErrInvalidArgument)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, `{"response": "failed to register token, invalid argument"}`, rr.Body.String())
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	api.WriteJSON(rr, http.StatusCreated, map[string]bool{"success": true})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"success": true}`, rr.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Token string `json:"token"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"token":"abc"}`))
	require.NoError(t, api.DecodeJSON(req, &v))
	assert.Equal(t, "abc", v.Token)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"token":`))
	err := api.DecodeJSON(req, &v)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

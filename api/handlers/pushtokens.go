package handlers

import (
	"context"
	"net/http"

	"github.com/linesmerrill/bloodbond-api/api"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/registry"
)

// TokenRegistry is the registry surface the push token routes use
type TokenRegistry interface {
	RegisterToken(ctx context.Context, reg registry.Registration) error
	UnregisterToken(ctx context.Context, userID, token, deviceID string) (int64, error)
	ListActiveTokens(ctx context.Context, userID string) ([]models.PushToken, error)
}

// PushToken exists for dependency injection purposes
type PushToken struct {
	Registry TokenRegistry
}

type pushTokenRequest struct {
	Token    string          `json:"token"`
	Platform models.Platform `json:"platform"`
	DeviceID string          `json:"deviceId"`
}

// pushTokenStatus is what the notification settings toggle reads
type pushTokenStatus struct {
	Enabled      bool               `json:"enabled"`
	HasRealToken bool               `json:"hasRealToken"`
	Tokens       []models.PushToken `json:"tokens"`
}

// RegisterPushTokenHandler stores the caller's token for the device
func (p PushToken) RegisterPushTokenHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := api.CallerFrom(r.Context())

	var body pushTokenRequest
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, "failed to decode request body", err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	err := p.Registry.RegisterToken(ctx, registry.Registration{
		UserID:    caller.UserID,
		Token:     body.Token,
		Platform:  body.Platform,
		DeviceID:  body.DeviceID,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		api.WriteError(w, "failed to register push token", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"kind":    models.KindOf(body.Token),
	})
}

// UnregisterPushTokenHandler deactivates the caller's token for a device. The token and
// deviceId may come in the body or the query string.
func (p PushToken) UnregisterPushTokenHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := api.CallerFrom(r.Context())

	var body pushTokenRequest
	if r.ContentLength > 0 {
		if err := api.DecodeJSON(r, &body); err != nil {
			api.WriteError(w, "failed to decode request body", err)
			return
		}
	}
	if body.Token == "" {
		body.Token = r.URL.Query().Get("token")
	}
	if body.DeviceID == "" {
		body.DeviceID = r.URL.Query().Get("deviceId")
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	n, err := p.Registry.UnregisterToken(ctx, caller.UserID, body.Token, body.DeviceID)
	if err != nil {
		api.WriteError(w, "failed to unregister push token", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"deactivated": n,
	})
}

// ListPushTokensHandler returns the caller's active tokens
func (p PushToken) ListPushTokensHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := api.CallerFrom(r.Context())

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	tokens, err := p.Registry.ListActiveTokens(ctx, caller.UserID)
	if err != nil {
		api.WriteError(w, "failed to list push tokens", err)
		return
	}
	// Because the frontend requires that the data elements inside models.PushToken exist,
	// if len == 0 then we will just return an empty slice
	if len(tokens) == 0 {
		tokens = []models.PushToken{}
	}

	status := pushTokenStatus{Enabled: len(tokens) > 0, Tokens: tokens}
	for _, t := range tokens {
		if !t.TokenKind().IsFallback() {
			status.HasRealToken = true
			break
		}
	}
	api.WriteJSON(w, http.StatusOK, status)
}

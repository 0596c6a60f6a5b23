package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/linesmerrill/bloodbond-api/api"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/proximity"
)

// PreferenceManager is the proximity preference surface
type PreferenceManager interface {
	InitializeProximityNotifications(ctx context.Context, userID string, location models.Location, radiusKm float64) ([]models.NearbyRequest, error)
	DisableProximityNotifications(ctx context.Context, userID string) error
}

// NearbyChecker lists active requests around a location
type NearbyChecker interface {
	CheckNearbyBloodRequests(ctx context.Context, userID string, location models.Location, radiusKm float64) ([]models.NearbyRequest, error)
}

// Proximity exists for dependency injection purposes
type Proximity struct {
	Prefs           PreferenceManager
	Matcher         NearbyChecker
	DefaultRadiusKm float64
}

// locationRequest carries the fix the client read from its geolocation API, and the
// permission state of that API
type locationRequest struct {
	Permission string           `json:"permission"`
	Location   *models.Location `json:"location"`
	Accuracy   float64          `json:"accuracy"`
	RadiusKm   float64          `json:"radiusKm"`
}

// reportedLocator serves a client-reported fix through proximity.Locator
type reportedLocator struct {
	req locationRequest
}

func (l reportedLocator) RequestForegroundPermission(context.Context) (bool, error) {
	return l.req.Permission == "" || l.req.Permission == PermissionGranted, nil
}

func (l reportedLocator) CurrentPosition(context.Context) (proximity.Position, error) {
	if l.req.Location == nil {
		return proximity.Position{}, errors.New("no location reported")
	}
	return proximity.Position{Location: *l.req.Location, Accuracy: l.req.Accuracy}, nil
}

func (p Proximity) readLocation(r *http.Request) (locationRequest, proximity.Position, error) {
	var body locationRequest
	if err := api.DecodeJSON(r, &body); err != nil {
		return body, proximity.Position{}, err
	}
	loc := reportedLocator{req: body}
	if granted, _ := loc.RequestForegroundPermission(r.Context()); granted && body.Location == nil {
		return body, proximity.Position{}, fmt.Errorf("%w: location is required", models.ErrInvalidArgument)
	}
	pos, err := proximity.GetCurrentLocation(r.Context(), loc)
	return body, pos, err
}

func (p Proximity) radius(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	if p.DefaultRadiusKm > 0 {
		return p.DefaultRadiusKm
	}
	return models.DefaultNotificationRadiusKm
}

// EnableLocationPreferencesHandler stores the caller's location and radius and returns
// the requests already active around them
func (p Proximity) EnableLocationPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := api.CallerFrom(r.Context())

	body, pos, err := p.readLocation(r)
	if err != nil {
		api.WriteError(w, "failed to read location", err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	nearby, err := p.Prefs.InitializeProximityNotifications(ctx, caller.UserID, pos.Location, p.radius(body.RadiusKm))
	if err != nil {
		api.WriteError(w, "failed to enable proximity notifications", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"nearby":  nearby,
	})
}

// DisableLocationPreferencesHandler turns proximity notifications off for the caller
func (p Proximity) DisableLocationPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := api.CallerFrom(r.Context())

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if err := p.Prefs.DisableProximityNotifications(ctx, caller.UserID); err != nil {
		api.WriteError(w, "failed to disable proximity notifications", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// NearbyRequestsHandler lists active requests within the radius, nearest first
func (p Proximity) NearbyRequestsHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := api.CallerFrom(r.Context())

	body, pos, err := p.readLocation(r)
	if err != nil {
		api.WriteError(w, "failed to read location", err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	nearby, err := p.Matcher.CheckNearbyBloodRequests(ctx, caller.UserID, pos.Location, p.radius(body.RadiusKm))
	if err != nil {
		api.WriteError(w, "failed to check nearby requests", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, nearby)
}

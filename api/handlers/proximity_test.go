package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/bloodbond-api/api/handlers"
	"github.com/linesmerrill/bloodbond-api/models"
)

type fakePrefs struct {
	userID   string
	location models.Location
	radiusKm float64
	disabled []string
	nearby   []models.NearbyRequest
	err      error
}

func (f *fakePrefs) InitializeProximityNotifications(_ context.Context, userID string, location models.Location, radiusKm float64) ([]models.NearbyRequest, error) {
	f.userID, f.location, f.radiusKm = userID, location, radiusKm
	return f.nearby, f.err
}

func (f *fakePrefs) DisableProximityNotifications(_ context.Context, userID string) error {
	f.disabled = append(f.disabled, userID)
	return f.err
}

func (f *fakePrefs) CheckNearbyBloodRequests(_ context.Context, userID string, location models.Location, radiusKm float64) ([]models.NearbyRequest, error) {
	f.userID, f.location, f.radiusKm = userID, location, radiusKm
	return f.nearby, f.err
}

var cairo = models.Location{Latitude: 30.0444, Longitude: 31.2357}

func TestProximity_EnableLocationPreferencesHandler(t *testing.T) {
	prefs := &fakePrefs{nearby: []models.NearbyRequest{{Request: models.BloodRequest{BloodType: "O-"}, DistanceKm: 4.2}}}
	p := handlers.Proximity{Prefs: prefs, DefaultRadiusKm: 10}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/location-preferences",
		strings.NewReader(`{"permission":"granted","location":{"latitude":30.0444,"longitude":31.2357},"radiusKm":25}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(p.EnableLocationPreferencesHandler).ServeHTTP(rr, asUser(req, "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-1", prefs.userID)
	assert.Equal(t, cairo, prefs.location)
	assert.Equal(t, 25.0, prefs.radiusKm)

	var body struct {
		Success bool                   `json:"success"`
		Nearby  []models.NearbyRequest `json:"nearby"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.Nearby, 1)
	assert.Equal(t, 4.2, body.Nearby[0].DistanceKm)
}

func TestProximity_EnableLocationPreferencesHandlerDefaultRadius(t *testing.T) {
	prefs := &fakePrefs{}
	p := handlers.Proximity{Prefs: prefs, DefaultRadiusKm: 15}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/location-preferences",
		strings.NewReader(`{"location":{"latitude":30.0444,"longitude":31.2357}}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(p.EnableLocationPreferencesHandler).ServeHTTP(rr, asUser(req, "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 15.0, prefs.radiusKm)
}

func TestProximity_EnableLocationPreferencesHandlerPermissionDenied(t *testing.T) {
	prefs := &fakePrefs{}
	p := handlers.Proximity{Prefs: prefs}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/location-preferences",
		strings.NewReader(`{"permission":"denied","location":{"latitude":30.0444,"longitude":31.2357}}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(p.EnableLocationPreferencesHandler).ServeHTTP(rr, asUser(req, "user-1"))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, prefs.userID)
}

func TestProximity_EnableLocationPreferencesHandlerNoLocation(t *testing.T) {
	p := handlers.Proximity{Prefs: &fakePrefs{}}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/location-preferences", strings.NewReader(`{"permission":"granted"}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(p.EnableLocationPreferencesHandler).ServeHTTP(rr, asUser(req, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProximity_EnableLocationPreferencesHandlerInvalidLocation(t *testing.T) {
	p := handlers.Proximity{Prefs: &fakePrefs{}}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/location-preferences",
		strings.NewReader(`{"location":{"latitude":123,"longitude":31.2357}}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(p.EnableLocationPreferencesHandler).ServeHTTP(rr, asUser(req, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProximity_DisableLocationPreferencesHandler(t *testing.T) {
	prefs := &fakePrefs{}
	p := handlers.Proximity{Prefs: prefs}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/location-preferences", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(p.DisableLocationPreferencesHandler).ServeHTTP(rr, asUser(req, "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success": true}`, rr.Body.String())
	assert.Equal(t, []string{"user-1"}, prefs.disabled)
}

func TestProximity_NearbyRequestsHandler(t *testing.T) {
	matcher := &fakePrefs{nearby: []models.NearbyRequest{}}
	p := handlers.Proximity{Matcher: matcher}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/nearby",
		strings.NewReader(`{"location":{"latitude":30.0444,"longitude":31.2357},"radiusKm":5}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(p.NearbyRequestsHandler).ServeHTTP(rr, asUser(req, "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", rr.Body.String())
	assert.Equal(t, 5.0, matcher.radiusKm)
	assert.Equal(t, models.DefaultNotificationRadiusKm, handlers.Proximity{}.RadiusFor(0))
}

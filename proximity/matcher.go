// Package proximity matches blood requests against users' saved locations.
// Matching is a linear scan over the enabled preferences, there is no spatial index.
package proximity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/databases"
	"github.com/linesmerrill/bloodbond-api/dispatch"
	"github.com/linesmerrill/bloodbond-api/geo"
	"github.com/linesmerrill/bloodbond-api/logging"
	"github.com/linesmerrill/bloodbond-api/models"
)

// DefaultDedupeTTL bounds how long a (request, user) pair is remembered
const DefaultDedupeTTL = 24 * time.Hour

// Dispatcher is the part of dispatch.Dispatcher the matcher uses
type Dispatcher interface {
	DispatchMessage(ctx context.Context, msg dispatch.Message) (dispatch.Result, error)
}

// Matcher notifies users near a request and answers nearby-request queries
type Matcher struct {
	Preferences databases.LocationPreferenceDatabase
	Requests    databases.BloodRequestDatabase
	Dispatcher  Dispatcher
	// Seen holds the (request, user) pairs already notified
	Seen *cache.Cache
	Log  *zap.SugaredLogger
}

// NewMatcher returns a Matcher that remembers notified pairs for dedupeTTL
func NewMatcher(prefs databases.LocationPreferenceDatabase, requests databases.BloodRequestDatabase, d Dispatcher, dedupeTTL time.Duration) *Matcher {
	if dedupeTTL <= 0 {
		dedupeTTL = DefaultDedupeTTL
	}
	return &Matcher{
		Preferences: prefs,
		Requests:    requests,
		Dispatcher:  d,
		Seen:        cache.New(dedupeTTL, 2*dedupeTTL),
		Log:         logging.Named("proximity"),
	}
}

func (m *Matcher) log() *zap.SugaredLogger {
	return logging.OrNamed(m.Log, "proximity")
}

// NotifyNearbyUsers dispatches a nearby-request notification to every enabled user whose
// saved location is within their own radius of req. It returns how many were notified.
func (m *Matcher) NotifyNearbyUsers(ctx context.Context, req models.BloodRequest) (int, error) {
	if req.Location == nil || !geo.Valid(*req.Location) {
		return 0, nil
	}

	prefs, err := m.Preferences.Find(ctx,
		bson.M{"enableLocationNotifications": true, "userId": bson.M{"$ne": req.UserID}},
		options.Find().SetSort(bson.D{{Key: "lastLocationUpdate", Value: -1}}))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to load location preferences: %v", models.ErrUnavailable, err)
	}

	notified := 0
	checked := make(map[string]bool, len(prefs))
	for _, p := range prefs {
		// newest preference per user wins when older rows linger
		if p.UserID == req.UserID || checked[p.UserID] {
			continue
		}
		checked[p.UserID] = true
		if p.Location == nil {
			continue
		}

		if !geo.IsWithinRadius(*p.Location, *req.Location, p.Radius()) {
			continue
		}
		if !m.markSeen(req, p.UserID) {
			continue
		}

		distance := geo.DistanceKm(*p.Location, *req.Location)
		title, body := nearbyMessage(req, distance)
		_, err := m.Dispatcher.DispatchMessage(ctx, dispatch.Message{
			UserID: p.UserID,
			Type:   models.NotificationTypeNearbyRequest,
			Title:  title,
			Body:   body,
			Data: map[string]interface{}{
				"requestId":  req.ID.Hex(),
				"bloodType":  req.BloodType,
				"distanceKm": roundKm(distance),
				"urgent":     req.Urgent,
			},
		})
		if err != nil {
			m.log().Warnw("failed to dispatch nearby request", "requestId", req.ID.Hex(), "userId", p.UserID, "error", err)
			m.Seen.Delete(seenKey(req, p.UserID))
			continue
		}
		notified++
	}

	m.log().Infow("nearby users notified", "requestId", req.ID.Hex(), "candidates", len(prefs), "notified", notified)
	return notified, nil
}

// markSeen reports false when the pair was already notified
func (m *Matcher) markSeen(req models.BloodRequest, userID string) bool {
	if m.Seen == nil {
		return true
	}
	return m.Seen.Add(seenKey(req, userID), struct{}{}, cache.DefaultExpiration) == nil
}

func seenKey(req models.BloodRequest, userID string) string {
	return req.ID.Hex() + ":" + userID
}

// CheckNearbyBloodRequests returns other users' active requests within radiusKm of
// location, nearest first. A radius of zero or less uses the default radius.
func (m *Matcher) CheckNearbyBloodRequests(ctx context.Context, userID string, location models.Location, radiusKm float64) ([]models.NearbyRequest, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", models.ErrInvalidArgument)
	}
	if !geo.Valid(location) {
		return nil, fmt.Errorf("%w: invalid location", models.ErrInvalidArgument)
	}
	if radiusKm <= 0 {
		radiusKm = models.DefaultNotificationRadiusKm
	}

	requests, err := m.Requests.Find(ctx, bson.M{"status": models.RequestStatusActive, "userId": bson.M{"$ne": userID}})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load blood requests: %v", models.ErrUnavailable, err)
	}

	nearby := []models.NearbyRequest{}
	for _, r := range requests {
		if r.UserID == userID || r.Location == nil || r.Status != models.RequestStatusActive {
			continue
		}
		if !geo.IsWithinRadius(location, *r.Location, radiusKm) {
			continue
		}
		nearby = append(nearby, models.NearbyRequest{Request: r, DistanceKm: roundKm(geo.DistanceKm(location, *r.Location))})
	}
	sort.SliceStable(nearby, func(i, j int) bool { return nearby[i].DistanceKm < nearby[j].DistanceKm })
	return nearby, nil
}

func nearbyMessage(req models.BloodRequest, distanceKm float64) (string, string) {
	title := fmt.Sprintf("%s blood needed nearby", req.BloodType)
	if req.Urgent {
		title = "URGENT: " + title
	}
	body := fmt.Sprintf("%.1f km away at %s", distanceKm, req.Hospital)
	if req.City != "" {
		body += ", " + req.City
	}
	return title, body
}

func roundKm(km float64) float64 {
	return float64(int64(km*10+0.5)) / 10
}

package proximity

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/databases"
	"github.com/linesmerrill/bloodbond-api/geo"
	"github.com/linesmerrill/bloodbond-api/logging"
	"github.com/linesmerrill/bloodbond-api/models"
)

// Preferences manages each user's location notification preference, one row per user
type Preferences struct {
	DB              databases.LocationPreferenceDatabase
	Matcher         *Matcher
	DefaultRadiusKm float64
	Now             func() time.Time
	Log             *zap.SugaredLogger
}

// NewPreferences returns Preferences using the package default radius
func NewPreferences(db databases.LocationPreferenceDatabase, matcher *Matcher) *Preferences {
	return &Preferences{
		DB:              db,
		Matcher:         matcher,
		DefaultRadiusKm: models.DefaultNotificationRadiusKm,
		Now:             time.Now,
		Log:             logging.Named("proximity.preferences"),
	}
}

// InitializeProximityNotifications enables notifications for userID at location and
// returns the active requests already nearby.
func (p *Preferences) InitializeProximityNotifications(ctx context.Context, userID string, location models.Location, radiusKm float64) ([]models.NearbyRequest, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", models.ErrInvalidArgument)
	}
	if !geo.Valid(location) {
		return nil, fmt.Errorf("%w: invalid location", models.ErrInvalidArgument)
	}
	if radiusKm <= 0 {
		radiusKm = p.DefaultRadiusKm
	}
	if radiusKm <= 0 {
		radiusKm = models.DefaultNotificationRadiusKm
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	_, err := p.DB.UpdateOne(ctx, bson.M{"userId": userID}, bson.M{"$set": bson.M{
		"enableLocationNotifications": true,
		"notificationRadius":          radiusKm,
		"location":                    location,
		"lastLocationUpdate":          now().UTC(),
	}}, options.Update().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to save location preference: %v", models.ErrUnavailable, err)
	}
	logging.OrNamed(p.Log, "proximity.preferences").Infow("proximity notifications enabled", "userId", userID, "radiusKm", radiusKm)

	return p.Matcher.CheckNearbyBloodRequests(ctx, userID, location, radiusKm)
}

// DisableProximityNotifications turns notifications off and keeps the saved location
func (p *Preferences) DisableProximityNotifications(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", models.ErrInvalidArgument)
	}
	_, err := p.DB.UpdateMany(ctx, bson.M{"userId": userID}, bson.M{"$set": bson.M{"enableLocationNotifications": false}})
	if err != nil {
		return fmt.Errorf("%w: failed to disable location notifications: %v", models.ErrUnavailable, err)
	}
	return nil
}

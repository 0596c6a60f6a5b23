// Package registry keeps the per-user, per-device push token records.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/databases"
	"github.com/linesmerrill/bloodbond-api/devices"
	"github.com/linesmerrill/bloodbond-api/logging"
	"github.com/linesmerrill/bloodbond-api/models"
)

// Registration is one registerToken call
type Registration struct {
	UserID    string
	Token     string
	Platform  models.Platform
	DeviceID  string
	UserAgent string
}

// Registry dedupes token records by device id, else by token value, and soft-deletes
// instead of removing.
type Registry struct {
	DB  databases.PushTokenDatabase
	Log *zap.SugaredLogger
	// Now is swapped in tests
	Now func() time.Time
}

// New returns a Registry backed by db
func New(db databases.PushTokenDatabase) *Registry {
	return &Registry{DB: db, Log: logging.Named("registry"), Now: time.Now}
}

func (r *Registry) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *Registry) log() *zap.SugaredLogger {
	return logging.OrNamed(r.Log, "registry")
}

// EnsureIndexes creates the indexes backing the dedupe invariant
func (r *Registry) EnsureIndexes(ctx context.Context) error {
	if err := r.DB.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("%w: failed to create push token indexes: %v", models.ErrUnavailable, err)
	}
	return nil
}

// RegisterToken stores reg.Token for the user's device. A second registration for the
// same device (or the same token when no device id is known) updates the existing record.
func (r *Registry) RegisterToken(ctx context.Context, reg Registration) error {
	if reg.UserID == "" || reg.Token == "" {
		return fmt.Errorf("%w: userId and token are required", models.ErrInvalidArgument)
	}
	if reg.Platform == "" {
		reg.Platform = models.PlatformWeb
	}
	if !reg.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", models.ErrInvalidArgument, reg.Platform)
	}

	now := r.now()
	device, browser := devices.Classify(reg.UserAgent)
	set := bson.M{
		"userId":    reg.UserID,
		"token":     reg.Token,
		"kind":      models.KindOf(reg.Token),
		"platform":  reg.Platform,
		"device":    device,
		"browser":   browser,
		"active":    true,
		"updatedAt": now,
	}
	if reg.DeviceID != "" {
		set["deviceId"] = reg.DeviceID
	}
	if reg.UserAgent != "" {
		set["userAgent"] = reg.UserAgent
	}
	update := bson.M{
		"$set":   set,
		"$unset": bson.M{"deactivatedAt": ""},
	}

	existing, err := r.findExisting(ctx, reg)
	if err != nil {
		return err
	}
	if existing != nil {
		if _, err := r.DB.UpdateOne(ctx, bson.M{"_id": existing.ID}, update); err != nil {
			return fmt.Errorf("%w: failed to update push token: %v", models.ErrUnavailable, err)
		}
		r.log().Debugw("updated push token", "userId", reg.UserID, "deviceId", reg.DeviceID)
		return nil
	}

	// Nothing found: upsert on the same key so a record created concurrently is updated
	// rather than duplicated.
	update["$setOnInsert"] = bson.M{"createdAt": now}
	_, err = r.DB.UpdateOne(ctx, identityFilter(reg), update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// lost the race against the unique index; the winner's row is ours to update
		_, err = r.DB.UpdateOne(ctx, identityFilter(reg), bson.M{"$set": set, "$unset": bson.M{"deactivatedAt": ""}})
	}
	if err != nil {
		return fmt.Errorf("%w: failed to insert push token: %v", models.ErrUnavailable, err)
	}
	r.log().Infow("registered push token", "userId", reg.UserID, "deviceId", reg.DeviceID, "kind", models.KindOf(reg.Token))
	return nil
}

// findExisting looks the record up by device id when one is given, falling back to a record
// for the same token with no device id yet so the device id can be backfilled. Without a
// device id the newest record for the token wins whatever its device.
func (r *Registry) findExisting(ctx context.Context, reg Registration) (*models.PushToken, error) {
	newestFirst := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	filters := make([]bson.M, 0, 2)
	if reg.DeviceID != "" {
		filters = append(filters,
			bson.M{"userId": reg.UserID, "deviceId": reg.DeviceID},
			bson.M{"userId": reg.UserID, "token": reg.Token, "deviceId": bson.M{"$exists": false}})
	} else {
		filters = append(filters, bson.M{"userId": reg.UserID, "token": reg.Token})
	}

	for _, filter := range filters {
		token, err := r.DB.FindOne(ctx, filter, newestFirst)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to look up push token: %v", models.ErrUnavailable, err)
		}
		return token, nil
	}
	return nil, nil
}

func identityFilter(reg Registration) bson.M {
	if reg.DeviceID != "" {
		return bson.M{"userId": reg.UserID, "deviceId": reg.DeviceID}
	}
	return bson.M{"userId": reg.UserID, "token": reg.Token}
}

// UnregisterToken deactivates the user's active records matching deviceID, or token when
// no device id is given. No matching record is not an error.
func (r *Registry) UnregisterToken(ctx context.Context, userID, token, deviceID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: userId is required", models.ErrInvalidArgument)
	}
	if token == "" && deviceID == "" {
		return 0, fmt.Errorf("%w: token or deviceId is required", models.ErrInvalidArgument)
	}

	filter := bson.M{"userId": userID, "active": true}
	if deviceID != "" {
		filter["deviceId"] = deviceID
	} else {
		filter["token"] = token
	}
	now := r.now()
	res, err := r.DB.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"active":        false,
		"deactivatedAt": now,
		"updatedAt":     now,
	}})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to deactivate push tokens: %v", models.ErrUnavailable, err)
	}
	r.log().Infow("unregistered push tokens", "userId", userID, "deviceId", deviceID, "count", res.ModifiedCount)
	return res.ModifiedCount, nil
}

// DeactivateTokens soft-deletes tokens the provider reported as unregistered
func (r *Registry) DeactivateTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	now := r.now()
	_, err := r.DB.UpdateMany(ctx, bson.M{"token": bson.M{"$in": tokens}, "active": true}, bson.M{"$set": bson.M{
		"active":        false,
		"deactivatedAt": now,
		"updatedAt":     now,
	}})
	if err != nil {
		return fmt.Errorf("%w: failed to deactivate rejected tokens: %v", models.ErrUnavailable, err)
	}
	return nil
}

// ListActiveTokens returns the user's active records, newest first
func (r *Registry) ListActiveTokens(ctx context.Context, userID string) ([]models.PushToken, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", models.ErrInvalidArgument)
	}
	tokens, err := r.DB.Find(ctx, bson.M{"userId": userID, "active": true},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list push tokens: %v", models.ErrUnavailable, err)
	}
	// the store filter is the contract, but an inactive row must never leak to delivery
	active := tokens[:0]
	for _, t := range tokens {
		if t.Active {
			active = append(active, t)
		}
	}
	return active, nil
}

// ListRealTokens pages through every active provider token across users, for fan-out
func (r *Registry) ListRealTokens(ctx context.Context, skip, limit int64) ([]models.PushToken, error) {
	tokens, err := r.DB.Find(ctx, bson.M{"active": true, "kind": models.TokenKindReal},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetSkip(skip).SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to page push tokens: %v", models.ErrUnavailable, err)
	}
	return tokens, nil
}

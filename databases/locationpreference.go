package databases

// go generate: mockery --name LocationPreferenceDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/bloodbond-api/models"
)

const locationPreferenceCollectionName = "userLocationPreferences"

// LocationPreferenceDatabase contains the methods to use with the user location preference database
type LocationPreferenceDatabase interface {
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.UserLocationPreference, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	EnsureIndexes(context.Context) error
}

type locationPreferenceDatabase struct {
	db DatabaseHelper
}

// NewLocationPreferenceDatabase initializes a new instance of location preference database with the provided db connection
func NewLocationPreferenceDatabase(db DatabaseHelper) LocationPreferenceDatabase {
	return &locationPreferenceDatabase{
		db: db,
	}
}

func (lp *locationPreferenceDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.UserLocationPreference, error) {
	var prefs []models.UserLocationPreference
	cur, err := lp.db.Collection(locationPreferenceCollectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&prefs)
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

func (lp *locationPreferenceDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return lp.db.Collection(locationPreferenceCollectionName).UpdateOne(ctx, filter, update, opts...)
}

func (lp *locationPreferenceDatabase) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return lp.db.Collection(locationPreferenceCollectionName).UpdateMany(ctx, filter, update, opts...)
}

func (lp *locationPreferenceDatabase) EnsureIndexes(ctx context.Context) error {
	return lp.db.Collection(locationPreferenceCollectionName).CreateIndexes(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "lastLocationUpdate", Value: -1}},
			Options: options.Index().SetName("user_last_update"),
		},
		{
			Keys:    bson.D{{Key: "enableLocationNotifications", Value: 1}},
			Options: options.Index().SetName("enabled"),
		},
	})
}

package databases

// go generate: mockery --name PushTokenDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/bloodbond-api/models"
)

const pushTokenCollectionName = "userTokens"

// PushTokenDatabase contains the methods to use with the push token database
type PushTokenDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.PushToken, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.PushToken, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	EnsureIndexes(context.Context) error
}

type pushTokenDatabase struct {
	db DatabaseHelper
}

// NewPushTokenDatabase initializes a new instance of push token database with the provided db connection
func NewPushTokenDatabase(db DatabaseHelper) PushTokenDatabase {
	return &pushTokenDatabase{
		db: db,
	}
}

func (pt *pushTokenDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.PushToken, error) {
	token := &models.PushToken{}
	err := pt.db.Collection(pushTokenCollectionName).FindOne(ctx, filter, opts...).Decode(token)
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (pt *pushTokenDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.PushToken, error) {
	var tokens []models.PushToken
	cur, err := pt.db.Collection(pushTokenCollectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&tokens)
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (pt *pushTokenDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return pt.db.Collection(pushTokenCollectionName).UpdateOne(ctx, filter, update, opts...)
}

func (pt *pushTokenDatabase) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return pt.db.Collection(pushTokenCollectionName).UpdateMany(ctx, filter, update, opts...)
}

// EnsureIndexes backs the one-active-record-per-device invariant with a unique partial index
func (pt *pushTokenDatabase) EnsureIndexes(ctx context.Context) error {
	return pt.db.Collection(pushTokenCollectionName).CreateIndexes(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "deviceId", Value: 1}},
			Options: options.Index().
				SetName("uniq_active_user_device").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"active":   true,
					"deviceId": bson.M{"$type": "string"},
				}),
		},
		{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "token", Value: 1}},
			Options: options.Index().SetName("user_token"),
		},
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetName("token"),
		},
	})
}

package databases

// go generate: mockery --name BroadcastDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/bloodbond-api/models"
)

const broadcastCollectionName = "broadcasts"

// BroadcastDatabase contains the methods to use with the broadcast database
type BroadcastDatabase interface {
	InsertOne(context.Context, models.Broadcast) (InsertOneResultHelper, error)
	FindOneAndUpdate(context.Context, interface{}, interface{}, ...*options.FindOneAndUpdateOptions) (*models.Broadcast, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type broadcastDatabase struct {
	db DatabaseHelper
}

// NewBroadcastDatabase initializes a new instance of broadcast database with the provided db connection
func NewBroadcastDatabase(db DatabaseHelper) BroadcastDatabase {
	return &broadcastDatabase{
		db: db,
	}
}

func (b *broadcastDatabase) InsertOne(ctx context.Context, broadcast models.Broadcast) (InsertOneResultHelper, error) {
	return b.db.Collection(broadcastCollectionName).InsertOne(ctx, broadcast)
}

// FindOneAndUpdate returns mongo.ErrNoDocuments when nothing matched
func (b *broadcastDatabase) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.Broadcast, error) {
	broadcast := &models.Broadcast{}
	err := b.db.Collection(broadcastCollectionName).FindOneAndUpdate(ctx, filter, update, opts...).Decode(broadcast)
	if err != nil {
		return nil, err
	}
	return broadcast, nil
}

func (b *broadcastDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return b.db.Collection(broadcastCollectionName).UpdateOne(ctx, filter, update, opts...)
}

func (b *broadcastDatabase) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return b.db.Collection(broadcastCollectionName).UpdateMany(ctx, filter, update, opts...)
}

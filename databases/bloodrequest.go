package databases

// go generate: mockery --name BloodRequestDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/bloodbond-api/models"
)

const bloodRequestCollectionName = "requests"

// BloodRequestDatabase contains the methods to use with the blood request database.
// Requests are written by another service, so only reads are exposed.
type BloodRequestDatabase interface {
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.BloodRequest, error)
	Watch(context.Context, interface{}, ...*options.ChangeStreamOptions) (ChangeStreamHelper, error)
}

type bloodRequestDatabase struct {
	db DatabaseHelper
}

// NewBloodRequestDatabase initializes a new instance of blood request database with the provided db connection
func NewBloodRequestDatabase(db DatabaseHelper) BloodRequestDatabase {
	return &bloodRequestDatabase{
		db: db,
	}
}

func (b *bloodRequestDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.BloodRequest, error) {
	var requests []models.BloodRequest
	cur, err := b.db.Collection(bloodRequestCollectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&requests)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (b *bloodRequestDatabase) Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (ChangeStreamHelper, error) {
	return b.db.Collection(bloodRequestCollectionName).Watch(ctx, pipeline, opts...)
}

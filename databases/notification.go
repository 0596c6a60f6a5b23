package databases

// go generate: mockery --name NotificationDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/bloodbond-api/models"
)

const notificationCollectionName = "notifications"

// NotificationDatabase contains the methods to use with the notification database
type NotificationDatabase interface {
	InsertOne(context.Context, models.Notification) (InsertOneResultHelper, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Notification, error)
}

type notificationDatabase struct {
	db DatabaseHelper
}

// NewNotificationDatabase initializes a new instance of notification database with the provided db connection
func NewNotificationDatabase(db DatabaseHelper) NotificationDatabase {
	return &notificationDatabase{
		db: db,
	}
}

func (n *notificationDatabase) InsertOne(ctx context.Context, notification models.Notification) (InsertOneResultHelper, error) {
	return n.db.Collection(notificationCollectionName).InsertOne(ctx, notification)
}

func (n *notificationDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Notification, error) {
	var notifications []models.Notification
	cur, err := n.db.Collection(notificationCollectionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cur.Decode(&notifications)
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultNotificationRadiusKm is used when a preference carries no radius
const DefaultNotificationRadiusKm = 10.0

// Location is a latitude/longitude pair in degrees
type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

// UserLocationPreference holds the structure for the userLocationPreferences collection in mongo
type UserLocationPreference struct {
	ID                          primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	UserID                      string             `json:"userId" bson:"userId"`
	EnableLocationNotifications bool               `json:"enableLocationNotifications" bson:"enableLocationNotifications"`
	NotificationRadius          float64            `json:"notificationRadius" bson:"notificationRadius"`
	Location                    *Location          `json:"location,omitempty" bson:"location,omitempty"`
	LastLocationUpdate          time.Time          `json:"lastLocationUpdate" bson:"lastLocationUpdate"`
}

// Radius returns the configured radius or the default
func (p UserLocationPreference) Radius() float64 {
	if p.NotificationRadius <= 0 {
		return DefaultNotificationRadiusKm
	}
	return p.NotificationRadius
}

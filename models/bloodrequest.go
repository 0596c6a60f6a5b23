package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RequestStatusActive marks a request that still needs donors
const RequestStatusActive = "active"

// BloodRequest holds the structure for the requests collection in mongo.
// The collection is owned by the requests service; this api only reads it.
type BloodRequest struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	UserID    string             `json:"userId" bson:"userId"`
	BloodType string             `json:"bloodType" bson:"bloodType"`
	City      string             `json:"city" bson:"city"`
	Hospital  string             `json:"hospital" bson:"hospital"`
	Urgent    bool               `json:"urgent" bson:"urgent"`
	Location  *Location          `json:"location,omitempty" bson:"location,omitempty"`
	Status    string             `json:"status" bson:"status"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

// NearbyRequest is a request matched against a user's location
type NearbyRequest struct {
	Request    BloodRequest `json:"request"`
	DistanceKm float64      `json:"distanceKm"`
}

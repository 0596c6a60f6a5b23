package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notification types written by the dispatcher
const (
	NotificationTypeGeneral        = "general"
	NotificationTypeNearbyRequest  = "nearby_request"
	NotificationTypeBroadcast      = "broadcast"
	NotificationTypeRequestUpdated = "request_updated"
)

// Notification holds the structure for the notifications collection in mongo
type Notification struct {
	ID        primitive.ObjectID     `json:"_id" bson:"_id,omitempty"`
	UserID    string                 `json:"userId" bson:"userId"`
	Type      string                 `json:"type" bson:"type"`
	Title     string                 `json:"title" bson:"title"`
	Message   string                 `json:"message" bson:"message"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	Read      bool                   `json:"read" bson:"read"`
	Data      map[string]interface{} `json:"data,omitempty" bson:"data,omitempty"`
}

// Broadcast statuses
const (
	BroadcastPending    = "pending"
	BroadcastProcessing = "processing"
	BroadcastSent       = "sent"
	BroadcastFailed     = "failed"
)

// Broadcast holds the structure for the broadcasts collection in mongo.
// Pending broadcasts are fanned out by the scheduler.
type Broadcast struct {
	ID          primitive.ObjectID     `json:"_id" bson:"_id,omitempty"`
	BatchID     string                 `json:"batchId" bson:"batchId"`
	Title       string                 `json:"title" bson:"title"`
	Body        string                 `json:"body" bson:"body"`
	Data        map[string]interface{} `json:"data,omitempty" bson:"data,omitempty"`
	CreatedBy   string                 `json:"createdBy" bson:"createdBy"`
	Status      string                 `json:"status" bson:"status"`
	CreatedAt   time.Time              `json:"createdAt" bson:"createdAt"`
	ClaimedBy   string                 `json:"claimedBy,omitempty" bson:"claimedBy,omitempty"`
	ClaimedAt   *time.Time             `json:"claimedAt,omitempty" bson:"claimedAt,omitempty"`
	ProcessedAt *time.Time             `json:"processedAt,omitempty" bson:"processedAt,omitempty"`
	SentCount   int                    `json:"sentCount" bson:"sentCount"`
	FailedCount int                    `json:"failedCount" bson:"failedCount"`
}

// SendNotificationRequest is the body accepted by POST /api/sendNotification
type SendNotificationRequest struct {
	Type   string                 `json:"type"`
	UserID string                 `json:"userId"`
	Title  string                 `json:"title"`
	Body   string                 `json:"body"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// HealthCheckResponse returns the health check response duh
type HealthCheckResponse struct {
	Alive bool `json:"alive"`
}

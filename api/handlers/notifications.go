package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/bloodbond-api/api"
	"github.com/linesmerrill/bloodbond-api/databases"
	"github.com/linesmerrill/bloodbond-api/dispatch"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/push"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 100
)

// NotificationDispatcher is the dispatch surface the notification routes use
type NotificationDispatcher interface {
	DispatchMessage(ctx context.Context, msg dispatch.Message) (dispatch.Result, error)
	SendBroadcast(ctx context.Context, title, body string, data map[string]interface{}, createdBy string) (dispatch.BroadcastResult, error)
}

// UserPusher sends straight to a user's provider tokens
type UserPusher interface {
	SendToUser(ctx context.Context, userID string, msg push.Message) (push.Report, error)
}

// Notification exists for dependency injection purposes
type Notification struct {
	DB         databases.NotificationDatabase
	Dispatcher NotificationDispatcher
	Push       UserPusher
}

type dispatchRequest struct {
	UserID string                 `json:"userId"`
	Type   string                 `json:"type"`
	Title  string                 `json:"title"`
	Body   string                 `json:"body"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// SendNotificationHandler is the server-side send endpoint the dispatcher posts to. Only
// {type:"user"} requests are supported.
func (n Notification) SendNotificationHandler(w http.ResponseWriter, r *http.Request) {
	var body models.SendNotificationRequest
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, "failed to decode request body", err)
		return
	}
	if body.Type != "user" {
		api.WriteError(w, "unsupported notification type", fmt.Errorf("%w: type %q", models.ErrInvalidArgument, body.Type))
		return
	}

	report, err := n.Push.SendToUser(r.Context(), body.UserID, push.Message{
		Title: body.Title,
		Body:  body.Body,
		Data:  body.Data,
	})
	if err != nil {
		api.WriteError(w, "failed to send notification", err)
		return
	}
	// a 2xx tells the sender the push was accepted, so an all-rejected send must not get one
	if report.Sent == 0 {
		api.WriteError(w, "failed to send notification", fmt.Errorf("%w: no token accepted the message", models.ErrNoTokens))
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"sent":    report.Sent,
		"failed":  report.Failed,
	})
}

// DispatchNotificationHandler records a notification and delivers it over the best channel.
// Sending to another user requires the admin or service scope.
func (n Notification) DispatchNotificationHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := api.CallerFrom(r.Context())

	var body dispatchRequest
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, "failed to decode request body", err)
		return
	}
	if body.UserID == "" {
		body.UserID = caller.UserID
	}
	if body.UserID != caller.UserID && !caller.HasScope(api.ScopeAdmin) && !caller.HasScope(api.ScopeService) {
		api.WriteError(w, "cannot notify another user", models.ErrPermissionDenied)
		return
	}

	res, err := n.Dispatcher.DispatchMessage(r.Context(), dispatch.Message{
		UserID: body.UserID,
		Type:   body.Type,
		Title:  body.Title,
		Body:   body.Body,
		Data:   body.Data,
	})
	if err != nil {
		api.WriteError(w, "failed to dispatch notification", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// BroadcastHandler queues a notification for every user
func (n Notification) BroadcastHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := api.CallerFrom(r.Context())

	var body dispatchRequest
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, "failed to decode request body", err)
		return
	}

	res, err := n.Dispatcher.SendBroadcast(r.Context(), body.Title, body.Body, body.Data, caller.UserID)
	if err != nil {
		api.WriteError(w, "failed to queue broadcast", err)
		return
	}
	api.WriteJSON(w, http.StatusAccepted, res)
}

// ListNotificationsHandler returns the caller's notification records, newest first
func (n Notification) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := api.CallerFrom(r.Context())

	limit := int64(defaultNotificationLimit)
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.ParseInt(l, 10, 64)
		if err != nil || v <= 0 {
			api.WriteError(w, "invalid limit", fmt.Errorf("%w: limit %q", models.ErrInvalidArgument, l))
			return
		}
		limit = v
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)
	notifications, err := n.DB.Find(ctx, bson.M{"userId": caller.UserID}, opts)
	if err != nil {
		api.WriteError(w, "failed to get notifications", fmt.Errorf("%w: %v", models.ErrUnavailable, err))
		return
	}
	if len(notifications) == 0 {
		notifications = []models.Notification{}
	}
	api.WriteJSON(w, http.StatusOK, notifications)
}

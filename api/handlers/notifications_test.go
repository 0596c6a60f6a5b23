package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/linesmerrill/bloodbond-api/api"
	"github.com/linesmerrill/bloodbond-api/api/handlers"
	"github.com/linesmerrill/bloodbond-api/databases"
	"github.com/linesmerrill/bloodbond-api/databases/mocks"
	"github.com/linesmerrill/bloodbond-api/dispatch"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/push"
)

type fakeDispatcher struct {
	messages   []dispatch.Message
	result     dispatch.Result
	broadcasts []string
	err        error
}

func (f *fakeDispatcher) DispatchMessage(_ context.Context, msg dispatch.Message) (dispatch.Result, error) {
	f.messages = append(f.messages, msg)
	return f.result, f.err
}

func (f *fakeDispatcher) SendBroadcast(_ context.Context, title, body string, _ map[string]interface{}, createdBy string) (dispatch.BroadcastResult, error) {
	if f.err != nil {
		return dispatch.BroadcastResult{}, f.err
	}
	if title == "" || body == "" {
		return dispatch.BroadcastResult{}, fmt.Errorf("%w: title and body are required", models.ErrInvalidArgument)
	}
	f.broadcasts = append(f.broadcasts, createdBy)
	return dispatch.BroadcastResult{BroadcastID: "b1", BatchID: "batch-1"}, nil
}

type fakePusher struct {
	userIDs []string
	report  push.Report
	err     error
}

func (f *fakePusher) SendToUser(_ context.Context, userID string, _ push.Message) (push.Report, error) {
	f.userIDs = append(f.userIDs, userID)
	return f.report, f.err
}

func TestNotification_SendNotificationHandler(t *testing.T) {
	p := &fakePusher{report: push.Report{Sent: 2, Failed: 1}}
	n := handlers.Notification{Push: p}

	req := httptest.NewRequest(http.MethodPost, "/api/sendNotification",
		strings.NewReader(`{"type":"user","userId":"user-1","title":"Hi","body":"There"}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.SendNotificationHandler).ServeHTTP(rr, asUser(req, "svc", api.ScopeService))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success": true, "sent": 2, "failed": 1}`, rr.Body.String())
	assert.Equal(t, []string{"user-1"}, p.userIDs)
}

func TestNotification_SendNotificationHandlerUnsupportedType(t *testing.T) {
	p := &fakePusher{}
	n := handlers.Notification{Push: p}

	req := httptest.NewRequest(http.MethodPost, "/api/sendNotification",
		strings.NewReader(`{"type":"topic","userId":"user-1","title":"Hi","body":"There"}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.SendNotificationHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, p.userIDs)
}

func TestNotification_SendNotificationHandlerNoTokens(t *testing.T) {
	n := handlers.Notification{Push: &fakePusher{err: models.ErrNoTokens}}

	req := httptest.NewRequest(http.MethodPost, "/api/sendNotification",
		strings.NewReader(`{"type":"user","userId":"user-1","title":"Hi","body":"There"}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.SendNotificationHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, `{"response": "failed to send notification, no active push tokens"}`, rr.Body.String())
}

func TestNotification_SendNotificationHandlerNothingAccepted(t *testing.T) {
	n := handlers.Notification{Push: &fakePusher{report: push.Report{Sent: 0, Failed: 1}}}

	req := httptest.NewRequest(http.MethodPost, "/api/sendNotification",
		strings.NewReader(`{"type":"user","userId":"user-1","title":"Hi","body":"There"}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.SendNotificationHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, `{"response": "failed to send notification, no active push tokens: no token accepted the message"}`, rr.Body.String())
}

func TestNotification_SendersAgreeWhenNothingAccepted(t *testing.T) {
	p := &fakePusher{report: push.Report{Sent: 0, Failed: 1}}
	n := handlers.Notification{Push: p}
	srv := httptest.NewServer(http.HandlerFunc(n.SendNotificationHandler))
	defer srv.Close()

	httpErr := dispatch.NewHTTPSender(srv.URL, "").Send(context.Background(), "user-1", push.Message{Title: "Hi"})
	serviceErr := dispatch.ServiceSender{Push: p}.Send(context.Background(), "user-1", push.Message{Title: "Hi"})

	assert.Error(t, httpErr)
	assert.ErrorIs(t, serviceErr, models.ErrNoTokens)
}

func TestNotification_DispatchNotificationHandler(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{Success: true, Channel: dispatch.ChannelServerPush, NotificationID: "n1"}}
	n := handlers.Notification{Dispatcher: d}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications",
		strings.NewReader(`{"type":"general","title":"Hi","body":"There","data":{"k":"v"}}`))
	req.Header.Set("User-Agent", chromeUA)
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.DispatchNotificationHandler).ServeHTTP(rr, asUser(req, "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success": true, "channel": "server-push", "notificationId": "n1"}`, rr.Body.String())
	require.Len(t, d.messages, 1)
	msg := d.messages[0]
	assert.Equal(t, "user-1", msg.UserID)
	assert.Equal(t, "general", msg.Type)
	assert.Empty(t, msg.UserAgent, "the delay follows the recipient's device, not the caller's")
	assert.Equal(t, map[string]interface{}{"k": "v"}, msg.Data)
}

func TestNotification_DispatchNotificationHandlerOtherUser(t *testing.T) {
	d := &fakeDispatcher{result: dispatch.Result{Success: true, Channel: dispatch.ChannelNone}}
	n := handlers.Notification{Dispatcher: d}

	body := `{"userId":"user-2","title":"Hi","body":"There"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(body))
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.DispatchNotificationHandler).ServeHTTP(rr, asUser(req, "user-1"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, d.messages)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(body))
	rr = httptest.NewRecorder()
	http.HandlerFunc(n.DispatchNotificationHandler).ServeHTTP(rr, asUser(req, "svc", api.ScopeService))
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, d.messages, 1)
	assert.Equal(t, "user-2", d.messages[0].UserID)
}

func TestNotification_DispatchNotificationHandlerInvalid(t *testing.T) {
	d := &fakeDispatcher{err: fmt.Errorf("%w: userId is required", models.ErrInvalidArgument)}
	n := handlers.Notification{Dispatcher: d}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(`{"title":"Hi"}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.DispatchNotificationHandler).ServeHTTP(rr, asUser(req, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotification_BroadcastHandler(t *testing.T) {
	d := &fakeDispatcher{}
	n := handlers.Notification{Dispatcher: d}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/broadcast",
		strings.NewReader(`{"title":"Drive","body":"Donate this weekend"}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.BroadcastHandler).ServeHTTP(rr, asUser(req, "admin-1", api.ScopeAdmin))

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"broadcastId": "b1", "batchId": "batch-1", "directSent": 0}`, rr.Body.String())
	assert.Equal(t, []string{"admin-1"}, d.broadcasts)
}

func TestNotification_BroadcastHandlerMissingBody(t *testing.T) {
	n := handlers.Notification{Dispatcher: &fakeDispatcher{}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/broadcast", strings.NewReader(`{"title":"Drive"}`))
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.BroadcastHandler).ServeHTTP(rr, asUser(req, "admin-1", api.ScopeAdmin))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func notificationDB(t *testing.T, cursor *mocks.CursorHelper, findErr error) (databases.NotificationDatabase, *mocks.CollectionHelper) {
	db := mocks.NewDatabaseHelper(t)
	conn := mocks.NewCollectionHelper(t)
	db.On("Collection", "notifications").Return(conn)
	if findErr != nil {
		conn.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(nil, findErr)
	} else {
		conn.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(cursor, nil)
	}
	return databases.NewNotificationDatabase(db), conn
}

func TestNotification_ListNotificationsHandler(t *testing.T) {
	cursor := mocks.NewCursorHelper(t)
	cursor.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*[]models.Notification)
		*arg = []models.Notification{
			{UserID: "user-1", Type: models.NotificationTypeGeneral, Title: "Hi", Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		}
	})
	db, conn := notificationDB(t, cursor, nil)
	n := handlers.Notification{DB: db}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=500", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.ListNotificationsHandler).ServeHTTP(rr, asUser(req, "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	var got []models.Notification
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Hi", got[0].Title)

	call := conn.Calls[0]
	assert.Equal(t, bson.M{"userId": "user-1"}, call.Arguments.Get(1))
}

func TestNotification_ListNotificationsHandlerEmpty(t *testing.T) {
	cursor := mocks.NewCursorHelper(t)
	cursor.On("Decode", mock.Anything).Return(nil)
	db, _ := notificationDB(t, cursor, nil)
	n := handlers.Notification{DB: db}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.ListNotificationsHandler).ServeHTTP(rr, asUser(req, "user-1"))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", rr.Body.String())
}

func TestNotification_ListNotificationsHandlerBadLimit(t *testing.T) {
	n := handlers.Notification{}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=abc", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.ListNotificationsHandler).ServeHTTP(rr, asUser(req, "user-1"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotification_ListNotificationsHandlerStoreDown(t *testing.T) {
	db, _ := notificationDB(t, nil, errors.New("mocked-error"))
	n := handlers.Notification{DB: db}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(n.ListNotificationsHandler).ServeHTTP(rr, asUser(req, "user-1"))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

// Package dispatch records a notification and delivers it over the first channel that
// works: server push, the local notifier for fallback tokens, then the local notifier alone.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/databases"
	"github.com/linesmerrill/bloodbond-api/devices"
	"github.com/linesmerrill/bloodbond-api/logging"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/push"
)

// Delivery channels reported in Result
const (
	ChannelServerPush    = "server-push"
	ChannelFallbackToken = "fallback-token"
	ChannelLocal         = "local"
	ChannelNone          = "none"
)

// DefaultPostSendDelay is the pause after a server push on duplicate-prone engines
const DefaultPostSendDelay = time.Second

// TokenLister is the part of registry.Registry the dispatcher reads
type TokenLister interface {
	ListActiveTokens(ctx context.Context, userID string) ([]models.PushToken, error)
}

// Sender hands a message to the server-side send endpoint
type Sender interface {
	Send(ctx context.Context, userID string, msg push.Message) error
}

// LocalNotifier shows a notification on the user's open clients
type LocalNotifier interface {
	PermissionGranted(userID string) bool
	Notify(ctx context.Context, n models.Notification) error
}

// Message is one dispatch call. UserAgent picks the post-send delay; when empty the user
// agent on the recipient's most recently updated token is used.
type Message struct {
	UserID    string
	Type      string
	Title     string
	Body      string
	Data      map[string]interface{}
	UserAgent string
}

// Result is always Success once the call got past validation; Channel says what delivered it
type Result struct {
	Success        bool   `json:"success"`
	Channel        string `json:"channel"`
	NotificationID string `json:"notificationId,omitempty"`
}

// Dispatcher sends notifications to users. The broadcast fields are only needed by SendBroadcast.
type Dispatcher struct {
	Notifications databases.NotificationDatabase
	Tokens        TokenLister
	Sender        Sender
	Local         LocalNotifier

	DuplicateProne map[devices.Engine]bool
	PostSendDelay  time.Duration
	Sleep          func(ctx context.Context, d time.Duration)
	Now            func() time.Time
	Log            *zap.SugaredLogger

	Broadcasts      databases.BroadcastDatabase
	RealTokens      RealTokenPager
	Direct          DirectSender
	DirectSend      bool
	DirectSendLimit int
}

// New returns a Dispatcher with iOS Chrome marked duplicate-prone
func New(notifications databases.NotificationDatabase, tokens TokenLister, sender Sender, local LocalNotifier) *Dispatcher {
	return &Dispatcher{
		Notifications:   notifications,
		Tokens:          tokens,
		Sender:          sender,
		Local:           local,
		DuplicateProne:  map[devices.Engine]bool{devices.EngineIOSChrome: true},
		PostSendDelay:   DefaultPostSendDelay,
		Now:             time.Now,
		Log:             logging.Named("dispatch"),
		DirectSendLimit: 5,
	}
}

func (d *Dispatcher) log() *zap.SugaredLogger {
	return logging.OrNamed(d.Log, "dispatch")
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

// Dispatch sends a general notification to userID
func (d *Dispatcher) Dispatch(ctx context.Context, userID, title, body string, data map[string]interface{}) (Result, error) {
	return d.DispatchMessage(ctx, Message{UserID: userID, Title: title, Body: body, Data: data})
}

// DispatchMessage persists one notification record and then tries each channel in order,
// stopping at the first that delivers. Delivery failures are logged, never returned.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg Message) (Result, error) {
	if msg.UserID == "" {
		return Result{}, fmt.Errorf("%w: userId is required", models.ErrInvalidArgument)
	}
	if msg.Type == "" {
		msg.Type = models.NotificationTypeGeneral
	}

	n := models.Notification{
		UserID:    msg.UserID,
		Type:      msg.Type,
		Title:     msg.Title,
		Message:   msg.Body,
		Timestamp: d.now(),
		Data:      msg.Data,
	}
	result := Result{Success: true, Channel: ChannelNone}

	id, err := d.persist(ctx, n)
	if err != nil {
		d.log().Errorw("failed to save notification record", "userId", msg.UserID, "error", err)
	} else if !id.IsZero() {
		n.ID = id
		result.NotificationID = id.Hex()
	}

	provider, fallback, err := d.partition(ctx, msg.UserID)
	if err != nil {
		d.log().Warnw("failed to load push tokens", "userId", msg.UserID, "error", err)
	}

	if len(provider) > 0 {
		err := d.sendServer(ctx, msg)
		if err == nil {
			userAgent := msg.UserAgent
			if userAgent == "" {
				userAgent = recipientAgent(provider, fallback)
			}
			d.afterServerSend(ctx, userAgent)
			result.Channel = ChannelServerPush
			return result, nil
		}
		d.log().Warnw("server push failed, falling back", "userId", msg.UserID, "error", err)
	}

	if d.localGranted(msg.UserID) {
		channel := ChannelLocal
		if len(fallback) > 0 {
			channel = ChannelFallbackToken
		}
		// the fallback-token and last-resort channels are the same local call, so it runs once
		if err := d.notifyLocal(ctx, n); err != nil {
			d.log().Warnw("local notification failed", "userId", msg.UserID, "channel", channel, "error", err)
			return result, nil
		}
		result.Channel = channel
		return result, nil
	}

	d.log().Debugw("no delivery method available, record kept for in-app display", "userId", msg.UserID)
	return result, nil
}

func (d *Dispatcher) persist(ctx context.Context, n models.Notification) (primitive.ObjectID, error) {
	if d.Notifications == nil {
		return primitive.NilObjectID, errors.New("no notification store configured")
	}
	res, err := d.Notifications.InsertOne(ctx, n)
	if err != nil {
		return primitive.NilObjectID, err
	}
	if id, ok := res.Decode().(primitive.ObjectID); ok {
		return id, nil
	}
	return primitive.NilObjectID, nil
}

func (d *Dispatcher) partition(ctx context.Context, userID string) (provider, fallback []models.PushToken, err error) {
	if d.Tokens == nil {
		return nil, nil, nil
	}
	tokens, err := d.Tokens.ListActiveTokens(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	for _, t := range tokens {
		if t.TokenKind().IsFallback() {
			fallback = append(fallback, t)
		} else {
			provider = append(provider, t)
		}
	}
	return provider, fallback, nil
}

// recipientAgent returns the user agent of the most recently updated token
func recipientAgent(groups ...[]models.PushToken) string {
	var newest *models.PushToken
	for _, tokens := range groups {
		for i := range tokens {
			if tokens[i].UserAgent == "" {
				continue
			}
			if newest == nil || tokens[i].UpdatedAt.After(newest.UpdatedAt) {
				newest = &tokens[i]
			}
		}
	}
	if newest == nil {
		return ""
	}
	return newest.UserAgent
}

func (d *Dispatcher) sendServer(ctx context.Context, msg Message) error {
	if d.Sender == nil {
		return errors.New("no sender configured")
	}
	return d.Sender.Send(ctx, msg.UserID, push.Message{Title: msg.Title, Body: msg.Body, Data: msg.Data})
}

// afterServerSend pauses on engines that show back-to-back pushes twice
func (d *Dispatcher) afterServerSend(ctx context.Context, userAgent string) {
	if userAgent == "" || d.PostSendDelay <= 0 || !d.DuplicateProne[devices.ClassifyEngine(userAgent)] {
		return
	}
	if d.Sleep != nil {
		d.Sleep(ctx, d.PostSendDelay)
		return
	}
	t := time.NewTimer(d.PostSendDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) localGranted(userID string) bool {
	return d.Local != nil && d.Local.PermissionGranted(userID)
}

func (d *Dispatcher) notifyLocal(ctx context.Context, n models.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("local notifier panicked: %v", r)
		}
	}()
	return d.Local.Notify(ctx, n)
}

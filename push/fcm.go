package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/linesmerrill/bloodbond-api/logging"
)

// fcmMulticastLimit is the most tokens one multicast message may carry
const fcmMulticastLimit = 500

// MulticastSender is the part of *messaging.Client FCMClient uses
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMClient sends to web tokens through Firebase Cloud Messaging
type FCMClient struct {
	Messaging MulticastSender
	Log       *zap.SugaredLogger
}

// NewFCMClient initializes a firebase app from credentialsFile. An empty path falls back
// to application default credentials.
func NewFCMClient(ctx context.Context, credentialsFile string) (*FCMClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	return &FCMClient{Messaging: client, Log: logging.Named("push.fcm")}, nil
}

// Send multicasts msg and reports unregistered tokens as rejected
func (c *FCMClient) Send(ctx context.Context, tokens []string, msg Message) (Report, error) {
	var report Report
	data := stringData(msg.Data)

	for i := 0; i < len(tokens); i += fcmMulticastLimit {
		end := i + fcmMulticastLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[i:end]

		resp, err := c.Messaging.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: batch,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: data,
			Webpush: &messaging.WebpushConfig{
				Notification: &messaging.WebpushNotification{
					Title: msg.Title,
					Body:  msg.Body,
					Icon:  "/icon-192.png",
				},
			},
		})
		if err != nil {
			return report, fmt.Errorf("failed to send fcm multicast message: %w", err)
		}

		report.Sent += resp.SuccessCount
		report.Failed += resp.FailureCount
		for j, r := range resp.Responses {
			if r == nil || r.Success {
				continue
			}
			if messaging.IsUnregistered(r.Error) {
				report.Rejected = append(report.Rejected, batch[j])
			}
		}
		logging.OrNamed(c.Log, "push.fcm").Debugw("fcm multicast sent", "success", resp.SuccessCount, "failure", resp.FailureCount)
	}
	return report, nil
}

// stringData flattens the payload, FCM data values must be strings
func stringData(data map[string]interface{}) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

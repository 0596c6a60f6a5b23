package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/push"
)

// HTTPSender posts to the server-side send endpoint
type HTTPSender struct {
	URL string
	// Authorization is sent as-is in the Authorization header when set
	Authorization string
	HTTPClient    *http.Client
}

// NewHTTPSender returns a sender for url with a 10s client timeout
func NewHTTPSender(url, authorization string) *HTTPSender {
	return &HTTPSender{
		URL:           url,
		Authorization: authorization,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Send treats any 2xx as accepted
func (s *HTTPSender) Send(ctx context.Context, userID string, msg push.Message) error {
	payload, err := json.Marshal(models.SendNotificationRequest{
		Type:   "user",
		UserID: userID,
		Title:  msg.Title,
		Body:   msg.Body,
		Data:   msg.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Authorization != "" {
		req.Header.Set("Authorization", s.Authorization)
	}

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send endpoint unreachable: %v", models.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// UserPusher is the part of push.Service ServiceSender wraps
type UserPusher interface {
	SendToUser(ctx context.Context, userID string, msg push.Message) (push.Report, error)
}

// ServiceSender delivers in-process when no send endpoint URL is configured
type ServiceSender struct {
	Push UserPusher
}

// Send fails when nothing was delivered so the dispatcher falls through
func (s ServiceSender) Send(ctx context.Context, userID string, msg push.Message) error {
	report, err := s.Push.SendToUser(ctx, userID, msg)
	if err != nil {
		return err
	}
	if report.Sent == 0 {
		return fmt.Errorf("%w: no token accepted the message", models.ErrNoTokens)
	}
	return nil
}

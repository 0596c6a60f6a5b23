package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/logging"
)

const (
	// DefaultExpoURL is the Expo push API endpoint
	DefaultExpoURL = "https://exp.host/--/api/v2/push/send"
	expoBatchLimit = 100
)

type expoMessage struct {
	To        string                 `json:"to"`
	Title     string                 `json:"title,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Sound     string                 `json:"sound,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
	ChannelID string                 `json:"channelId,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data []expoTicket `json:"data"`
}

// ExpoClient sends to Expo push tokens
type ExpoClient struct {
	URL        string
	HTTPClient *http.Client
	Log        *zap.SugaredLogger
}

// NewExpoClient returns a client for url, or the public Expo endpoint when url is empty
func NewExpoClient(url string) *ExpoClient {
	if url == "" {
		url = DefaultExpoURL
	}
	return &ExpoClient{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Log:        logging.Named("push.expo"),
	}
}

// Send posts the messages in batches of 100. A failed batch counts its tokens as failed
// and the remaining batches are still sent.
func (c *ExpoClient) Send(ctx context.Context, tokens []string, msg Message) (Report, error) {
	var report Report
	if len(tokens) == 0 {
		return report, nil
	}

	for i := 0; i < len(tokens); i += expoBatchLimit {
		end := i + expoBatchLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[i:end]

		r, err := c.sendBatch(ctx, batch, msg)
		if err != nil {
			logging.OrNamed(c.Log, "push.expo").Errorw("failed to send expo push batch", "from", i, "to", end-1, "error", err)
			report.Failed += len(batch)
			continue
		}
		report.add(r)
	}
	return report, nil
}

func (c *ExpoClient) sendBatch(ctx context.Context, tokens []string, msg Message) (Report, error) {
	messages := make([]expoMessage, 0, len(tokens))
	for _, token := range tokens {
		messages = append(messages, expoMessage{
			To:        token,
			Title:     msg.Title,
			Body:      msg.Body,
			Sound:     "default",
			Data:      msg.Data,
			Priority:  "high",
			ChannelID: "default",
		})
	}

	jsonData, err := json.Marshal(messages)
	if err != nil {
		return Report{}, fmt.Errorf("failed to marshal push messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewBuffer(jsonData))
	if err != nil {
		return Report{}, fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("failed to send push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Report{}, fmt.Errorf("expo push API returned status %d", resp.StatusCode)
	}

	var body expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Report{}, fmt.Errorf("failed to decode expo response: %w", err)
	}

	var report Report
	for i, ticket := range body.Data {
		if i >= len(tokens) {
			break
		}
		if ticket.Status == "ok" {
			report.Sent++
			continue
		}
		report.Failed++
		if ticket.Details.Error == "DeviceNotRegistered" {
			report.Rejected = append(report.Rejected, tokens[i])
		}
	}
	// tickets missing from the response are unknown, count them as failed
	if len(body.Data) < len(tokens) {
		report.Failed += len(tokens) - len(body.Data)
	}
	return report, nil
}

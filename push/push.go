// Package push delivers notifications to provider tokens (Expo for native, FCM for web)
// and retires the tokens the providers reject.
package push

import (
	"context"
	"strings"
)

// Message is the payload sent to every provider
type Message struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Report counts the outcome of one send
type Report struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	// Rejected holds tokens the provider reported as no longer registered
	Rejected []string `json:"-"`
}

func (r *Report) add(o Report) {
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Rejected = append(r.Rejected, o.Rejected...)
}

// Provider sends one message to many tokens of the same provider
type Provider interface {
	Send(ctx context.Context, tokens []string, msg Message) (Report, error)
}

// IsExpoToken reports whether token was issued by Expo rather than FCM
func IsExpoToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

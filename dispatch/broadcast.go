package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/push"
)

// RealTokenPager pages through provider tokens across all users
type RealTokenPager interface {
	ListRealTokens(ctx context.Context, skip, limit int64) ([]models.PushToken, error)
}

// DirectSender sends straight to provider tokens
type DirectSender interface {
	SendToTokens(ctx context.Context, tokens []models.PushToken, msg push.Message) (push.Report, error)
}

// BroadcastResult describes a queued broadcast
type BroadcastResult struct {
	BroadcastID string `json:"broadcastId"`
	BatchID     string `json:"batchId"`
	DirectSent  int    `json:"directSent"`
}

// SendBroadcast queues a broadcast for the scheduler's fan-out. With DirectSend enabled it
// also sends to the first DirectSendLimit real tokens right away; that send is best-effort.
func (d *Dispatcher) SendBroadcast(ctx context.Context, title, body string, data map[string]interface{}, createdBy string) (BroadcastResult, error) {
	if title == "" || body == "" {
		return BroadcastResult{}, fmt.Errorf("%w: title and body are required", models.ErrInvalidArgument)
	}
	if d.Broadcasts == nil {
		return BroadcastResult{}, fmt.Errorf("%w: broadcasts are not configured", models.ErrUnavailable)
	}

	b := models.Broadcast{
		BatchID:   uuid.NewString(),
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedBy: createdBy,
		Status:    models.BroadcastPending,
		CreatedAt: d.now(),
	}
	res, err := d.Broadcasts.InsertOne(ctx, b)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("%w: failed to queue broadcast: %v", models.ErrUnavailable, err)
	}

	out := BroadcastResult{BatchID: b.BatchID}
	if id, ok := res.Decode().(primitive.ObjectID); ok {
		out.BroadcastID = id.Hex()
	}
	d.log().Infow("queued broadcast", "broadcastId", out.BroadcastID, "batchId", b.BatchID, "createdBy", createdBy)

	if d.DirectSend {
		out.DirectSent = d.directSend(ctx, push.Message{Title: title, Body: body, Data: data})
	}
	return out, nil
}

func (d *Dispatcher) directSend(ctx context.Context, msg push.Message) int {
	limit := d.DirectSendLimit
	if limit <= 0 || d.RealTokens == nil || d.Direct == nil {
		return 0
	}
	tokens, err := d.RealTokens.ListRealTokens(ctx, 0, int64(limit))
	if err != nil {
		d.log().Warnw("broadcast direct send could not list tokens", "error", err)
		return 0
	}
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	report, err := d.Direct.SendToTokens(ctx, tokens, msg)
	if err != nil {
		d.log().Warnw("broadcast direct send failed", "error", err)
		return 0
	}
	return report.Sent
}

package proximity

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/databases"
	"github.com/linesmerrill/bloodbond-api/logging"
	"github.com/linesmerrill/bloodbond-api/models"
)

// Notifier is the part of Matcher the watcher calls
type Notifier interface {
	NotifyNearbyUsers(ctx context.Context, req models.BloodRequest) (int, error)
}

type requestChange struct {
	OperationType     string              `bson:"operationType"`
	FullDocument      models.BloodRequest `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.M `bson:"updatedFields"`
	} `bson:"updateDescription"`
}

// visibilityChanged reports whether the change can make the request newly matchable.
// Edits to other fields of an already active request are ignored.
func (c requestChange) visibilityChanged() bool {
	switch c.OperationType {
	case "insert":
		return true
	case "update":
		for field := range c.UpdateDescription.UpdatedFields {
			if field == "status" || field == "location" || strings.HasPrefix(field, "location.") {
				return true
			}
		}
	}
	return false
}

// Watcher feeds requests to the matcher when they are inserted active or their status or
// location changes
type Watcher struct {
	Requests   databases.BloodRequestDatabase
	Notifier   Notifier
	RetryDelay time.Duration
	Log        *zap.SugaredLogger
}

// NewWatcher returns a Watcher that reopens a broken stream after 5s
func NewWatcher(requests databases.BloodRequestDatabase, n Notifier) *Watcher {
	return &Watcher{
		Requests:   requests,
		Notifier:   n,
		RetryDelay: 5 * time.Second,
		Log:        logging.Named("proximity.watcher"),
	}
}

func requestPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update"}}}},
			{Key: "fullDocument.status", Value: models.RequestStatusActive},
			{Key: "fullDocument.location", Value: bson.D{{Key: "$exists", Value: true}}},
		}}},
	}
}

// Run blocks until ctx is done, reopening the change stream when it fails
func (w *Watcher) Run(ctx context.Context) error {
	log := logging.OrNamed(w.Log, "proximity.watcher")
	for {
		if err := w.watch(ctx); err != nil && ctx.Err() == nil {
			log.Errorw("request change stream failed", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		t := time.NewTimer(w.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (w *Watcher) watch(ctx context.Context) error {
	log := logging.OrNamed(w.Log, "proximity.watcher")
	stream, err := w.Requests.Watch(ctx, requestPipeline(), options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var change requestChange
		if err := stream.Decode(&change); err != nil {
			log.Warnw("failed to decode request change", "error", err)
			continue
		}
		if !change.visibilityChanged() {
			continue
		}
		if _, err := w.Notifier.NotifyNearbyUsers(ctx, change.FullDocument); err != nil {
			log.Errorw("failed to notify nearby users", "requestId", change.FullDocument.ID.Hex(), "error", err)
		}
	}
	return stream.Err()
}

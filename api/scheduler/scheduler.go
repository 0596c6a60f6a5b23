package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/databases"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/push"
)

// StaleClaimAfter is how long a broadcast may sit in processing before it is requeued
const StaleClaimAfter = 15 * time.Minute

// FanOuter sends one broadcast to every real token
type FanOuter interface {
	FanOut(ctx context.Context, b models.Broadcast) (push.Report, error)
}

// Scheduler drains the broadcast queue on a cron schedule. Each run claims pending
// broadcasts one at a time, so several instances can share the queue.
type Scheduler struct {
	cron       *cron.Cron
	schedule   string
	BDB        databases.BroadcastDatabase
	Push       FanOuter
	Now        func() time.Time
	instanceID string
}

// NewScheduler creates a new scheduler instance running on schedule, e.g. "@every 1m"
func NewScheduler(schedule string, bDB databases.BroadcastDatabase, p FanOuter) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO") // Heroku sets this to "web.1", "web.2", etc.
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		schedule:   schedule,
		BDB:        bDB,
		Push:       p,
		Now:        time.Now,
		instanceID: instanceID,
	}
}

// Start registers the broadcast job and begins the scheduler
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.processBroadcasts); err != nil {
		return fmt.Errorf("failed to register broadcast job: %w", err)
	}
	s.cron.Start()
	zap.S().Infow("Broadcast scheduler started", "schedule", s.schedule, "instance", s.instanceID)
	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Broadcast scheduler stopped")
}

func (s *Scheduler) processBroadcasts() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		zap.S().Errorw("broadcast run failed", "error", err)
	}
}

// RunOnce requeues stale claims, then claims and fans out pending broadcasts until
// none are left. It returns the number of broadcasts processed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	if err := s.requeueStale(ctx); err != nil {
		zap.S().Warnw("failed to requeue stale broadcasts", "error", err)
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		b, err := s.claim(ctx)
		if err != nil {
			return processed, err
		}
		if b == nil {
			return processed, nil
		}
		s.process(ctx, *b)
		processed++
	}
}

// claim moves the oldest pending broadcast to processing, or returns nil when the queue is empty
func (s *Scheduler) claim(ctx context.Context) (*models.Broadcast, error) {
	now := s.Now()
	filter := bson.M{"status": models.BroadcastPending}
	update := bson.M{"$set": bson.M{
		"status":    models.BroadcastProcessing,
		"claimedBy": s.instanceID,
		"claimedAt": now,
	}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	b, err := s.BDB.FindOneAndUpdate(ctx, filter, update, opts)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim broadcast: %w", err)
	}
	return b, nil
}

func (s *Scheduler) process(ctx context.Context, b models.Broadcast) {
	status := models.BroadcastSent
	report, err := s.Push.FanOut(ctx, b)
	if err != nil {
		zap.S().Errorw("broadcast fan-out failed", "error", err, "broadcastId", b.ID.Hex(), "batchId", b.BatchID)
		status = models.BroadcastFailed
	}

	update := bson.M{"$set": bson.M{
		"status":      status,
		"processedAt": s.Now(),
		"sentCount":   report.Sent,
		"failedCount": report.Failed,
	}}
	if _, err := s.BDB.UpdateOne(ctx, bson.M{"_id": b.ID}, update); err != nil {
		zap.S().Errorw("failed to record broadcast result", "error", err, "broadcastId", b.ID.Hex())
		return
	}

	zap.S().Infow("Broadcast processed",
		"broadcastId", b.ID.Hex(),
		"batchId", b.BatchID,
		"status", status,
		"sent", report.Sent,
		"failed", report.Failed,
	)
}

// requeueStale returns broadcasts whose claimer died mid fan-out to the queue
func (s *Scheduler) requeueStale(ctx context.Context) error {
	cutoff := s.Now().Add(-StaleClaimAfter)
	res, err := s.BDB.UpdateMany(ctx,
		bson.M{"status": models.BroadcastProcessing, "claimedAt": bson.M{"$lt": cutoff}},
		bson.M{
			"$set":   bson.M{"status": models.BroadcastPending},
			"$unset": bson.M{"claimedBy": "", "claimedAt": ""},
		},
	)
	if err != nil {
		return err
	}
	if res != nil && res.ModifiedCount > 0 {
		zap.S().Warnw("requeued stale broadcasts", "count", res.ModifiedCount)
	}
	return nil
}

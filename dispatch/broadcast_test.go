package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/databases/mocks"
	"github.com/linesmerrill/bloodbond-api/dispatch"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/push"
)

type fakePager struct {
	tokens []models.PushToken
	limits []int64
}

func (f *fakePager) ListRealTokens(_ context.Context, skip, limit int64) ([]models.PushToken, error) {
	f.limits = append(f.limits, limit)
	return f.tokens, nil
}

type fakeDirect struct {
	got []models.PushToken
}

func (f *fakeDirect) SendToTokens(_ context.Context, tokens []models.PushToken, _ push.Message) (push.Report, error) {
	f.got = tokens
	return push.Report{Sent: len(tokens)}, nil
}

func broadcastStore(t *testing.T) (*mocks.BroadcastDatabase, primitive.ObjectID) {
	id := primitive.NewObjectID()
	res := &mocks.InsertOneResultHelper{}
	res.On("Decode").Return(id)

	db := mocks.NewBroadcastDatabase(t)
	db.On("InsertOne", mock.Anything, mock.MatchedBy(func(b models.Broadcast) bool {
		return b.Status == models.BroadcastPending && b.BatchID != "" && b.CreatedBy == "admin-1"
	})).Return(res, nil).Once()
	return db, id
}

func manyTokens(n int) []models.PushToken {
	var out []models.PushToken
	for i := 0; i < n; i++ {
		out = append(out, token("fcm"))
	}
	return out
}

func TestSendBroadcast_QueuesWithoutDirectSendByDefault(t *testing.T) {
	db, id := broadcastStore(t)
	pager, direct := &fakePager{tokens: manyTokens(3)}, &fakeDirect{}
	d := dispatch.New(nil, nil, nil, nil)
	d.Log = zap.NewNop().Sugar()
	d.Broadcasts, d.RealTokens, d.Direct = db, pager, direct

	res, err := d.SendBroadcast(context.Background(), "Blood drive", "Saturday 10am", nil, "admin-1")

	require.NoError(t, err)
	assert.Equal(t, id.Hex(), res.BroadcastID)
	assert.NotEmpty(t, res.BatchID)
	assert.Zero(t, res.DirectSent)
	assert.Empty(t, pager.limits)
	assert.Nil(t, direct.got)
}

func TestSendBroadcast_DirectSendCapped(t *testing.T) {
	db, _ := broadcastStore(t)
	pager, direct := &fakePager{tokens: manyTokens(12)}, &fakeDirect{}
	d := dispatch.New(nil, nil, nil, nil)
	d.Log = zap.NewNop().Sugar()
	d.Broadcasts, d.RealTokens, d.Direct = db, pager, direct
	d.DirectSend = true

	res, err := d.SendBroadcast(context.Background(), "Blood drive", "Saturday 10am", map[string]interface{}{"k": "v"}, "admin-1")

	require.NoError(t, err)
	assert.Equal(t, []int64{5}, pager.limits)
	assert.Len(t, direct.got, 5)
	assert.Equal(t, 5, res.DirectSent)
}

func TestSendBroadcast_Validation(t *testing.T) {
	d := dispatch.New(nil, nil, nil, nil)

	_, err := d.SendBroadcast(context.Background(), "", "body", nil, "admin-1")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = d.SendBroadcast(context.Background(), "title", "body", nil, "admin-1")
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

func TestSendBroadcast_StoreFailure(t *testing.T) {
	db := mocks.NewBroadcastDatabase(t)
	db.On("InsertOne", mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))
	d := dispatch.New(nil, nil, nil, nil)
	d.Broadcasts = db

	_, err := d.SendBroadcast(context.Background(), "title", "body", nil, "admin-1")
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

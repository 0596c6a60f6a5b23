package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mocksdb "github.com/linesmerrill/bloodbond-api/databases/mocks"
	"github.com/linesmerrill/bloodbond-api/models"
	"github.com/linesmerrill/bloodbond-api/registry"
	"github.com/linesmerrill/bloodbond-api/registry/registrytest"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// clock hands out strictly increasing times so updatedAt ordering is deterministic
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newRegistry() (*registry.Registry, *registrytest.MemTokenDB) {
	db := &registrytest.MemTokenDB{}
	r := registry.New(db)
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.Now = c.Now
	return r, db
}

func TestRegistry_RegisterTokenRequiresUserAndToken(t *testing.T) {
	r, db := newRegistry()

	err := r.RegisterToken(context.Background(), registry.Registration{Token: "abc"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	err = r.RegisterToken(context.Background(), registry.Registration{UserID: "u1"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	err = r.RegisterToken(context.Background(), registry.Registration{UserID: "u1", Token: "abc", Platform: "fax"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	assert.Empty(t, db.All())
}

func TestRegistry_RegisterTokenCreatesRecord(t *testing.T) {
	r, db := newRegistry()

	err := r.RegisterToken(context.Background(), registry.Registration{
		UserID: "u1", Token: "fcm-1", Platform: models.PlatformWeb, DeviceID: "dev-1", UserAgent: chromeUA,
	})
	require.NoError(t, err)

	all := db.All()
	require.Len(t, all, 1)
	assert.Equal(t, "u1", all[0].UserID)
	assert.Equal(t, "fcm-1", all[0].Token)
	assert.Equal(t, models.TokenKindReal, all[0].Kind)
	assert.Equal(t, "dev-1", all[0].DeviceID)
	assert.Equal(t, models.DeviceDesktop, all[0].Device)
	assert.Equal(t, models.BrowserChrome, all[0].Browser)
	assert.True(t, all[0].Active)
	assert.False(t, all[0].CreatedAt.IsZero())
}

func TestRegistry_RegisterSameDeviceTwiceUpdatesInPlace(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()

	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1", DeviceID: "dev-1"}))
	first := db.All()[0]

	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-2", DeviceID: "dev-1"}))

	active := db.Active("u1")
	require.Len(t, active, 1)
	assert.Len(t, db.All(), 1)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, "fcm-2", active[0].Token)
	assert.True(t, active[0].UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, first.CreatedAt, active[0].CreatedAt)
}

func TestRegistry_RegisterSameTokenWithoutDeviceTwice(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()

	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1"}))
	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1"}))

	assert.Len(t, db.Active("u1"), 1)
	assert.Len(t, db.All(), 1)
}

func TestRegistry_RegisterBackfillsDeviceID(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()

	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1"}))
	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1", DeviceID: "dev-1"}))

	active := db.Active("u1")
	require.Len(t, active, 1)
	assert.Equal(t, "dev-1", active[0].DeviceID)
}

func TestRegistry_RegisterKnownTokenWithoutDeviceKeepsOneRecord(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()

	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1", DeviceID: "dev-1"}))
	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1", UserAgent: chromeUA}))

	active := db.Active("u1")
	require.Len(t, active, 1)
	assert.Len(t, db.All(), 1)
	assert.Equal(t, "dev-1", active[0].DeviceID)
	assert.Equal(t, chromeUA, active[0].UserAgent)
}

func TestRegistry_RegisterReactivatesDeactivatedDevice(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()

	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1", DeviceID: "dev-1"}))
	_, err := r.UnregisterToken(ctx, "u1", "", "dev-1")
	require.NoError(t, err)
	require.Empty(t, db.Active("u1"))

	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-2", DeviceID: "dev-1"}))

	active := db.Active("u1")
	require.Len(t, active, 1)
	assert.Nil(t, active[0].DeactivatedAt)
	assert.Len(t, db.All(), 1)
}

func TestRegistry_SentinelTokensAreTagged(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()

	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: models.IOSSafariFallbackToken, DeviceID: "iphone"}))
	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: models.BrowserDirectNotificationToken, DeviceID: "laptop"}))

	kinds := map[string]models.TokenKind{}
	for _, tok := range db.Active("u1") {
		kinds[tok.DeviceID] = tok.Kind
	}
	assert.Equal(t, models.TokenKindIOSSafariFallback, kinds["iphone"])
	assert.Equal(t, models.TokenKindBrowserFallback, kinds["laptop"])
}

func TestRegistry_ConcurrentRegistrationKeepsOneRecord(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1", DeviceID: "dev-1"}))
		}()
	}
	wg.Wait()

	assert.Len(t, db.Active("u1"), 1)
}

func TestRegistry_UnregisterRequiresTokenOrDevice(t *testing.T) {
	r, _ := newRegistry()

	_, err := r.UnregisterToken(context.Background(), "u1", "", "")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = r.UnregisterToken(context.Background(), "", "fcm-1", "")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestRegistry_UnregisterByDeviceOnlyTouchesThatUser(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()
	now := time.Now()

	db.Seed(
		models.PushToken{UserID: "u1", Token: "a", DeviceID: "shared", Active: true, UpdatedAt: now},
		models.PushToken{UserID: "u1", Token: "b", DeviceID: "shared", Active: true, UpdatedAt: now},
		models.PushToken{UserID: "u1", Token: "c", DeviceID: "other", Active: true, UpdatedAt: now},
		models.PushToken{UserID: "u2", Token: "d", DeviceID: "shared", Active: true, UpdatedAt: now},
	)

	n, err := r.UnregisterToken(ctx, "u1", "", "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	u1 := db.Active("u1")
	require.Len(t, u1, 1)
	assert.Equal(t, "other", u1[0].DeviceID)
	assert.Len(t, db.Active("u2"), 1)

	for _, tok := range db.All() {
		if !tok.Active {
			assert.NotNil(t, tok.DeactivatedAt)
		}
	}
}

func TestRegistry_UnregisterByToken(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()

	require.NoError(t, r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1"}))
	n, err := r.UnregisterToken(ctx, "u1", "fcm-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, db.Active("u1"))
	assert.Len(t, db.All(), 1, "soft delete keeps the row")
}

func TestRegistry_UnregisterNoMatchIsNoop(t *testing.T) {
	r, _ := newRegistry()

	n, err := r.UnregisterToken(context.Background(), "nobody", "", "dev-x")
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_ListActiveTokensNewestFirst(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	db.Seed(
		models.PushToken{UserID: "u1", Token: "old", DeviceID: "d1", Active: true, UpdatedAt: base},
		models.PushToken{UserID: "u1", Token: "new", DeviceID: "d2", Active: true, UpdatedAt: base.Add(time.Hour)},
		models.PushToken{UserID: "u1", Token: "gone", DeviceID: "d3", Active: false, UpdatedAt: base.Add(2 * time.Hour)},
	)

	tokens, err := r.ListActiveTokens(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "new", tokens[0].Token)
	assert.Equal(t, "old", tokens[1].Token)
	for _, tok := range tokens {
		assert.True(t, tok.Active)
	}
}

func TestRegistry_DeactivateTokens(t *testing.T) {
	r, db := newRegistry()
	ctx := context.Background()

	db.Seed(
		models.PushToken{UserID: "u1", Token: "bad", Active: true},
		models.PushToken{UserID: "u2", Token: "bad", Active: true},
		models.PushToken{UserID: "u2", Token: "good", Active: true},
	)

	require.NoError(t, r.DeactivateTokens(ctx, []string{"bad"}))
	assert.Empty(t, db.Active("u1"))
	require.Len(t, db.Active("u2"), 1)
	assert.Equal(t, "good", db.Active("u2")[0].Token)

	assert.NoError(t, r.DeactivateTokens(ctx, nil))
}

func TestRegistry_StoreFailureIsUnavailable(t *testing.T) {
	db := &mocksdb.PushTokenDatabase{}
	db.On("FindOne", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	db.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	db.On("UpdateMany", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	r := registry.New(db)
	ctx := context.Background()

	err := r.RegisterToken(ctx, registry.Registration{UserID: "u1", Token: "fcm-1", DeviceID: "dev-1"})
	assert.ErrorIs(t, err, models.ErrUnavailable)

	_, err = r.ListActiveTokens(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrUnavailable)

	_, err = r.UnregisterToken(ctx, "u1", "fcm-1", "")
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

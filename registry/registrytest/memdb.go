// Package registrytest provides an in-memory PushTokenDatabase that understands the
// filters and updates the registry issues.
package registrytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/bloodbond-api/models"
)

// MemTokenDB is safe for concurrent use. It enforces one active record per
// (userId, deviceId) the way the unique partial index does.
type MemTokenDB struct {
	mu   sync.Mutex
	docs []models.PushToken
	// Err, when set, is returned by every call
	Err error
}

// Seed inserts records as-is, assigning ids where missing
func (m *MemTokenDB) Seed(tokens ...models.PushToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokens {
		if t.ID.IsZero() {
			t.ID = primitive.NewObjectID()
		}
		m.docs = append(m.docs, t)
	}
}

// All returns a copy of every stored record
func (m *MemTokenDB) All() []models.PushToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PushToken, len(m.docs))
	copy(out, m.docs)
	return out
}

// Active returns the active records for userID
func (m *MemTokenDB) Active(userID string) []models.PushToken {
	var out []models.PushToken
	for _, t := range m.All() {
		if t.UserID == userID && t.Active {
			out = append(out, t)
		}
	}
	return out
}

func (m *MemTokenDB) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) (*models.PushToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	found := m.matching(filter.(bson.M))
	if len(found) == 0 {
		return nil, mongo.ErrNoDocuments
	}
	t := m.docs[found[0]]
	return &t, nil
}

func (m *MemTokenDB) Find(_ context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.PushToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.PushToken
	for _, i := range m.matching(filter.(bson.M)) {
		out = append(out, m.docs[i])
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Skip != nil {
			if int(*o.Skip) >= len(out) {
				out = nil
			} else {
				out = out[*o.Skip:]
			}
		}
		if o.Limit != nil && int(*o.Limit) < len(out) {
			out = out[:*o.Limit]
		}
	}
	return out, nil
}

func (m *MemTokenDB) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	f, u := filter.(bson.M), update.(bson.M)
	found := m.matching(f)
	if len(found) > 0 {
		next := m.docs[found[0]]
		apply(&next, u, false)
		if err := m.checkUnique(next, found[0]); err != nil {
			return nil, err
		}
		m.docs[found[0]] = next
		return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}

	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil && *o.Upsert {
			upsert = true
		}
	}
	if !upsert {
		return &mongo.UpdateResult{}, nil
	}
	doc := models.PushToken{ID: primitive.NewObjectID()}
	for k, v := range f {
		if _, isOp := v.(bson.M); !isOp {
			setField(&doc, k, v)
		}
	}
	apply(&doc, u, true)
	if err := m.checkUnique(doc, -1); err != nil {
		return nil, err
	}
	m.docs = append(m.docs, doc)
	return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: doc.ID}, nil
}

func (m *MemTokenDB) UpdateMany(_ context.Context, filter interface{}, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	found := m.matching(filter.(bson.M))
	for _, i := range found {
		apply(&m.docs[i], update.(bson.M), false)
	}
	return &mongo.UpdateResult{MatchedCount: int64(len(found)), ModifiedCount: int64(len(found))}, nil
}

func (m *MemTokenDB) EnsureIndexes(context.Context) error {
	return m.Err
}

func (m *MemTokenDB) checkUnique(doc models.PushToken, self int) error {
	if !doc.Active || doc.DeviceID == "" {
		return nil
	}
	for i, other := range m.docs {
		if i != self && other.Active && other.UserID == doc.UserID && other.DeviceID == doc.DeviceID {
			return mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}
		}
	}
	return nil
}

// matching returns indexes of matching docs, newest updatedAt first
func (m *MemTokenDB) matching(filter bson.M) []int {
	var idx []int
	for i, d := range m.docs {
		if matches(d, filter) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return m.docs[idx[a]].UpdatedAt.After(m.docs[idx[b]].UpdatedAt)
	})
	return idx
}

func matches(d models.PushToken, filter bson.M) bool {
	for k, want := range filter {
		got, exists := field(d, k)
		switch w := want.(type) {
		case bson.M:
			if e, ok := w["$exists"]; ok && e.(bool) != exists {
				return false
			}
			if in, ok := w["$in"]; ok {
				hit := false
				for _, v := range in.([]string) {
					if fmt.Sprint(got) == v {
						hit = true
					}
				}
				if !hit {
					return false
				}
			}
		default:
			if !exists || fmt.Sprint(got) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}

func field(d models.PushToken, key string) (interface{}, bool) {
	switch key {
	case "_id":
		return d.ID, true
	case "userId":
		return d.UserID, true
	case "token":
		return d.Token, true
	case "kind":
		return d.Kind, true
	case "deviceId":
		return d.DeviceID, d.DeviceID != ""
	case "active":
		return d.Active, true
	case "platform":
		return d.Platform, true
	}
	panic("registrytest: unsupported filter field " + key)
}

func apply(d *models.PushToken, update bson.M, inserting bool) {
	if set, ok := update["$set"].(bson.M); ok {
		for k, v := range set {
			setField(d, k, v)
		}
	}
	if unset, ok := update["$unset"].(bson.M); ok {
		for k := range unset {
			setField(d, k, nil)
		}
	}
	if soi, ok := update["$setOnInsert"].(bson.M); ok && inserting {
		for k, v := range soi {
			setField(d, k, v)
		}
	}
}

func setField(d *models.PushToken, key string, v interface{}) {
	switch key {
	case "userId":
		d.UserID = v.(string)
	case "token":
		d.Token = v.(string)
	case "kind":
		d.Kind = v.(models.TokenKind)
	case "deviceId":
		d.DeviceID = v.(string)
	case "platform":
		d.Platform = v.(models.Platform)
	case "device":
		d.Device = v.(models.DeviceClass)
	case "browser":
		d.Browser = v.(models.Browser)
	case "userAgent":
		d.UserAgent = v.(string)
	case "active":
		d.Active = v.(bool)
	case "createdAt":
		d.CreatedAt = v.(time.Time)
	case "updatedAt":
		d.UpdatedAt = v.(time.Time)
	case "deactivatedAt":
		if v == nil {
			d.DeactivatedAt = nil
			return
		}
		at := v.(time.Time)
		d.DeactivatedAt = &at
	}
}

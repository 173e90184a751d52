package tripcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/SafeArrival/internal/cache"
	"github.com/BearBump/SafeArrival/internal/models"
	"github.com/BearBump/SafeArrival/internal/storage"
)

// Cache is a read-through JSON snapshot cache in front of the store.
// It is best-effort: cache failures fall back to the store.
type Cache struct {
	store storage.Store
	bytes cache.BytesCache
	ttl   time.Duration
}

func New(store storage.Store, bytes cache.BytesCache, ttl time.Duration) *Cache {
	return &Cache{store: store, bytes: bytes, ttl: ttl}
}

func (c *Cache) enabled() bool { return c.bytes != nil && c.ttl > 0 }

func (c *Cache) Get(ctx context.Context, id string) (*models.Trip, error) {
	if c.enabled() {
		b, ok, err := c.bytes.Get(ctx, Key(id))
		if err == nil && ok {
			var t models.Trip
			if json.Unmarshal(b, &t) == nil {
				return &t, nil
			}
		}
	}

	t, err := c.store.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Put(ctx, t)
	return t, nil
}

func (c *Cache) Put(ctx context.Context, t *models.Trip) {
	if !c.enabled() || t == nil {
		return
	}
	b, _ := json.Marshal(t)
	if err := c.bytes.Set(ctx, Key(t.ID), b, c.ttl); err != nil {
		slog.Warn("trip cache set failed", "trip_id", t.ID, "err", err)
	}
}

func (c *Cache) Invalidate(ctx context.Context, id string) {
	if !c.enabled() {
		return
	}
	if err := c.bytes.Delete(ctx, Key(id)); err != nil {
		slog.Warn("trip cache invalidate failed", "trip_id", id, "err", err)
	}
}

func Key(id string) string {
	return fmt.Sprintf("trip:%s:current", id)
}

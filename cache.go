package huntingcorner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Cache keys used by the feed sub-clients.
const (
	CacheTimelinePosts = "timeline_posts"
	CacheAds           = "ads_page"
	CacheNotifications = "notifications"
)

// CacheEntry is the persisted form of a cached payload.
type CacheEntry struct {
	Data     json.RawMessage `json:"data"`
	StoredAt time.Time       `json:"storedAt"`
}

// Cache stores JSON payloads with a fixed time-to-live. It never returns
// storage errors: failures are logged and treated as a miss.
type Cache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewCache wraps store. The cache owns every key in store, so callers
// normally pass a Namespace view.
func NewCache(store Store, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{store: store, ttl: ttl, now: time.Now, logger: logger}
}

// Get decodes the entry for key into out. It reports false when the entry is
// missing, unreadable, or older than the TTL; expired entries are evicted.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
		return false
	}
	if !ok {
		return false
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache entry corrupt, evicting")
		c.Remove(ctx, key)
		return false
	}
	if c.now().Sub(entry.StoredAt) > c.ttl {
		c.Remove(ctx, key)
		return false
	}
	if out != nil {
		if err := json.Unmarshal(entry.Data, out); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache decode failed")
			return false
		}
	}
	return true
}

// Set stores data as plain JSON stamped with the current time.
func (c *Cache) Set(ctx context.Context, key string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache serialize failed")
		return
	}
	entry, err := json.Marshal(CacheEntry{Data: payload, StoredAt: c.now()})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache serialize failed")
		return
	}
	if err := c.store.Set(ctx, key, string(entry)); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (c *Cache) Remove(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache remove failed")
	}
}

func (c *Cache) Clear(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("cache clear failed")
	}
}

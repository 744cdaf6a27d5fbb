package geoloc

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// CacheConfig configures a CachedGeocoder.
type CacheConfig struct {
	Next   Geocoder
	Client *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
}

// CachedGeocoder keeps successful, non-empty geocoding answers in Redis.
// Cache failures are logged and fall through to the wrapped geocoder.
type CachedGeocoder struct {
	next   Geocoder
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedGeocoder validates cfg and builds the cache.
func NewCachedGeocoder(cfg CacheConfig) (*CachedGeocoder, error) {
	if cfg.Next == nil {
		return nil, errors.New("wrapped geocoder cannot be nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &CachedGeocoder{next: cfg.Next, client: cfg.Client, ttl: cfg.TTL, logger: cfg.Logger}, nil
}

// CacheKey returns the Redis key used for query.
func CacheKey(query string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.Join(strings.Fields(query), " "))))
	return "ipdr:geocode:" + hex.EncodeToString(sum[:])
}

// Geocode serves query from Redis when possible.
func (c *CachedGeocoder) Geocode(ctx context.Context, query string) ([]Place, error) {
	key := CacheKey(query)

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var places []Place
		if jsonErr := json.Unmarshal([]byte(val), &places); jsonErr == nil {
			return places, nil
		}
		c.logger.Warn("dropping corrupt geocode cache entry", "key", key)
		_ = c.client.Del(ctx, key).Err()
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("geocode cache read failed", "error", err)
	}

	places, err := c.next.Geocode(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return places, nil
	}

	data, err := json.Marshal(places)
	if err == nil {
		err = c.client.Set(ctx, key, data, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn("geocode cache write failed", "error", err)
	}
	return places, nil
}

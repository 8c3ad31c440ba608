package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dipwatcher/internal/config"
	"dipwatcher/internal/storage"
)

// Cache keeps the latest prices and market status in Redis for the
// presentation/API layer. All methods are nil-receiver safe so the
// pipeline runs unchanged when caching is disabled.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// ErrMiss indicates the requested key was absent or expired.
var ErrMiss = errors.New("cache: miss")

// New connects to Redis and verifies connectivity. Returns (nil, nil)
// when caching is disabled.
func New(cfg config.CacheConfig, logger zerolog.Logger) (*Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "cache").Logger(),
	}, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// SetLatestPrice caches the newest observation for a symbol.
func (c *Cache) SetLatestPrice(ctx context.Context, point storage.PricePoint) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(point)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("latest:%s:%s", point.Market, point.Symbol)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache latest price: %w", err)
	}
	return nil
}

// LatestPrice reads the cached newest observation for a symbol.
func (c *Cache) LatestPrice(ctx context.Context, mkt, symbol string) (storage.PricePoint, error) {
	if c == nil {
		return storage.PricePoint{}, ErrMiss
	}

	key := fmt.Sprintf("latest:%s:%s", mkt, symbol)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.PricePoint{}, ErrMiss
		}
		return storage.PricePoint{}, fmt.Errorf("read latest price: %w", err)
	}

	var point storage.PricePoint
	if err := json.Unmarshal(data, &point); err != nil {
		return storage.PricePoint{}, fmt.Errorf("decode latest price: %w", err)
	}
	return point, nil
}

// SetMarketStatus caches a market's status document. The payload shape is
// owned by the health package; the cache only round-trips JSON.
func (c *Cache) SetMarketStatus(ctx context.Context, mkt string, status any) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("status:%s", mkt)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache market status: %w", err)
	}
	return nil
}

// MarketStatus reads a market's cached status document into out.
func (c *Cache) MarketStatus(ctx context.Context, mkt string, out any) error {
	if c == nil {
		return ErrMiss
	}

	key := fmt.Sprintf("status:%s", mkt)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return fmt.Errorf("read market status: %w", err)
	}
	return json.Unmarshal(data, out)
}

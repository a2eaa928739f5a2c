package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
)

const (
	catalogKeyPrefix    = "catalog:"
	orderKeyPrefix      = "order:"
	userOrdersPrefix    = "user_orders:"
	userOrdersIndexPref = "user_orders_keys:"
	defaultCacheTTL     = 5 * time.Minute
)

// CatalogCache caches catalog records for the read paths (preview, calculate).
// The commit path never reads it.
type CatalogCache interface {
	GetRecords(ctx context.Context, keys []RecordKey) (map[RecordKey]*pricing.CatalogRecord, error)
	SetRecords(ctx context.Context, records map[RecordKey]*pricing.CatalogRecord) error
	InvalidateRecords(ctx context.Context, keys ...RecordKey) error
}

// OrderCache caches committed orders and per-user order pages.
type OrderCache interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	SetOrder(ctx context.Context, order *models.Order) error
	GetUserOrders(ctx context.Context, filter models.OrderListFilter) (*OrderPage, error)
	SetUserOrders(ctx context.Context, filter models.OrderListFilter, page *OrderPage) error
	InvalidateUser(ctx context.Context, userID string) error
}

// OrderPage is a cached page of a user's orders.
type OrderPage struct {
	Orders []*models.Order `json:"orders"`
	Total  int             `json:"total"`
}

// RedisCache implements CatalogCache and OrderCache using Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisCache creates a new Redis-based cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisCache {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func catalogKey(k RecordKey) string {
	return catalogKeyPrefix + string(k.Type) + ":" + k.ID
}

func userOrdersKey(f models.OrderListFilter) string {
	return userOrdersPrefix + f.UserID + ":" + strconv.Itoa(f.Limit) + ":" + strconv.Itoa(f.Offset)
}

// GetRecords returns the cached records among keys. Misses are absent from the result.
func (c *RedisCache) GetRecords(ctx context.Context, keys []RecordKey) (map[RecordKey]*pricing.CatalogRecord, error) {
	result := make(map[RecordKey]*pricing.CatalogRecord, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = catalogKey(k)
	}

	values, err := c.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		c.logger.Error("Cache get error", logging.Fields{
			"keys":  len(keys),
			"error": err.Error(),
		})
		return nil, err
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec pricing.CatalogRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			c.logger.Warn("Dropping undecodable cached record", logging.Fields{
				"key":   redisKeys[i],
				"error": err.Error(),
			})
			continue
		}
		result[keys[i]] = &rec
	}

	c.logger.Debug("Catalog cache lookup", logging.Fields{
		"requested": len(keys),
		"hits":      len(result),
	})
	return result, nil
}

// SetRecords caches records with the configured TTL.
func (c *RedisCache) SetRecords(ctx context.Context, records map[RecordKey]*pricing.CatalogRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for k, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		pipe.Set(ctx, catalogKey(k), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Cache set error", logging.Fields{
			"records": len(records),
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

// InvalidateRecords drops cached catalog records.
func (c *RedisCache) InvalidateRecords(ctx context.Context, keys ...RecordKey) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = catalogKey(k)
	}
	if err := c.client.Del(ctx, redisKeys...).Err(); err != nil {
		c.logger.Error("Cache delete error", logging.Fields{
			"keys":  len(keys),
			"error": err.Error(),
		})
		return err
	}
	c.logger.Debug("Catalog records invalidated", logging.Fields{"keys": len(keys)})
	return nil
}

// GetOrder retrieves an order from cache. A miss returns nil, nil.
func (c *RedisCache) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	data, err := c.client.Get(ctx, orderKeyPrefix+id).Bytes()
	if err == redis.Nil {
		c.logger.Debug("Cache miss", logging.Fields{"order_id": id})
		return nil, nil
	}
	if err != nil {
		c.logger.Error("Cache get error", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}

	c.logger.Debug("Cache hit", logging.Fields{"order_id": id})
	return &order, nil
}

// SetOrder stores an order in cache.
func (c *RedisCache) SetOrder(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, orderKeyPrefix+order.ID, data, c.ttl).Err(); err != nil {
		c.logger.Error("Cache set error", logging.Fields{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return err
	}

	c.logger.Debug("Order cached", logging.Fields{
		"order_id": order.ID,
		"ttl":      c.ttl.String(),
	})
	return nil
}

// GetUserOrders retrieves a cached page of a user's orders. A miss returns nil, nil.
func (c *RedisCache) GetUserOrders(ctx context.Context, filter models.OrderListFilter) (*OrderPage, error) {
	data, err := c.client.Get(ctx, userOrdersKey(filter)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var page OrderPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SetUserOrders caches a page of a user's orders and indexes its key so that
// InvalidateUser can find every cached page.
func (c *RedisCache) SetUserOrders(ctx context.Context, filter models.OrderListFilter, page *OrderPage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return err
	}

	key := userOrdersKey(filter)
	index := userOrdersIndexPref + filter.UserID

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, c.ttl)
		return nil
	})
	return err
}

// InvalidateUser removes every cached order page of a user.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) error {
	index := userOrdersIndexPref + userID

	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	keys = append(keys, index)
	return c.client.Del(ctx, keys...).Err()
}

// CachedCatalog reads catalog records through a cache, falling back to the
// store for misses and back-filling the cache with what it found.
type CachedCatalog struct {
	store  CatalogRepository
	cache  CatalogCache
	logger *logging.Logger
}

// NewCachedCatalog creates a read-through catalog.
func NewCachedCatalog(store CatalogRepository, cache CatalogCache, logger *logging.Logger) *CachedCatalog {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CachedCatalog{store: store, cache: cache, logger: logger}
}

// GetRecords implements CatalogRepository. Cache errors degrade to a store read.
func (c *CachedCatalog) GetRecords(ctx context.Context, keys []RecordKey) (map[RecordKey]*pricing.CatalogRecord, error) {
	cached, err := c.cache.GetRecords(ctx, keys)
	if err != nil {
		c.logger.Warn("Catalog cache unavailable, reading store", logging.Fields{"error": err.Error()})
		cached = nil
	}

	var missing []RecordKey
	for _, k := range keys {
		if _, ok := cached[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return cached, nil
	}

	loaded, err := c.store.GetRecords(ctx, missing)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetRecords(ctx, loaded); err != nil {
		c.logger.Warn("Failed to back-fill catalog cache", logging.Fields{"error": err.Error()})
	}

	result := make(map[RecordKey]*pricing.CatalogRecord, len(cached)+len(loaded))
	for k, v := range cached {
		result[k] = v
	}
	for k, v := range loaded {
		result[k] = v
	}
	return result, nil
}

package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bundle-packager/conf"
	"bundle-packager/logger"

	"github.com/redis/go-redis/v9"
)

var (
	RedisClient *redis.Client
	ctx         = context.Background()
)

// InitRedis initialize Redis client
func InitRedis() error {
	if conf.Cfg == nil || !conf.Cfg.Redis.Enabled {
		logger.Logger().Info("Redis is disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", conf.Cfg.Redis.Host, conf.Cfg.Redis.Port),
		Password: conf.Cfg.Redis.Password,
		DB:       conf.Cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Logger().Warnf("Failed to connect to Redis, cache and pub/sub disabled: %v", err)
		_ = client.Close()
		return err
	}

	RedisClient = client
	logger.Logger().Infof("Redis connected: %s:%d (DB: %d, TTL: %ds)",
		conf.Cfg.Redis.Host, conf.Cfg.Redis.Port, conf.Cfg.Redis.DB, conf.Cfg.Redis.CacheTTL)
	return nil
}

// CloseRedis close Redis connection
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// IsRedisEnabled check if Redis is enabled and connected
func IsRedisEnabled() bool {
	return RedisClient != nil
}

func cacheTTL() time.Duration {
	if conf.Cfg == nil || conf.Cfg.Redis.CacheTTL <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(conf.Cfg.Redis.CacheTTL) * time.Second
}

// SetCache set cache with TTL
func SetCache(key string, value interface{}) error {
	if RedisClient == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := RedisClient.Set(ctx, key, data, cacheTTL()).Err(); err != nil {
		logger.Logger().Warnf("Failed to set cache for key %s: %v", key, err)
		return err
	}
	return nil
}

// GetCache get cache by key, redis.Nil on miss or when disabled
func GetCache(key string, dest interface{}) error {
	if RedisClient == nil {
		return redis.Nil
	}

	data, err := RedisClient.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return nil
}

// DeleteCache delete cache by key
func DeleteCache(key string) error {
	if RedisClient == nil {
		return nil
	}

	if err := RedisClient.Del(ctx, key).Err(); err != nil {
		logger.Logger().Warnf("Failed to delete cache for key %s: %v", key, err)
		return err
	}
	return nil
}

// Publish publish a JSON payload on channel
func Publish(channel string, value interface{}) error {
	if RedisClient == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return RedisClient.Publish(ctx, channel, data).Err()
}

// Subscribe subscribe to channel, the returned func closes the subscription.
// Returns nil channel when Redis is disabled.
func Subscribe(c context.Context, channel string) (<-chan *redis.Message, func() error) {
	if RedisClient == nil {
		return nil, func() error { return nil }
	}

	sub := RedisClient.Subscribe(c, channel)
	return sub.Channel(), sub.Close
}

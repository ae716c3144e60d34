package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"AtmoMix/model"

	"github.com/go-redis/redis/v8"
)

const (
	atmosphereDetailKey    = "atmosphere:%d:detail" // String: AtmosphereWithSounds JSON
	atmosphereIntegrityKey = "atmosphere:integrity" // Hash: atmosphereID -> AtmosphereIntegrity JSON
	defaultAtmosphereTTL   = 10 * time.Minute
)

// AtmosphereCache 氛围详情与完整性结果缓存
type AtmosphereCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAtmosphereCache 创建氛围缓存，ttl<=0 时使用默认值
func NewAtmosphereCache(client *redis.Client, ttl time.Duration) *AtmosphereCache {
	if ttl <= 0 {
		ttl = defaultAtmosphereTTL
	}
	return &AtmosphereCache{client: client, ttl: ttl}
}

// ========== 详情 ==========

// GetDetail 未命中时返回 nil, nil
func (c *AtmosphereCache) GetDetail(ctx context.Context, id int64) (*model.AtmosphereWithSounds, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := c.client.Get(ctx, fmt.Sprintf(atmosphereDetailKey, id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var detail model.AtmosphereWithSounds
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("failed to unmarshal atmosphere detail: %w", err)
	}
	return &detail, nil
}

// SetDetail 写入详情
func (c *AtmosphereCache) SetDetail(ctx context.Context, detail *model.AtmosphereWithSounds) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal atmosphere detail: %w", err)
	}
	return c.client.Set(ctx, fmt.Sprintf(atmosphereDetailKey, detail.Atmosphere.ID), data, c.ttl).Err()
}

// ========== 完整性 ==========

// GetIntegrity 未命中时返回 nil, nil
func (c *AtmosphereCache) GetIntegrity(ctx context.Context, id int64) (*model.AtmosphereIntegrity, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := c.client.HGet(ctx, atmosphereIntegrityKey, strconv.FormatInt(id, 10)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var integrity model.AtmosphereIntegrity
	if err := json.Unmarshal(data, &integrity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal integrity: %w", err)
	}
	return &integrity, nil
}

// SetIntegrity 写入完整性结果
func (c *AtmosphereCache) SetIntegrity(ctx context.Context, integrity *model.AtmosphereIntegrity) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(integrity)
	if err != nil {
		return fmt.Errorf("failed to marshal integrity: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, atmosphereIntegrityKey, strconv.FormatInt(integrity.AtmosphereID, 10), data)
	pipe.Expire(ctx, atmosphereIntegrityKey, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// ========== 失效 ==========

// Invalidate 删除某个氛围的全部缓存
func (c *AtmosphereCache) Invalidate(ctx context.Context, id int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(atmosphereDetailKey, id))
	pipe.HDel(ctx, atmosphereIntegrityKey, strconv.FormatInt(id, 10))
	_, err := pipe.Exec(ctx)
	return err
}

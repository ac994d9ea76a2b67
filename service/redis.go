package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/model"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

// RedisService 分割结果缓存，同一文件同一策略的重复请求直接命中
type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetMasks 读取缓存的掩码列表，未命中返回nil
func (s *RedisService) GetMasks(ctx context.Context, key string) ([]model.MaskInfo, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var masks []model.MaskInfo
	if err := json.Unmarshal(data, &masks); err != nil {
		utils.Logger.Error("failed to unmarshal cached masks",
			zap.String("key", key), zap.Error(err))
		return nil, err
	}

	return masks, nil
}

// SetMasks 写入掩码列表缓存
func (s *RedisService) SetMasks(ctx context.Context, key string, masks []model.MaskInfo) error {
	data, err := json.Marshal(masks)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

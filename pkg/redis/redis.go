package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gerges15/minia-it-department-sub001/config"
)

// ErrNil 键不存在
var ErrNil = errors.New("redis: 键不存在")

// Client Redis 客户端封装
// 当前用于本地时间表缓存的共享存储（多个终端共用同一份当前时间表）
type Client struct {
	rdb    *goredis.Client
	prefix string
	logger *zap.Logger
}

// NewClient 创建 Redis 连接并执行 Ping 健康检查
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Addr))

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix, logger: logger}, nil
}

// Get 读取键值，键不存在时返回 ErrNil
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set 写入键值（不过期）
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	return c.rdb.Set(ctx, c.prefix+key, value, 0).Err()
}

// Del 删除键，键不存在时不报错
func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
